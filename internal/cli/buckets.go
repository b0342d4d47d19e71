package cli

import (
	"context"

	"github.com/arencloud/bucketwarden/internal/deletion"
	"github.com/arencloud/bucketwarden/internal/naming"
	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/spf13/cobra"
)

type sizeReport struct {
	Bucket string `json:"bucket"`
	Bytes  int64  `json:"bytes"`
	Human  string `json:"human"`
}

func (a *app) bucketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "buckets",
		Aliases: []string{"bucket"},
		Short:   "List, create and delete buckets",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List buckets with region and item presence",
		Args:  cobra.NoArgs,
		RunE: a.run("buckets list", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, _ []string) error {
			res, err := gw.ListResources(ctx)
			if err != nil {
				return err
			}
			if res == nil {
				res = []storage.Resource{}
			}
			return printJSON(cmd, res)
		}),
	}

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a bucket",
		Example: `  bucketctl buckets create reports
  bucketctl buckets create reports --region eu-west-1`,
		Args: cobra.ExactArgs(1),
		RunE: a.run("buckets create", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			region, _ := cmd.Flags().GetString("region")
			if region == "" {
				region = a.cfg.DefaultRegion
			}
			if err := gw.CreateResource(ctx, args[0], region); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"name": args[0], "region": region})
		}),
	}
	create.Flags().String("region", "", "Region for the new bucket (defaults to DEFAULT_REGION)")

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an empty bucket",
		Long: `Delete an empty bucket. When access points block the removal their names
are reported and nothing is deleted; rerun with --force to remove the access
points first. An account id is required for --force.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run("buckets delete", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			orch := deletion.New(gw, a.accountID(cmd), a.logger)
			var (
				out deletion.Outcome
				err error
			)
			if force {
				out, err = orch.ForceDelete(ctx, args[0])
			} else {
				out, err = orch.Delete(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		}),
	}
	del.Flags().BoolP("force", "f", false, "Remove blocking access points before deleting")

	size := &cobra.Command{
		Use:   "size NAME",
		Short: "Sum the object sizes of a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: a.run("buckets size", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			if err := naming.Bucket(args[0]); err != nil {
				return err
			}
			n := storage.TotalBytes(ctx, gw, args[0])
			return printJSON(cmd, sizeReport{Bucket: args[0], Bytes: n, Human: formatBytes(n)})
		}),
	}

	points := &cobra.Command{
		Use:   "access-points NAME",
		Short: "List access points attached to a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: a.run("buckets access-points", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			if err := naming.Bucket(args[0]); err != nil {
				return err
			}
			acct := a.accountID(cmd)
			if acct == "" {
				return storage.Errorf(storage.KindConfigMissing, "list access points", "AWS_ACCOUNT_ID is not configured")
			}
			return printJSON(cmd, gw.ListDependents(ctx, args[0], acct))
		}),
	}

	cmd.AddCommand(list, create, del, size, points)
	return cmd
}
