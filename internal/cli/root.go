// Package cli implements bucketctl, the operator command line over the same
// gateway and deletion workflow the HTTP API uses.
package cli

import (
	"context"
	"time"

	"github.com/arencloud/bucketwarden/internal/config"
	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/s3"
	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/spf13/cobra"
)

// Opener builds the gateway a command talks to.
type Opener func(ctx context.Context, cfg *config.Config, logger logging.Logger) (storage.Gateway, error)

// OpenProvider validates cfg and opens the provider it configures.
func OpenProvider(ctx context.Context, cfg *config.Config, logger logging.Logger) (storage.Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return s3.Open(ctx, s3.ProviderFromConfig(cfg), logger)
}

type app struct {
	cfg    *config.Config
	open   Opener
	logger logging.Logger
}

// NewRootCmd assembles the bucketctl command tree.
func NewRootCmd(cfg *config.Config, open Opener) *cobra.Command {
	a := &app{cfg: cfg, open: open, logger: logging.Nop()}
	root := &cobra.Command{
		Use:   "bucketctl",
		Short: "Administer buckets, objects and access points",
		Long: `bucketctl manages buckets and objects on the configured storage provider.
Configuration is loaded from .env file or environment variables, the same way
the server reads it. Results and errors are printed as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if isVerbose(cmd) {
				a.logger = logging.New(cfg.Env)
			}
		},
	}
	root.PersistentFlags().Int("timeout", 300, "Timeout in seconds for the operation")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	root.PersistentFlags().String("account", "", "Override the account id used for access points")

	root.AddCommand(a.bucketsCmd(), a.objectsCmd(), a.presignCmd())
	return root
}

// Execute runs bucketctl against the configured provider.
func Execute(cfg *config.Config) error {
	return NewRootCmd(cfg, OpenProvider).Execute()
}

func isVerbose(cmd *cobra.Command) bool {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return verbose
}

func (a *app) accountID(cmd *cobra.Command) string {
	if acct, _ := cmd.Flags().GetString("account"); acct != "" {
		return acct
	}
	return a.cfg.AccountID
}

// gateway opens the provider under the --timeout deadline. The returned
// cancel must be called once the command is done.
func (a *app) gateway(cmd *cobra.Command) (context.Context, storage.Gateway, context.CancelFunc, error) {
	secs, _ := cmd.Flags().GetInt("timeout")
	if secs <= 0 {
		secs = 300
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(secs)*time.Second)
	gw, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, gw, cancel, nil
}

// run wraps a command body so every failure is printed as a JSON error and
// reflected in the exit status.
func (a *app) run(name string, body func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, gw, cancel, err := a.gateway(cmd)
		if err != nil {
			printError(cmd, err, name)
			return err
		}
		defer cancel()
		if isVerbose(cmd) {
			cmd.PrintErrf("running %s against %s provider\n", name, a.cfg.ProviderType)
		}
		if err := body(ctx, cmd, gw, args); err != nil {
			printError(cmd, err, name)
			return err
		}
		return nil
	}
}
