package cli

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/spf13/cobra"
)

type downloadReport struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
}

type presignReport struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresIn int    `json:"expiresIn"`
}

func (a *app) objectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "objects",
		Aliases: []string{"object", "obj"},
		Short:   "List, upload, download and delete objects",
	}

	list := &cobra.Command{
		Use:   "list BUCKET",
		Short: "List objects of a bucket one page at a time",
		Example: `  bucketctl objects list reports --prefix 2024/ --page-size 100
  bucketctl objects list reports --all`,
		Args: cobra.ExactArgs(1),
		RunE: a.run("objects list", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			token, _ := cmd.Flags().GetString("token")
			all, _ := cmd.Flags().GetBool("all")
			opts := storage.ListOptions{Prefix: prefix, PageSize: pageSize, Token: token}
			if !all {
				page, err := gw.ListItems(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(cmd, page)
			}
			items := []storage.Item{}
			for page, err := range storage.Pages(ctx, gw, args[0], opts) {
				if err != nil {
					return err
				}
				items = append(items, page.Items...)
			}
			return printJSON(cmd, storage.Page{Items: items, Count: len(items)})
		}),
	}
	list.Flags().String("prefix", "", "Only list keys starting with this prefix")
	list.Flags().Int("page-size", storage.MaxPageSize, "Items per page (1-1000)")
	list.Flags().String("token", "", "Continuation token from a previous page")
	list.Flags().Bool("all", false, "Follow continuation tokens and print every item")

	put := &cobra.Command{
		Use:   "put BUCKET KEY FILE",
		Short: "Upload a local file, overwriting any object with the same key",
		Args:  cobra.ExactArgs(3),
		RunE: a.run("objects put", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			contentType, _ := cmd.Flags().GetString("content-type")
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(args[2]))
			}
			meta, _ := cmd.Flags().GetStringToString("meta")
			res, err := gw.PutItem(ctx, args[0], args[1], f, info.Size(), contentType, meta)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"bucket": args[0], "key": args[1], "etag": res.ETag, "size": res.Size})
		}),
	}
	put.Flags().String("content-type", "", "Content type (detected from the file extension when empty)")
	put.Flags().StringToString("meta", nil, "User metadata as key=value pairs")

	get := &cobra.Command{
		Use:   "get BUCKET KEY",
		Short: "Download an object to a file, or to stdout with --out -",
		Args:  cobra.ExactArgs(2),
		RunE: a.run("objects get", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = filepath.Base(args[1])
			}
			rd, err := gw.GetItem(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			defer rd.Body.Close()
			if out == "-" {
				_, err := io.Copy(cmd.OutOrStdout(), rd.Body)
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, rd.Body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			return printJSON(cmd, downloadReport{Bucket: args[0], Key: args[1], Path: out, Bytes: n})
		}),
	}
	get.Flags().StringP("out", "o", "", "Destination path (defaults to the key's base name)")

	head := &cobra.Command{
		Use:   "head BUCKET KEY",
		Short: "Show object metadata",
		Args:  cobra.ExactArgs(2),
		RunE: a.run("objects head", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			it, err := gw.HeadItem(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, it)
		}),
	}

	rm := &cobra.Command{
		Use:     "rm BUCKET KEY...",
		Aliases: []string{"delete"},
		Short:   "Delete one or more objects",
		Args:    cobra.MinimumNArgs(2),
		RunE: a.run("objects rm", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			deleted := make([]string, 0, len(args)-1)
			for _, key := range args[1:] {
				if err := gw.DeleteItem(ctx, args[0], key); err != nil {
					return err
				}
				deleted = append(deleted, key)
			}
			return printJSON(cmd, map[string]any{"bucket": args[0], "deleted": deleted})
		}),
	}

	cmd.AddCommand(list, put, get, head, rm)
	return cmd
}

func (a *app) presignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presign BUCKET KEY",
		Short: "Generate a presigned URL valid for one hour",
		Example: `  bucketctl presign reports q3.pdf
  bucketctl presign reports upload.bin --mode write`,
		Args: cobra.ExactArgs(2),
		RunE: a.run("presign", func(ctx context.Context, cmd *cobra.Command, gw storage.Gateway, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			m := storage.PresignMode(mode)
			if !m.Valid() {
				return fmt.Errorf("unknown mode %q (want read or write)", mode)
			}
			url, err := gw.Presign(ctx, args[0], args[1], m)
			if err != nil {
				return err
			}
			method := "GET"
			if m == storage.PresignWrite {
				method = "PUT"
			}
			return printJSON(cmd, presignReport{URL: url, Method: method, ExpiresIn: int(storage.PresignTTL.Seconds())})
		}),
	}
	cmd.Flags().String("mode", string(storage.PresignRead), "read (GET) or write (PUT)")
	return cmd
}
