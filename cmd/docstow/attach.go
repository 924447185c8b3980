package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/collection"
	"github.com/aigotowork/docstow/internal/fsutil"
)

func newAttachCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Manage binary attachments stored next to documents",
	}
	cmd.AddCommand(
		newAttachPutCmd(a),
		newAttachGetCmd(a),
		newAttachRmCmd(a),
		newAttachLsCmd(a),
	)
	return cmd
}

func newAttachPutCmd(a *app) *cobra.Command {
	var mimeType string

	cmd := &cobra.Command{
		Use:   "put <collection> <id> <name> <file>",
		Short: "Store a file as an attachment, replacing any previous content",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[3])
			if err != nil {
				return err
			}
			defer f.Close()

			var opts []docstow.AttachmentOption
			if mimeType != "" {
				opts = append(opts, docstow.WithMimeType(mimeType))
			}

			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				att, err := m.Store.PutAttachment(ctx, args[0], args[1], args[2], f, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", green("stored"), att.Name, dim(fmt.Sprintf("(%d bytes, %s)", att.Size, att.MimeType)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "content type to record instead of detecting it")
	return cmd
}

func newAttachGetCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "get <collection> <id> <name>",
		Short: "Write an attachment to stdout or to a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				if out == "" {
					att, err := m.Store.GetAttachment(ctx, args[0], args[1], args[2], docstow.AsBuffer)
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(att.Data)
					return err
				}

				att, err := m.Store.GetAttachment(ctx, args[0], args[1], args[2], docstow.AsFile)
				if err != nil {
					return err
				}
				defer os.Remove(att.Path)
				if err := fsutil.CopyFile(att.Path, out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", green("wrote"), out, dim("sha256:"+att.Hash))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func newAttachRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <collection> <id> <name>",
		Short: "Remove an attachment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				return m.Store.RemoveAttachment(ctx, args[0], args[1], args[2])
			})
		},
	}
}

func newAttachLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <collection> <id> [dir]",
		Short: "List attachment names of a document",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 3 {
				dir = args[2]
			}
			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				names, err := m.Store.ListAttachments(ctx, args[0], args[1], dir)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}
