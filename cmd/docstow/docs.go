package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/collection"
)

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseValue reads a command line value as JSON, falling back to a plain
// string for anything that is not valid JSON.
func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func parsePathArg(args []string, i int) (docstow.Path, error) {
	if len(args) <= i {
		return docstow.All, nil
	}
	return docstow.ParsePath(args[i])
}

func newGetCmd(a *app) *cobra.Command {
	var def string

	cmd := &cobra.Command{
		Use:   "get <collection> <id> [path]",
		Short: "Print a document or the value at a path",
		Long: `Print a document or the value at a path such as "metadata.name" or
"gameList.sort[0].order". With --default, a missing value is created with
the given JSON value first.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := parsePathArg(args, 2)
			if err != nil {
				return err
			}
			var defValue interface{}
			if cmd.Flags().Changed("default") {
				defValue = parseValue(def)
			}

			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				var v interface{}
				if args[0] == collection.ConfigCollection && !cmd.Flags().Changed("default") {
					v, err = m.Config.Get(ctx, args[1], path)
				} else {
					v, err = m.Store.GetValue(ctx, args[0], args[1], path, defValue)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&def, "default", "", "JSON value stored and returned when the path is missing")
	return cmd
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <collection> <id> <path> <value>",
		Short: "Store a value at a path",
		Long: `Store a value at a path. The value is parsed as JSON; anything else is
stored as a string. Use "#all" as path to replace the whole document.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := docstow.ParsePath(args[2])
			if err != nil {
				return err
			}
			value := parseValue(args[3])

			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				if args[0] == collection.ConfigCollection {
					return m.Config.Set(ctx, args[1], path, value)
				}
				return m.Store.SetValue(ctx, args[0], args[1], path, value)
			})
		},
	}
}

func newDocsCmd(a *app) *cobra.Command {
	var sortKeys []string

	cmd := &cobra.Command{
		Use:   "docs <collection>",
		Short: "Print every document of a collection",
		Long: `Print every document of a collection as a list of {id, doc} objects.
--sort orders the list by one or more paths, e.g.
  docstow docs games --sort record.lastRunDate:desc --sort metadata.name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseSortKeys(sortKeys)
			if err != nil {
				return err
			}

			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				docs, err := m.Store.GetAllDocs(ctx, args[0])
				if err != nil {
					return err
				}

				type entry struct {
					ID  string           `json:"id"`
					Doc docstow.Document `json:"doc"`
				}
				ids := collection.Sort(docs, keys)
				out := make([]entry, 0, len(ids))
				for _, id := range ids {
					out = append(out, entry{ID: id, Doc: docs[id]})
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringArrayVar(&sortKeys, "sort", nil, "sort by path[:asc|desc], repeatable")
	return cmd
}

func parseSortKeys(specs []string) ([]collection.SortKey, error) {
	keys := make([]collection.SortKey, 0, len(specs))
	for _, spec := range specs {
		p, order, _ := strings.Cut(spec, ":")
		path, err := docstow.ParsePath(p)
		if err != nil {
			return nil, fmt.Errorf("invalid sort path %q: %w", p, err)
		}
		switch order {
		case "", collection.Ascending:
			order = collection.Ascending
		case collection.Descending:
		default:
			return nil, fmt.Errorf("invalid sort order %q", order)
		}
		keys = append(keys, collection.SortKey{By: path, Order: order})
	}
	return keys, nil
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <collection> <id>",
		Short: "Remove a document with its attachments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				if args[0] == collection.GamesCollection {
					return m.Games.Remove(ctx, args[1])
				}
				return m.Store.RemoveDoc(ctx, args[0], args[1])
			})
		},
	}
}
