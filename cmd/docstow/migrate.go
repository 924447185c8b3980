package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aigotowork/docstow/collection"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade stored documents to the current schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				return runMigrations(ctx, cmd, m)
			})
		},
	}
}

// runMigrations upgrades every game and rebuilds the path index, reporting
// each failed game.
func runMigrations(ctx context.Context, cmd *cobra.Command, m *collection.Manager) error {
	report, err := m.Migrator.MigrateAll(ctx)

	out := cmd.OutOrStdout()
	for _, id := range report.Migrated {
		fmt.Fprintf(out, "%s %s\n", green("migrated"), id)
	}
	failed := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(out, "%s %s: %v\n", red("failed"), id, report.Failed[id])
	}
	if err != nil {
		return err
	}

	if _, err := m.Games.RefreshPathIndex(ctx); err != nil {
		return fmt.Errorf("failed to rebuild path index: %w", err)
	}
	if len(report.Migrated) == 0 {
		fmt.Fprintln(out, dim(fmt.Sprintf("all games are at schema version %d", m.Migrator.Latest())))
	}
	return nil
}
