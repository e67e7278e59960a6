package cmd

import (
	"fmt"
	"strings"

	"freezercore/internal/blob"
	"freezercore/internal/core"
	"freezercore/internal/migrate"

	"github.com/spf13/cobra"
)

func newMigrateCommand(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the configured store to the current schema version",
		Long: `Applies every pending schema step in order. Before the first step the
untouched state is archived to the configured blob store. Each step commits on
its own, so a failed run can be repeated once the cause is fixed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, closer, err := core.OpenMigrationBackend(ctx, a.cfg.StorageConfig())
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			opts := []migrate.Option{
				migrate.WithLogger(a.log),
				migrate.WithMetrics(migrate.NewMetrics(a.registry, a.cfg.Metrics.Namespace)),
				migrate.WithDryRun(dryRun),
			}
			cat, err := a.cfg.LoadCatalog()
			if err != nil {
				return err
			}
			opts = append(opts, migrate.WithCatalog(cat))
			if !dryRun {
				archive, err := blob.Open(ctx, a.cfg.BlobConfig())
				if err != nil {
					return fmt.Errorf("open archive store: %w", err)
				}
				opts = append(opts, migrate.WithArchive(archive))
			}

			report, err := migrate.NewEngine(backend, opts...).Run(ctx)
			printReport(cmd, report)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "apply steps to a copy and report without committing")
	cmd.AddCommand(newMigrateStatusCommand(a))
	return cmd
}

func newMigrateStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored schema version and the steps still pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, closer, err := core.OpenMigrationBackend(ctx, a.cfg.StorageConfig())
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			engine := migrate.NewEngine(backend)
			pending, version, err := engine.Pending(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema version %d of %d\n", version, engine.Latest())
			for _, s := range pending {
				fmt.Fprintf(out, "pending %d %s\n", s.Version, s.Name)
			}
			return nil
		},
	}
}

func printReport(cmd *cobra.Command, r migrate.Report) {
	out := cmd.OutOrStdout()
	if len(r.Applied) == 0 && r.From == r.To {
		fmt.Fprintf(out, "schema version %d is up to date\n", r.To)
		return
	}
	prefix := ""
	if r.DryRun {
		prefix = "dry run: "
	}
	fmt.Fprintf(out, "%sschema version %d -> %d (%s)\n", prefix, r.From, r.To, strings.Join(r.Applied, ", "))
	if r.Archive != "" {
		fmt.Fprintf(out, "archived previous state as %s\n", r.Archive)
	}
}
