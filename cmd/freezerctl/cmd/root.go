// Package cmd implements the freezerctl command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"freezercore/internal/config"
	"freezercore/internal/core"
	"freezercore/internal/platform/logger"
	"freezercore/internal/platform/tracing"
	"freezercore/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X freezercore/cmd/freezerctl/cmd.Version=...".
var Version = "dev"

// app is the state shared by every subcommand once the root has loaded its
// configuration.
type app struct {
	cfgFile  string
	cfg      *config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	tracing  *tracing.Provider
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "freezerctl",
		Short:         "Manage freezer inventory, samples and schema migrations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Mode)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			tp, err := tracing.ToFile(cfg.Trace.File, Version)
			if err != nil {
				return err
			}
			a.cfg, a.log, a.registry, a.tracing = cfg, log, prometheus.NewRegistry(), tp
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./freezer.yaml)")

	root.AddCommand(
		newMigrateCommand(a),
		newImportCommand(a),
		newContainerCommand(a),
		newSampleCommand(a),
	)
	a.flushAfter(root)
	return root
}

// flushAfter wraps every RunE below cmd so traces and metrics are flushed
// once it returns. Cobra skips post-run hooks when RunE fails, which is
// when the error counters matter most.
func (a *app) flushAfter(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		a.flushAfter(sub)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if ferr := a.flush(cmd.Context()); err == nil {
				err = ferr
			}
		}()
		return run(cmd, args)
	}
}

// flush shuts the trace provider down and writes the metrics textfile.
func (a *app) flush(ctx context.Context) error {
	if a.cfg == nil {
		return nil
	}
	defer a.log.Sync()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.log.Warn("flush traces", "error", err)
	}
	if a.cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Execute runs freezerctl with the process arguments and prints a failure to stderr.
func Execute() error {
	root := NewRootCommand()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		root.PrintErrln("Error:", err)
	}
	return err
}

// openService opens the configured store at the current schema.
func (a *app) openService() (*core.Service, error) {
	cat, err := a.cfg.LoadCatalog()
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(a.cfg.StorageConfig(), core.NewDefaultRulesEngine(cat))
	if err != nil {
		if errors.Is(err, domain.ErrMigrationRequired) {
			return nil, fmt.Errorf("%w: run freezerctl migrate first", err)
		}
		return nil, err
	}
	return core.NewService(store, cat,
		core.WithLogger(a.log),
		core.WithMetricsRecorder(core.NewPrometheusRecorder(a.registry, a.cfg.Metrics.Namespace)),
		core.WithTracer(core.NewOTelTracer(a.tracing)),
	), nil
}
