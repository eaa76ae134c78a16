package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/logging"
)

// verbose keeps the configured log level for one-shot commands, which
// otherwise only log warnings.
var verbose bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one clustering, decay and graduation pass",
	Long: `Run every lifecycle sweep once against the configured store and print
the report as JSON.

Pending approvals found by this pass live only in this process. Use a running
daemon ("patternd pending") to review and approve them.

Examples:
  # One pass over every company
  patternd run

  # Restrict clustering to two companies
  PATTERND_SCHEDULER_COMPANIES=acme,globex patternd run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.scheduler.RunOnce(ctx)
			if report != nil {
				if encErr := writeJSON(cmd.OutOrStdout(), report); encErr != nil {
					return encErr
				}
			}
			return err
		})
	},
}

// sweepCmd builds a command running a single lifecycle sweep.
func sweepCmd(use, short string, sweep func(ctx context.Context, a *app) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := sweep(ctx, a)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

var (
	clusterCmd = sweepCmd("cluster", "Cluster orphan observations into new patterns",
		func(ctx context.Context, a *app) (any, error) {
			return a.clustering.CheckAllCompanies(ctx)
		})
	decayCmd = sweepCmd("decay", "Apply quality decay to every pattern",
		func(ctx context.Context, a *app) (any, error) {
			return a.quality.RunDecaySweep(ctx)
		})
	graduateCmd = sweepCmd("graduate", "Graduate eligible patterns and list those needing approval",
		func(ctx context.Context, a *app) (any, error) {
			return a.graduation.CheckAllGraduations(ctx)
		})
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the similarity index from stored observations",
	Long: `Re-embed every stored observation and upsert it into the similarity
index. Use after switching embedding models or vector store backends.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			n, err := a.observations.Reindex(ctx)
			if err != nil {
				return fmt.Errorf("reindex failed after %d observations: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d observations\n", n)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, clusterCmd, decayCmd, graduateCmd, reindexCmd} {
		c.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level")
		rootCmd.AddCommand(c)
	}
}

// withApp loads configuration, builds the engines, calls fn and closes
// everything afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withConfig(ctx, cfg, fn)
}

func withConfig(ctx context.Context, cfg *config.Config, fn func(ctx context.Context, a *app) error) error {
	logCfg := cfg.Logging
	if !verbose && logCfg.Level.Zap() < zapcore.WarnLevel {
		logCfg.Level = logging.Level(zapcore.WarnLevel)
	}
	logger, err := logging.NewLogger(&logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn(ctx, "engine shutdown", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
