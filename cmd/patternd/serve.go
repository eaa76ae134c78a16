package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/http"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the patternd daemon",
	Long: `Start the admin API and the lifecycle scheduler.

The daemon runs clustering, decay and graduation sweeps on their configured
intervals until it receives SIGINT or SIGTERM.

Examples:
  # Start with the default config file
  patternd serve

  # Override the port through the environment
  PATTERND_SERVER_PORT=8081 patternd serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe starts the daemon and blocks until ctx is cancelled:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Builds the engines
//  4. Starts the scheduler and the HTTP server
//  5. Shuts everything down within the configured timeout
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, tel, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting patternd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	srv, err := http.NewServer(http.Deps{
		Patterns:     a.stores.Patterns,
		Observations: a.observations,
		Graduation:   a.graduation,
		Quality:      a.quality,
		Runner:       a.scheduler,
		Version:      version,
	}, logger.Underlying(), &http.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if err := a.scheduler.Start(); err != nil {
		_ = a.Close()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http server shutdown", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		logger.Warn(ctx, "engine shutdown", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	logger.Info(ctx, "patternd stopped")
	return serveErr
}

// initObservability builds the logger, bridged to the global OTEL log
// provider, then telemetry, which reports its own degradation through it.
func initObservability(ctx context.Context, cfg *config.Config) (*logging.Logger, *telemetry.Telemetry, error) {
	logger, err := logging.NewLogger(&cfg.Logging, global.GetLoggerProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	tel, err := telemetry.New(ctx, &cfg.Observability, logger.Underlying())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return logger, tel, nil
}
