package udfd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jrepp/prism-udf/pkg/observability"
)

// Version is reported in logs and trace resources
var Version = "0.1.0"

// Bootstrap runs a worker for handler until SIGINT or SIGTERM. The config
// file comes from configPath, or UDFD_CONFIG when configPath is empty.
func Bootstrap(handler Handler, configPath string) error {
	if configPath == "" {
		configPath = os.Getenv(EnvConfigPath)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stdout belongs to UDF output in some deployments; logs go to stderr
	logger, err := observability.SetupLogging(config.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger.Info("udf worker starting", "version", Version, "pid", os.Getpid(), "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return Run(ctx, handler, config, logger)
}

// Run serves handler on config.Endpoint until ctx is cancelled, then shuts
// down within config.ShutdownTimeout
func Run(ctx context.Context, handler Handler, config *Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	obs := observability.NewManager(&config.Observability, observability.WithGatherer(reg))
	if err := obs.Initialize(ctx); err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	server := NewServer(handler,
		WithServerLogger(logger),
		WithServerMetrics(metrics),
		WithServerTracerProvider(obs.TracerProvider()),
		WithMaxFrameSize(config.MaxFrameSize),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe(config.Endpoint)
	}()

	select {
	case err := <-errChan:
		logger.Error("worker server failed", "error", err)
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal", "endpoint", config.Endpoint.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker shutdown incomplete", "error", err)
	}
	if err := <-errChan; err != nil && !errors.Is(err, ErrServerClosed) {
		return err
	}

	logger.Info("udf worker stopped")
	return nil
}
