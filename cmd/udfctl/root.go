package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jrepp/prism-udf/pkg/observability"
	"github.com/jrepp/prism-udf/pkg/udfc"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "udfctl",
	Short: "Run and exercise a udfd worker through the UDF bridge client",
	Long: `udfctl starts a udfd worker process with the bridge client and drives it.

Commands:
  - call:  set up one UDF, run Init/Normal/Finalize and tear it down
  - bench: concurrent rate limited calls against one session per worker goroutine
  - serve: keep a client running with metrics and gRPC health endpoints
  - health: query the gRPC health endpoint of a running serve
  - version: print version information`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Client config file (YAML)")
	rootCmd.PersistentFlags().String("worker", "", "Worker executable (default ./udfd)")
	rootCmd.PersistentFlags().String("socket", "", "Unix socket path shared with the worker (default udf.sock)")
	rootCmd.PersistentFlags().Duration("call-timeout", 0, "Bound for every Setup/Call/Teardown")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")

	viper.BindPFlag("client.config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("client.worker", rootCmd.PersistentFlags().Lookup("worker"))
	viper.BindPFlag("client.socket", rootCmd.PersistentFlags().Lookup("socket"))
	viper.BindPFlag("client.call_timeout", rootCmd.PersistentFlags().Lookup("call-timeout"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// Environment variables: UDFCTL_CLIENT_WORKER, UDFCTL_LOGGING_LEVEL, ...
	viper.SetEnvPrefix("UDFCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// setupLogging installs the logger selected by --log-level/--log-format
func setupLogging() (*slog.Logger, error) {
	return observability.SetupLogging(observability.LoggingConfig{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}, os.Stderr)
}

// clientConfig loads the YAML config, if any, and applies flag overrides
func clientConfig() (*udfc.Config, error) {
	cfg := udfc.DefaultConfig()
	if path := viper.GetString("client.config"); path != "" {
		loaded, err := udfc.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if worker := viper.GetString("client.worker"); worker != "" {
		cfg.WorkerPath = worker
	}
	if socket := viper.GetString("client.socket"); socket != "" {
		cfg.Endpoint.Network = "unix"
		cfg.Endpoint.Address = socket
	}
	if viper.GetBool("client.watch_worker") {
		cfg.WatchWorker = true
	}
	if timeout := viper.GetDuration("client.call_timeout"); timeout > 0 {
		cfg.CallTimeout = timeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startClient builds and starts a client from the command line configuration
func startClient(ctx context.Context, logger *slog.Logger, opts ...udfc.Option) (*udfc.Client, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, err
	}

	opts = append([]udfc.Option{udfc.WithLogger(logger)}, opts...)
	client, err := udfc.New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout+time.Second)
	defer cancel()
	if err := client.Start(startCtx); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", cfg.WorkerPath, err)
	}
	return client, nil
}

func stopClient(client *udfc.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Stop(ctx); err != nil {
		logger.Error("failed to stop client", "error", err)
	}
}
