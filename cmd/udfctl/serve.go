package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/jrepp/prism-udf/pkg/observability"
	"github.com/jrepp/prism-udf/pkg/udfc"
)

// healthService is the service name the client state is reported under
const healthService = "udf.bridge"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep a bridge client running with metrics and gRPC health",
	Long: `Start the worker and keep it supervised until interrupted. Client metrics,
/health and /ready are served on --metrics-addr; the gRPC health service on
--health-addr reports SERVING while the client is Ready.

Example:
  udfctl serve --worker ./udfd --metrics-addr :9090 --health-addr :9091`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", ":9090", "Metrics and readiness HTTP address (empty disables)")
	serveCmd.Flags().String("health-addr", ":9091", "gRPC health address (empty disables)")
	serveCmd.Flags().Bool("tracing", false, "Export client spans to stdout")
	serveCmd.Flags().Bool("watch", false, "Restart the worker when its executable changes")

	viper.BindPFlag("serve.metrics_addr", serveCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("serve.health_addr", serveCmd.Flags().Lookup("health-addr"))
	viper.BindPFlag("serve.tracing", serveCmd.Flags().Lookup("tracing"))
	viper.BindPFlag("serve.watch", serveCmd.Flags().Lookup("watch"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := setupLogging()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := udfc.NewPrometheusMetricsCollector("udfc")

	var ready atomic.Pointer[udfc.Client]
	obs := observability.NewManager(&observability.Config{
		ServiceName:    "udfctl",
		ServiceVersion: version,
		MetricsAddr:    viper.GetString("serve.metrics_addr"),
		EnableTracing:  viper.GetBool("serve.tracing"),
	},
		observability.WithGatherer(metrics.Registry()),
		observability.WithReadiness(func() bool {
			c := ready.Load()
			return c != nil && c.State() == udfc.StateReady
		}),
	)
	if err := obs.Initialize(ctx); err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	healthServer := health.NewServer()
	observer := udfc.NewHealthObserver(healthServer, healthService)

	if addr := viper.GetString("serve.health_addr"); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		grpcServer := grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		reflection.Register(grpcServer)

		go func() {
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("health server error", "error", err)
			}
		}()
		defer grpcServer.GracefulStop()
		logger.Info("gRPC health server listening", "addr", lis.Addr().String(), "service", healthService)
	}

	if viper.GetBool("serve.watch") {
		viper.Set("client.watch_worker", true)
	}

	client, err := startClient(ctx, logger,
		udfc.WithMetricsCollector(metrics),
		udfc.WithTracerProvider(obs.TracerProvider()),
		udfc.WithStateObserver(observer.Observe),
	)
	if err != nil {
		return err
	}
	defer stopClient(client, logger)
	ready.Store(client)

	fmt.Fprintf(cmd.OutOrStdout(), "udf bridge %s ready (worker pid %d)\n", client.ID(), client.WorkerPID())
	<-ctx.Done()
	logger.Info("received shutdown signal")
	return nil
}
