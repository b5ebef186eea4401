// Package observability wires process-wide logging, tracing and the
// Prometheus metrics endpoint for the udfd and udfctl binaries.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds observability configuration
type Config struct {
	// ServiceName is the name of the service (e.g., "udfd", "udfctl")
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the version of the service
	ServiceVersion string `yaml:"service_version"`

	// MetricsAddr is the listen address for /metrics, /health and /ready.
	// Empty disables the HTTP server.
	MetricsAddr string `yaml:"metrics_addr"`

	// EnableTracing installs a global tracer provider
	EnableTracing bool `yaml:"enable_tracing"`

	// TracePretty pretty-prints spans from the stdout exporter
	TracePretty bool `yaml:"trace_pretty"`
}

// DefaultConfig returns a configuration with metrics and tracing disabled
func DefaultConfig(serviceName, serviceVersion string) *Config {
	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	}
}

// Manager owns the tracer provider and the metrics HTTP server
type Manager struct {
	config         *Config
	gatherer       prometheus.Gatherer
	ready          func() bool
	tracerProvider *sdktrace.TracerProvider
	metricsServer  *http.Server
	listener       net.Listener
	shutdownOnce   sync.Once
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithGatherer serves metrics from g instead of the default registry
func WithGatherer(g prometheus.Gatherer) ManagerOption {
	return func(m *Manager) {
		m.gatherer = g
	}
}

// WithReadiness makes /ready answer 503 while fn returns false
func WithReadiness(fn func() bool) ManagerOption {
	return func(m *Manager) {
		m.ready = fn
	}
}

// NewManager creates a new observability manager
func NewManager(config *Config, opts ...ManagerOption) *Manager {
	if config == nil {
		config = DefaultConfig("unknown", "0.0.0")
	}

	m := &Manager{
		config:   config,
		gatherer: prometheus.DefaultGatherer,
		ready:    func() bool { return true },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize sets up tracing and starts the metrics server
func (m *Manager) Initialize(ctx context.Context) error {
	slog.Info("initializing observability",
		"service_name", m.config.ServiceName,
		"service_version", m.config.ServiceVersion,
		"metrics_addr", m.config.MetricsAddr,
		"enable_tracing", m.config.EnableTracing)

	if m.config.EnableTracing {
		if err := m.initializeTracing(ctx); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		slog.Info("OpenTelemetry tracing initialized", "service_name", m.config.ServiceName)
	}

	if m.config.MetricsAddr != "" {
		if err := m.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		slog.Info("metrics server started", "addr", m.MetricsAddr())
	}

	return nil
}

func (m *Manager) initializeTracing(ctx context.Context) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporterOpts []stdouttrace.Option
	if m.config.TracePretty {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	m.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(m.tracerProvider)

	return nil
}

// TracerProvider returns the configured provider, or the global one when
// tracing is disabled
func (m *Manager) TracerProvider() trace.TracerProvider {
	if m.tracerProvider != nil {
		return m.tracerProvider
	}
	return otel.GetTracerProvider()
}

// Handler returns the mux served on MetricsAddr
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !m.ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not_ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))

	return mux
}

func (m *Manager) startMetricsServer() error {
	lis, err := net.Listen("tcp", m.config.MetricsAddr)
	if err != nil {
		return err
	}
	m.listener = lis

	m.metricsServer = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := m.metricsServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// MetricsAddr returns the bound metrics address, or "" when disabled
func (m *Manager) MetricsAddr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Shutdown stops the metrics server and flushes spans
func (m *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	m.shutdownOnce.Do(func() {
		slog.Info("shutting down observability components")

		if m.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shutdown metrics server", "error", err)
				shutdownErr = fmt.Errorf("metrics server shutdown: %w", err)
			}
		}

		if m.tracerProvider != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := m.tracerProvider.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shutdown tracer provider", "error", err)
				if shutdownErr == nil {
					shutdownErr = fmt.Errorf("tracer provider shutdown: %w", err)
				}
			}
		}
	})

	return shutdownErr
}
