package udfc

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger. The client adds a client_id attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricsCollector sets the metrics sink. Default: no-op.
func WithMetricsCollector(metrics MetricsCollector) Option {
	return func(c *Client) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithTracerProvider sets the provider for per-operation spans.
// Default: the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithStateObserver registers fn for every state transition
func WithStateObserver(fn StateObserver) Option {
	return func(c *Client) {
		c.observers = append(c.observers, fn)
	}
}
