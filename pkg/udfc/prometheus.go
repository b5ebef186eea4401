package udfc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	// Lifecycle metrics
	stateTransitions *prometheus.CounterVec
	state            *prometheus.GaugeVec

	// Request metrics
	taskDuration  *prometheus.HistogramVec
	framesDropped *prometheus.CounterVec
	inflight      prometheus.Gauge
	connections   prometheus.Gauge

	// Worker metrics
	workerSpawns  prometheus.Counter
	workerExits   *prometheus.CounterVec
	restartDelays prometheus.Histogram

	registry *prometheus.Registry
}

var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "udfc"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	// State transitions
	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of client state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// Current state, one series per state set to 1 for the active one
	pmc.state = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current client state",
		},
		[]string{"state"},
	)

	// Operation latency
	pmc.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of Setup, Call and Teardown operations",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"task", "status"},
	)

	// Dropped frames
	pmc.framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames discarded by the reactor",
		},
		[]string{"reason"},
	)

	pmc.inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_entries",
			Help:      "Number of unresolved bridge entries",
		},
	)

	pmc.connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of open connections to the worker",
		},
	)

	// Worker lifecycle
	pmc.workerSpawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_spawns_total",
			Help:      "Total number of worker processes started",
		},
	)

	pmc.workerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Total number of worker exits",
		},
		[]string{"expected"},
	)

	pmc.restartDelays = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_restart_backoff_seconds",
			Help:      "Delay before worker respawn attempts",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Register all metrics
	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.state,
		pmc.taskDuration,
		pmc.framesDropped,
		pmc.inflight,
		pmc.connections,
		pmc.workerSpawns,
		pmc.workerExits,
		pmc.restartDelays,
	)

	return pmc
}

// Registry returns the registry holding the collector's metrics
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// StateTransition records a state transition
func (pmc *PrometheusMetricsCollector) StateTransition(from, to State) {
	pmc.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	pmc.state.WithLabelValues(from.String()).Set(0)
	pmc.state.WithLabelValues(to.String()).Set(1)
}

// TaskDuration records the duration of a public operation
func (pmc *PrometheusMetricsCollector) TaskDuration(task udfproto.TaskType, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = string(GetErrorCode(err))
		if status == "" {
			status = "error"
		}
	}

	pmc.taskDuration.WithLabelValues(task.String(), status).Observe(duration.Seconds())
}

// FrameDropped records a discarded frame
func (pmc *PrometheusMetricsCollector) FrameDropped(reason string) {
	pmc.framesDropped.WithLabelValues(reason).Inc()
}

// WorkerSpawned records a worker start
func (pmc *PrometheusMetricsCollector) WorkerSpawned() {
	pmc.workerSpawns.Inc()
}

// WorkerExited records a worker exit
func (pmc *PrometheusMetricsCollector) WorkerExited(expected bool) {
	label := "false"
	if expected {
		label = "true"
	}
	pmc.workerExits.WithLabelValues(label).Inc()
}

// WorkerRestartBackoff records a respawn delay
func (pmc *PrometheusMetricsCollector) WorkerRestartBackoff(delay time.Duration) {
	pmc.restartDelays.Observe(delay.Seconds())
}

// InflightDepth records the number of unresolved entries
func (pmc *PrometheusMetricsCollector) InflightDepth(depth int) {
	pmc.inflight.Set(float64(depth))
}

// ConnectionsOpen records the number of open connections
func (pmc *PrometheusMetricsCollector) ConnectionsOpen(n int) {
	pmc.connections.Set(float64(n))
}
