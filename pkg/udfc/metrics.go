package udfc

import (
	"time"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// MetricsCollector defines the interface for collecting client metrics
type MetricsCollector interface {
	// StateTransition records a client state transition
	StateTransition(from, to State)

	// TaskDuration records a completed public operation
	TaskDuration(task udfproto.TaskType, duration time.Duration, err error)

	// FrameDropped records a frame discarded by the reactor
	FrameDropped(reason string)

	// WorkerSpawned records a worker process start
	WorkerSpawned()

	// WorkerExited records a worker exit; expected is false for crashes
	WorkerExited(expected bool)

	// WorkerRestartBackoff records the delay before a respawn attempt
	WorkerRestartBackoff(delay time.Duration)

	// InflightDepth records the number of unresolved bridge entries
	InflightDepth(depth int)

	// ConnectionsOpen records the number of open worker connections
	ConnectionsOpen(n int)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) StateTransition(from, to State)                                  {}
func (n *noopMetricsCollector) TaskDuration(task udfproto.TaskType, d time.Duration, err error) {}
func (n *noopMetricsCollector) FrameDropped(reason string)                                      {}
func (n *noopMetricsCollector) WorkerSpawned()                                                  {}
func (n *noopMetricsCollector) WorkerExited(expected bool)                                      {}
func (n *noopMetricsCollector) WorkerRestartBackoff(delay time.Duration)                        {}
func (n *noopMetricsCollector) InflightDepth(depth int)                                         {}
func (n *noopMetricsCollector) ConnectionsOpen(count int)                                       {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
