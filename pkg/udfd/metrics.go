package udfd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	framesRejected prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "udfd",
				Name:      "requests_total",
				Help:      "Requests handled by the worker",
			},
			[]string{"task", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "udfd",
				Name:      "request_duration_seconds",
				Help:      "Time spent in the handler per request",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"task"},
		),
		framesRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "udfd",
				Name:      "frames_rejected_total",
				Help:      "Malformed request frames that closed their connection",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration, m.framesRejected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(task udfproto.TaskType, code int32, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(task.String(), udfproto.CodeText(code)).Inc()
	m.duration.WithLabelValues(task.String()).Observe(d.Seconds())
}

func (m *Metrics) frameRejected() {
	if m == nil {
		return
	}
	m.framesRejected.Inc()
}
