// Package metrics exposes Prometheus instrumentation for the worker
// and the investigation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors. Construct with NewMetrics and pass the
// one instance around; collectors are registered exactly once.
type Metrics struct {
	JobsProcessed      *prometheus.CounterVec
	JobsRequeued       prometheus.Counter
	JobsDropped        *prometheus.CounterVec
	JobDuration        prometheus.Histogram
	InvestigationLoops prometheus.Histogram
	ToolCalls          *prometheus.CounterVec
	ProgressFailures   prometheus.Counter
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kausal",
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Jobs processed to a terminal status.",
		}, []string{"status", "source"}),
		JobsRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kausal",
			Subsystem: "worker",
			Name:      "jobs_requeued_total",
			Help:      "Jobs re-enqueued because their backoff window had not passed.",
		}),
		JobsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kausal",
			Subsystem: "worker",
			Name:      "jobs_dropped_total",
			Help:      "Queue messages dropped without processing.",
		}, []string{"reason"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kausal",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of completed investigations.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		InvestigationLoops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kausal",
			Subsystem: "rca",
			Name:      "investigation_loops",
			Help:      "Validation loop iterations per investigation.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kausal",
			Subsystem: "rca",
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ProgressFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kausal",
			Subsystem: "progress",
			Name:      "delivery_failures_total",
			Help:      "Progress updates that failed to deliver.",
		}),
	}

	reg.MustRegister(
		m.JobsProcessed,
		m.JobsRequeued,
		m.JobsDropped,
		m.JobDuration,
		m.InvestigationLoops,
		m.ToolCalls,
		m.ProgressFailures,
	)
	return m
}

// ObserveJob records a terminal job outcome.
func (m *Metrics) ObserveJob(status, source string, duration time.Duration) {
	m.JobsProcessed.WithLabelValues(status, source).Inc()
	m.JobDuration.Observe(duration.Seconds())
}
