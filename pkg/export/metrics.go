package export

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the export subsystem's Prometheus collectors.
type Metrics struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	rows      prometheus.Counter
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the export collectors. They are unregistered; pass them
// to a metrics registry at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "export_jobs_started_total",
			Help: "Export jobs started, by mode.",
		}, []string{"mode"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "export_jobs_completed_total",
			Help: "Export jobs completed successfully, by mode.",
		}, []string{"mode"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "export_jobs_failed_total",
			Help: "Export jobs that ended in Failed, by mode.",
		}, []string{"mode"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_rows_streamed_total",
			Help: "Rows streamed across all sync exports.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "export_duration_seconds",
			Help:    "Wall time of the orchestrator's part of an export.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}
}

// Collectors returns everything to register.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.started, m.completed, m.failed, m.rows, m.duration}
}

func (m *Metrics) jobStarted(mode Mode) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) jobCompleted(mode Mode, start time.Time) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(string(mode)).Inc()
	m.duration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) jobFailed(mode Mode) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) rowsStreamed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.Add(float64(n))
}
