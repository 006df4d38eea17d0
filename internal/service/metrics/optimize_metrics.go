package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobMetrics tracks walk-forward jobs run by the optimizer worker.
type JobMetrics struct {
	jobs     *prometheus.CounterVec
	duration prometheus.Histogram
	windows  prometheus.Counter
}

// NewJobMetrics registers on reg, the default registry when nil.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &JobMetrics{
		jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stockpulse",
				Subsystem: "optimize",
				Name:      "jobs_total",
				Help:      "Walk-forward jobs by final status",
			},
			[]string{"status"},
		),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stockpulse",
			Subsystem: "optimize",
			Name:      "job_seconds",
			Help:      "Wall time of a walk-forward job",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		windows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "stockpulse",
			Subsystem: "optimize",
			Name:      "windows_total",
			Help:      "Walk-forward windows evaluated",
		}),
	}
}

func (m *JobMetrics) Observe(status string, windows int, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
	m.duration.Observe(d.Seconds())
	m.windows.Add(float64(windows))
}
