package migrate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts migration step outcomes.
type Metrics struct {
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the migration collectors with reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_steps_total",
			Help:      "Schema migration steps by result.",
		}, []string{"step", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_step_duration_seconds",
			Help:      "Time spent applying and committing one migration step.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"step"}),
	}
}

func (m *Metrics) observe(step string, ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.steps.WithLabelValues(step, result).Inc()
	m.duration.WithLabelValues(step).Observe(d.Seconds())
}
