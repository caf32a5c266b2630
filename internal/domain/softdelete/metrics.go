package softdelete

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"deletionmark/internal/core/apperror"
)

const (
	namespace = "deletionmark"

	labelStale        = "stale"
	labelInvalidState = "invalid_state"
	labelError        = "error"
)

// Metrics counts soft delete / restore calls per outcome.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Soft delete and restore calls by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of soft delete and restore calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) observe(op Operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op.String(), outcome).Inc()
	m.duration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

// outcomeLabel maps a call result to the outcome label value.
func outcomeLabel(o Outcome, err error) string {
	switch {
	case err == nil:
		return o.String()
	case apperror.IsStaleObject(err):
		return labelStale
	case apperror.IsInvalidState(err):
		return labelInvalidState
	}
	return labelError
}
