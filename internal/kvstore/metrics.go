package kvstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the bulk calls a Gateway makes. A nil *Metrics records
// nothing.
type Metrics struct {
	Operations *prometheus.CounterVec
	Records    *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics registers the gateway metrics with reg. It returns nil when reg
// is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	return &Metrics{
		Operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rethread",
			Name:      "bulk_operations_total",
			Help:      "Bulk store calls by operation and outcome",
		}, []string{"op", "status"}),
		Records: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rethread",
			Name:      "bulk_records_total",
			Help:      "Records carried by successful bulk store calls",
		}, []string{"op"}),
		Duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rethread",
			Name:      "bulk_duration_seconds",
			Help:      "Duration of bulk store calls",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"op"}),
	}
}

func (m *Metrics) observe(op string, records int, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.Operations.WithLabelValues(op, "error").Inc()
		return
	}
	m.Operations.WithLabelValues(op, "ok").Inc()
	m.Records.WithLabelValues(op).Add(float64(records))
}
