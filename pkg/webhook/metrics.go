package webhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the receiver's Prometheus collectors.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the webhook collectors on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook requests by provider, event type and outcome.",
		}, []string{"provider", "event_type", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Subsystem: "webhook",
			Name:      "duration_seconds",
			Help:      "Webhook handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

func (m *Metrics) observe(provider, eventType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.requests.WithLabelValues(provider, eventType, outcome).Inc()
	m.duration.WithLabelValues(provider).Observe(d.Seconds())
}
