package entitlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts access decisions by result and reason.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg, or on the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "entitlement",
			Name:      "decisions_total",
			Help:      "Entitlement decisions by result and reason.",
		}, []string{"result", "reason"}),
	}
}

func (m *Metrics) observe(d Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(d.result(), string(d.Reason)).Inc()
}
