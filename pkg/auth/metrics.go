package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts authorization decisions and trust elevations.
type Metrics struct {
	decisions  *prometheus.CounterVec
	elevations *prometheus.CounterVec
}

// NewMetrics creates the auth collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "directory",
			Subsystem: "auth",
			Name:      "decisions_total",
			Help:      "Authorization decisions by guard and outcome.",
		}, []string{"guard", "outcome"}),
		elevations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "directory",
			Subsystem: "auth",
			Name:      "elevations_total",
			Help:      "Callers granted every role through break-glass or bootstrap.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.elevations)
	}
	return m
}

func (m *Metrics) decision(guard, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(guard, outcome).Inc()
}

func (m *Metrics) elevation(kind string) {
	if m == nil {
		return
	}
	m.elevations.WithLabelValues(kind).Inc()
}
