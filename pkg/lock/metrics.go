package lock

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts lock operations. A nil *Metrics records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	swept       prometheus.Counter
	sweepErrors prometheus.Counter
}

// NewMetrics creates the lock collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "directory",
			Subsystem: "lock",
			Name:      "operations_total",
			Help:      "Lock protocol operations by operation and result.",
		}, []string{"operation", "result"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "directory",
			Subsystem: "lock",
			Name:      "swept_total",
			Help:      "Expired locks removed by the sweeper.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "directory",
			Subsystem: "lock",
			Name:      "sweep_errors_total",
			Help:      "Sweeper runs that failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.swept, m.sweepErrors)
	}
	return m
}

func (m *Metrics) observe(operation, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) observeSweep(removed int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepErrors.Inc()
		return
	}
	m.swept.Add(float64(removed))
}
