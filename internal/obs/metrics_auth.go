package obs

import "github.com/prometheus/client_golang/prometheus"

// AuthMetrics counts auth operations by outcome. Result values are a small
// fixed set such as "ok", "duplicate", "invalid", "error".
type AuthMetrics struct {
	ops *prometheus.CounterVec
}

func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Auth operations by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.ops)
	return m
}

func (m *AuthMetrics) Observe(op, result string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, result).Inc()
}
