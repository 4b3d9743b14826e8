package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for adapter activity.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
}

// NewMetrics registers adapter collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casekeeper_storage_operations_total",
				Help: "Storage operations by backend, operation and result",
			},
			[]string{"backend", "op", "result"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casekeeper_storage_fallbacks_total",
				Help: "Operations redirected from the secondary to the primary backend",
			},
			[]string{"op", "reason"},
		),
	}
}

// Gatherer exposes the registry for reporting.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) observe(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(backend, op, result).Inc()
}

func (m *Metrics) fallback(op, reason string) {
	m.fallbacks.WithLabelValues(op, reason).Inc()
}
