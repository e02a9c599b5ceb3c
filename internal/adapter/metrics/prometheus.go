package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/inventory-engine/internal/port"
)

// Prometheus records engine operations and dropped events.
type Prometheus struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	dropped    *prometheus.CounterVec
}

var _ port.EngineMetrics = (*Prometheus)(nil)

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "operations_total",
			Help:      "Inventory operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inventory",
			Name:      "operation_duration_seconds",
			Help:      "Inventory operation latency, including transaction acquire wait.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "events_dropped_total",
			Help:      "Post-commit events that were never delivered.",
		}, []string{"event_type"}),
	}

	reg.MustRegister(m.operations, m.latency, m.dropped)
	return m
}

func (m *Prometheus) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Prometheus) EventDropped(eventType string) {
	m.dropped.WithLabelValues(eventType).Inc()
}
