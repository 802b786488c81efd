package inventory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the stock engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	gateWait      prometheus.Histogram
	notifications *prometheus.CounterVec
}

// NewMetrics registers the engine collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_operations_total",
		Help: "Stock operations partitioned by operation and outcome.",
	}, []string{"operation", "outcome"})
	gateWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockledger_gate_wait_seconds",
		Help:    "Time mutations spent waiting for the stock gate.",
		Buckets: prometheus.DefBuckets,
	})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_notifications_lost_total",
		Help: "Post-commit notifications dropped or failed, by name and reason.",
	}, []string{"name", "reason"})
	registerer.MustRegister(operations, gateWait, notifications)
	return &Metrics{operations: operations, gateWait: gateWait, notifications: notifications}
}

func (m *Metrics) observe(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeGateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.gateWait.Observe(d.Seconds())
}

func (m *Metrics) notificationDropped(name string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(name, "dropped").Inc()
}

func (m *Metrics) notificationFailed(name string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(name, "failed").Inc()
}
