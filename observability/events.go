package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	delivered *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the registry tracking delivery of committed engine events
// to downstream sinks (indexer, websocket stream, redis).
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marginchain",
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Count of events delivered segmented by sink and event type.",
			}, []string{"sink", "type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marginchain",
				Subsystem: "events",
				Name:      "delivery_failures_total",
				Help:      "Count of events a sink failed to deliver or dropped.",
			}, []string{"sink", "type"}),
		}
		prometheus.MustRegister(eventRegistry.delivered, eventRegistry.failures)
	})
	return eventRegistry
}

// RecordDelivery counts one event handled by sink.
func (m *eventMetrics) RecordDelivery(sink, eventType string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.failures.WithLabelValues(label(sink), label(eventType)).Inc()
		return
	}
	m.delivered.WithLabelValues(label(sink), label(eventType)).Inc()
}
