package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"clauseledger/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured clause events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clause",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of clause events segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the event counter for the supplied event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// MeteredEmitter counts every event it sees and forwards it to the wrapped
// emitter. A nil next emitter just counts.
type MeteredEmitter struct {
	next events.Emitter
}

// NewMeteredEmitter wraps the supplied emitter with event metrics.
func NewMeteredEmitter(next events.Emitter) *MeteredEmitter {
	return &MeteredEmitter{next: next}
}

// Emit implements the events.Emitter interface.
func (m *MeteredEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	Events().Record(evt.EventType())
	if m.next != nil {
		m.next.Emit(evt)
	}
}
