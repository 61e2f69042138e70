package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	commitments *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking commitments handed to the
// chain adapter.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			commitments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "events",
				Name:      "commitments_total",
				Help:      "Count of chain commitments segmented by kind and collateral type.",
			}, []string{"kind", "collateral"}),
		}
		prometheus.MustRegister(eventRegistry.commitments)
	})
	return eventRegistry
}

// RecordCommitment increments the commitment counter.
func (m *eventMetrics) RecordCommitment(kind, collateral string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(kind))
	if normalized == "" {
		normalized = "unknown"
	}
	m.commitments.WithLabelValues(normalized, labelAsset(collateral)).Inc()
}
