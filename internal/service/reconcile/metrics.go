package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storefront_payment_events_total",
	Help: "Processor notifications by event type and reconciliation outcome",
}, []string{"type", "outcome"})

func countEvent(eventType string, outcome Outcome, err error) {
	label := string(outcome)
	if err != nil && outcome == "" {
		label = "error"
	}
	if eventType == "" {
		eventType = "unverified"
	}
	eventsTotal.WithLabelValues(eventType, label).Inc()
}
