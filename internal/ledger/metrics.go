package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_ledger_requests_total",
		Help: "Ledger calls by operation and response status",
	}, []string{"op", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_ledger_request_duration_seconds",
		Help:    "Latency of ledger calls including re-authentication",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"op"})
)

func observe(op string, status int, err error, elapsed time.Duration) {
	ledgerRequestsTotal.WithLabelValues(op, statusLabel(status, err)).Inc()
	ledgerRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
