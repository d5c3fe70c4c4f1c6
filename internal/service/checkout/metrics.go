package checkout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCreated        = "created"
	outcomeInvalid        = "validation_error"
	outcomeCatalogError   = "catalog_error"
	outcomeProcessorError = "processor_error"
	outcomePartialFailure = "partial_failure"
)

var (
	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_checkouts_total",
		Help: "Checkout attempts by outcome",
	}, []string{"outcome"})

	invoiceAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_checkout_invoice_attempts",
		Help:    "Ledger create attempts needed per checkout",
		Buckets: []float64{1, 2, 3, 5, 8},
	})
)
