package domain

import "time"

type AnomalyKind string

const (
	AnomalyPartialCheckout    AnomalyKind = "partial_checkout"
	AnomalyUnknownSubject     AnomalyKind = "unknown_subject"
	AnomalyRefundBeforePaid   AnomalyKind = "refund_before_paid"
	AnomalyTransitionRejected AnomalyKind = "transition_rejected"
)

// Anomaly records a divergence between the processor and the ledger that an
// operator has to reconcile by hand.
type Anomaly struct {
	ID        int64       `json:"id"`
	Kind      AnomalyKind `json:"kind"`
	PaymentID string      `json:"paymentId"`
	EventType string      `json:"eventType,omitempty"`
	Detail    string      `json:"detail"`
	CreatedAt time.Time   `json:"createdAt"`
}
