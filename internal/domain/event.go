package domain

type EventType string

const (
	EventSessionCompleted     EventType = "session_completed"
	EventSessionExpired       EventType = "session_expired"
	EventSessionPaymentFailed EventType = "session_payment_failed"
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventChargeRefunded       EventType = "charge_refunded"
	EventOther                EventType = "other"
)

// PaymentEvent is a verified processor notification. It is never stored.
type PaymentEvent struct {
	ID   string
	Type EventType
	// ProcessorType is the processor's own type name, e.g. "charge.refunded".
	ProcessorType string
	// SubjectID is the session id, or for refunds the originating payment
	// intent id.
	SubjectID       string
	PaymentIntentID string
	Raw             []byte
}
