package payment

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/domain"
)

// SignatureHeader carries the processor's signature over the raw body.
const SignatureHeader = "Stripe-Signature"

var (
	// ErrProcessor marks any failed call to the payment processor.
	ErrProcessor = errors.New("payment processor error")
	// ErrSignatureInvalid means a notification failed authentication.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrMalformedEvent is a correctly signed body that is not an event.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// ProcessorError wraps the processor's own error; it matches ErrProcessor.
type ProcessorError struct {
	Op  string
	Err error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("payment processor %s: %v", e.Op, e.Err)
}

func (e *ProcessorError) Unwrap() []error {
	return []error{ErrProcessor, e.Err}
}

// SessionRequest describes one hosted checkout session.
type SessionRequest struct {
	// CheckoutID identifies this attempt and is used as the idempotency key.
	CheckoutID string
	Lines      []domain.CartLine
	Currency   string
	Customer   domain.Customer
	SuccessURL string
	CancelURL  string
}

// Processor creates hosted payment sessions.
type Processor interface {
	CreateSession(ctx context.Context, req SessionRequest) (*domain.PaymentSession, error)
}

// Verifier authenticates and decodes inbound notifications.
type Verifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (*domain.PaymentEvent, error)
}
