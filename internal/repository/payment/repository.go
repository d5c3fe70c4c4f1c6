package payment

import (
	"context"

	"storefront/internal/domain"
)

// Repository is the local journal of invoice transitions already applied to
// the ledger. It is consulted before any ledger call so that redelivered
// notifications cost nothing.
type Repository interface {
	// GetState returns domain.ErrNotFound when no transition has been journaled.
	GetState(ctx context.Context, paymentID string) (*domain.PaymentState, error)
	// SaveState records the latest status. An empty PaymentIntentID keeps the
	// previously linked intent.
	SaveState(ctx context.Context, state domain.PaymentState) (*domain.PaymentState, error)
	// ResolveIntent finds the payment whose session produced intentID.
	ResolveIntent(ctx context.Context, intentID string) (*domain.PaymentState, error)
}
