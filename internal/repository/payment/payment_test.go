package payment

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/db/dbtest"
	"storefront/internal/domain"
)

func TestPostgres_SaveAndGetState(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgres(dbtest.Pool(t), nil)

	if _, err := repo.GetState(ctx, "sess_1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	saved, err := repo.SaveState(ctx, domain.PaymentState{PaymentID: "sess_1", Status: domain.InvoicePaid, PaymentIntentID: "pi_1", LastEventID: "evt_1"})
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if saved.Status != domain.InvoicePaid || saved.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected state %+v", saved)
	}

	got, err := repo.GetState(ctx, "sess_1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.LastEventID != "evt_1" {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestPostgres_SaveKeepsLinkedIntent(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgres(dbtest.Pool(t), nil)

	if _, err := repo.SaveState(ctx, domain.PaymentState{PaymentID: "sess_1", Status: domain.InvoicePaid, PaymentIntentID: "pi_1"}); err != nil {
		t.Fatalf("SaveState paid: %v", err)
	}
	updated, err := repo.SaveState(ctx, domain.PaymentState{PaymentID: "sess_1", Status: domain.InvoiceRefunded, LastEventID: "evt_2"})
	if err != nil {
		t.Fatalf("SaveState refunded: %v", err)
	}
	if updated.Status != domain.InvoiceRefunded || updated.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected state %+v", updated)
	}

	resolved, err := repo.ResolveIntent(ctx, "pi_1")
	if err != nil {
		t.Fatalf("ResolveIntent: %v", err)
	}
	if resolved.PaymentID != "sess_1" {
		t.Fatalf("unexpected resolution %+v", resolved)
	}
}

func TestPostgres_IntentLinkedTwice(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgres(dbtest.Pool(t), nil)

	if _, err := repo.SaveState(ctx, domain.PaymentState{PaymentID: "sess_1", Status: domain.InvoicePaid, PaymentIntentID: "pi_1"}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	_, err := repo.SaveState(ctx, domain.PaymentState{PaymentID: "sess_2", Status: domain.InvoicePaid, PaymentIntentID: "pi_1"})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPostgres_ResolveUnknownIntent(t *testing.T) {
	repo := NewPostgres(dbtest.Pool(t), nil)
	if _, err := repo.ResolveIntent(context.Background(), "pi_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
