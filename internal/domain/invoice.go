package domain

import "time"

type InvoiceStatus string

const (
	InvoicePending  InvoiceStatus = "pending"
	InvoicePaid     InvoiceStatus = "paid"
	InvoiceRefunded InvoiceStatus = "refunded"
	InvoiceFailed   InvoiceStatus = "failed"
)

// CanTransition reports whether from → to is legal:
// pending → paid, pending → failed, paid → refunded.
func CanTransition(from, to InvoiceStatus) bool {
	switch from {
	case InvoicePending, "":
		return to == InvoicePaid || to == InvoiceFailed
	case InvoicePaid:
		return to == InvoiceRefunded
	default:
		return false
	}
}

// Reached reports whether an invoice in status current has already reached
// target or moved past it. A refunded invoice has been paid.
func Reached(current, target InvoiceStatus) bool {
	if current == target {
		return true
	}
	return current == InvoiceRefunded && target == InvoicePaid
}

// PaymentSession is the processor-side checkout transaction.
type PaymentSession struct {
	SessionID       string
	URL             string
	Currency        string
	TotalMinorUnits int64
	SuccessURL      string
	CancelURL       string
}

// Invoice is the ledger's billing record for one checkout, keyed by the
// payment session id.
type Invoice struct {
	PaymentID       string
	Customer        Customer
	Lines           []CartLine
	TotalMinorUnits int64
	Currency        string
	Status          InvoiceStatus
	PaymentDate     *time.Time
}

// PaymentState is the locally journaled view of transitions this service has
// applied to an invoice.
type PaymentState struct {
	PaymentID       string
	Status          InvoiceStatus
	PaymentIntentID string
	LastEventID     string
	UpdatedAt       time.Time
}
