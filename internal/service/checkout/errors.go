package checkout

import (
	"errors"
	"fmt"
)

// ErrPartialCheckout means a payment session exists without a ledger invoice.
var ErrPartialCheckout = errors.New("checkout partially completed")

// PartialFailureError carries the orphaned session id so an operator can
// reconcile it. It matches ErrPartialCheckout and the underlying ledger error.
type PartialFailureError struct {
	SessionID string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("payment session %s created but invoice not recorded: %v", e.SessionID, e.Err)
}

func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialCheckout, e.Err}
}
