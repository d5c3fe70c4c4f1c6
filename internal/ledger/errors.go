package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means credentials were rejected or the auth endpoint was unreachable.
	ErrAuth = errors.New("ledger authentication failed")
	// ErrUnavailable covers network failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected is a 4xx the ledger will keep returning for the same request.
	ErrRejected = errors.New("ledger rejected request")
	// ErrNotFound means no invoice exists for the payment id.
	ErrNotFound = errors.New("ledger invoice not found")
)

// Error carries the failed operation and HTTP status alongside its kind.
// errors.Is matches both Kind and the wrapped cause.
type Error struct {
	Op         string
	StatusCode int
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ledger %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether err is a transient ledger failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrAuth)
}

func classify(op string, status int, body []byte, notFound bool) error {
	var cause error
	if len(body) > 0 {
		cause = errors.New(truncate(string(body), 256))
	}
	switch {
	case status >= 500:
		return &Error{Op: op, StatusCode: status, Kind: ErrUnavailable, Err: cause}
	case status == 404 && notFound:
		return &Error{Op: op, StatusCode: status, Kind: ErrNotFound, Err: cause}
	case status == 408 || status == 429:
		return &Error{Op: op, StatusCode: status, Kind: ErrUnavailable, Err: cause}
	default:
		return &Error{Op: op, StatusCode: status, Kind: ErrRejected, Err: cause}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
