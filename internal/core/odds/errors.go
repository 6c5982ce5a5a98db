package odds

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for conditions with no extra payload. Use errors.Is to
// test for these, including when wrapped.
var (
	ErrInvalidPrice   = errors.New("odds: invalid price")
	ErrInvalidPayload = errors.New("odds: invalid payload")
	ErrCancelled      = errors.New("odds: cancelled")
)

// AuthError means the upstream feed rejected the API key (HTTP 401). Fatal
// for the current refresh cycle.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return fmt.Sprintf("odds: auth error: %s", e.Message) }

// BadRequestError wraps an upstream 422 (unknown sport/market/region).
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return fmt.Sprintf("odds: bad request: %s", e.Message) }

// QuotaExhaustedError means the upstream feed returned HTTP 429. ResetAt is
// the instant the scheduler should resume ticking, if known.
type QuotaExhaustedError struct {
	ResetAt time.Time // zero if unknown
}

func (e *QuotaExhaustedError) Error() string {
	if e.ResetAt.IsZero() {
		return "odds: quota exhausted"
	}
	return fmt.Sprintf("odds: quota exhausted, resets at %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// TransientError covers network failures and 5xx responses. Retried by the
// scheduler under its backoff policy.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string { return fmt.Sprintf("odds: transient error: %v", e.Cause) }
func (e *TransientError) Unwrap() error { return e.Cause }

// StoreError wraps a failure in the durable store layer.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string { return fmt.Sprintf("odds: store error during %s: %v", e.Op, e.Cause) }
func (e *StoreError) Unwrap() error { return e.Cause }
