/*
errors.go - Centralized error types for the leave engine

ERROR CATEGORIES:
  1. Transient - storage unavailable, timeouts, exhausted conflict retries.
     Safe to retry: every write is atomic, so a failed call changed nothing.
  2. Business rule - quota violations, invalid deltas, bad page tokens.
     Reported to the caller, never retried.

  "Balance not found" and "no history" are NOT errors in this package.
  Missing balances are created on read; empty history is an empty page.

USAGE:
  if leave.IsTransient(err) {
      // 503 + Retry-After
  }
  var qv *leave.QuotaViolationError
  if errors.As(err, &qv) { ... }
*/
package leave

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStoreUnavailable marks a transient storage failure. Callers retry.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrConcurrentModification is returned by Store.AppendTransaction when the
	// stored used value no longer matches the expected one.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrQuotaViolation is returned when a delta would push used outside
	// [0, total_entitlement].
	ErrQuotaViolation = errors.New("quota violation")

	// ErrInvalidDelta is returned for a zero delta.
	ErrInvalidDelta = errors.New("delta must be non-zero")

	// ErrInvalidPageToken is returned when a history page token cannot be decoded.
	ErrInvalidPageToken = errors.New("invalid page token")

	// ErrInvalidEmployeeID is returned for an empty employee identifier.
	ErrInvalidEmployeeID = errors.New("invalid employee id")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// QuotaViolationError carries the balance state that rejected a delta.
type QuotaViolationError struct {
	EmployeeID EmployeeID
	Total      int
	Used       int
	Delta      int
}

func (e *QuotaViolationError) Error() string {
	return fmt.Sprintf("quota violation for %s: used %d %+d outside [0, %d]",
		e.EmployeeID, e.Used, e.Delta, e.Total)
}

func (e *QuotaViolationError) Unwrap() error {
	return ErrQuotaViolation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsTransient returns true if the error might succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsClientError returns true if the error is due to invalid client input or a
// business rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrQuotaViolation) ||
		errors.Is(err, ErrInvalidDelta) ||
		errors.Is(err, ErrInvalidPageToken) ||
		errors.Is(err, ErrInvalidEmployeeID)
}

// Unavailable wraps a storage failure so that it matches ErrStoreUnavailable
// while keeping the cause inspectable. Store implementations use it for every
// driver error that is not a domain outcome.
func Unavailable(op string, err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
