/*
errors.go - Centralized error types for the consistency engine

ERROR CATEGORIES:
  1. Lookup errors - referenced row does not exist
  2. Conflict errors - optimistic lock on a policy's premium total lost
  3. Infrastructure errors - store capability missing, queue closed/full

NOT ERRORS:
  A missing rate for a (insurer, type) pair is a normal "uncalculated"
  state. It is recorded on the installment and in repair reports, never
  returned as an error.

USAGE:
  if commission.IsRetryable(err) {
      // surface as 409 / ask the caller to retry
  }
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPolicyNotFound      = errors.New("policy not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrRateNotFound        = errors.New("rate entry not found")

	// ErrConcurrentModification is returned by a store when the policy version
	// no longer matches the one the caller read.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStoreRequired is returned when an operation requires a specific store capability.
	ErrStoreRequired = errors.New("operation requires extended store interface")

	ErrQueueClosed  = errors.New("fan-out queue closed")
	ErrQueueFull    = errors.New("fan-out queue full")
	ErrInvalidScope = errors.New("invalid repair scope")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransientError is returned when a write still conflicts after the retry.
// The caller may retry the whole operation.
type TransientError struct {
	Op       string
	PolicyID PolicyID
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s on policy %s: %v (retry)", e.Op, e.PolicyID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrRateNotFound)
}
