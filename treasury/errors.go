/*
errors.go - Centralized error types for the treasury engine

ERROR CATEGORIES:
  1. Input errors    - malformed amount, missing explanation, unknown account
  2. State errors    - already verified today, already initialized, already reversed
  3. Resource errors - insufficient funds, uninitialized treasury
  4. Internal errors - invariant violations; never expected, always logged

  Every error raised inside a unit of work unwinds the whole unit.

USAGE:
  Callers classify with errors.Is / errors.As:

    var fundsErr *treasury.InsufficientFundsError
    if errors.As(err, &fundsErr) {
        fmt.Printf("%s has %d, needs %d\n", fundsErr.Account, fundsErr.Available, fundsErr.Required)
    }

SEE ALSO:
  - payments/errors.go: payment-flow errors wrapping these
*/
package treasury

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Input errors
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrInvalidTransfer     = errors.New("invalid bank transfer type")
	ErrInvalidThresholds   = errors.New("invalid thresholds: min must not exceed max")
	ErrExplanationRequired = errors.New("explanation required when counted balance differs")
	ErrInvalidRecord       = errors.New("invalid transaction metadata")

	// State errors
	ErrAlreadyVerified     = errors.New("safe already verified today")
	ErrAlreadyInitialized  = errors.New("treasury already initialized")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
	ErrNotReversible       = errors.New("transaction cannot be reversed")
	ErrTransactionNotFound = errors.New("transaction not found")

	// Resource errors
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotInitialized    = errors.New("treasury not initialized")

	// ErrConcurrentModification is returned when the snapshot version moved
	// between read and write. The unit of work is safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Internal errors
	ErrInconsistentRecord = errors.New("transaction record inconsistent with balance delta")
	ErrStoreRequired      = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports an account that cannot cover a debit.
type InsufficientFundsError struct {
	Account   Account
	Available Amount
	Required  Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %d, required %d",
		e.Account, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsInputError returns true for malformed caller input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrInvalidTransfer) ||
		errors.Is(err, ErrInvalidThresholds) ||
		errors.Is(err, ErrExplanationRequired) ||
		errors.Is(err, ErrInvalidRecord)
}

// IsStateError returns true when the operation conflicts with current state.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyVerified) ||
		errors.Is(err, ErrAlreadyInitialized) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrNotReversible)
}

// IsResourceError returns true when funds or the treasury itself are missing.
func IsResourceError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNotInitialized)
}

// IsInternal returns true for invariant violations.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInconsistentRecord) ||
		errors.Is(err, ErrStoreRequired)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound)
}
