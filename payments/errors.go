package payments

import (
	"errors"
	"fmt"

	"github.com/warp/treasury-engine/treasury"
)

var (
	// Input errors
	ErrInvalidMethod        = errors.New("invalid payment method")
	ErrInvalidStrategy      = errors.New("invalid recoupment strategy")
	ErrInstallmentsRequired = errors.New("spread strategy requires a positive number of installments")
	ErrInvalidDeduction     = errors.New("invalid advance deduction")

	// State errors
	ErrInvalidStatus = errors.New("invalid status for operation")

	// Resource errors
	ErrInsufficientCash   = errors.New("insufficient cash in registry")
	ErrInsufficientMobile = errors.New("insufficient mobile money balance")
	ErrCashRegisterClosed = errors.New("cash register closed")

	// Not found
	ErrPaymentNotFound = errors.New("salary payment not found")
	ErrAdvanceNotFound = errors.New("salary advance not found")
	ErrExpenseNotFound = errors.New("expense not found")

	// ErrRecoupmentCalculation marks a deduction plan exceeding the gross
	// amount. Unreachable by construction; treated as an internal defect.
	ErrRecoupmentCalculation = errors.New("recoupment calculation error")
)

// InvalidStatusError reports a lifecycle transition that is not allowed.
type InvalidStatusError struct {
	Entity string
	ID     string
	Status string
	Want   string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("%s %s is %s, must be %s", e.Entity, e.ID, e.Status, e.Want)
}

func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// PaymentFundsError reports the method account cannot cover a payment.
// It matches both the method-specific sentinel and treasury.ErrInsufficientFunds.
type PaymentFundsError struct {
	Method    Method
	Account   treasury.Account
	Available Amount
	Required  Amount
}

func (e *PaymentFundsError) Error() string {
	return fmt.Sprintf("insufficient %s: available %d, required %d", e.Method, e.Available, e.Required)
}

func (e *PaymentFundsError) Unwrap() []error {
	specific := ErrInsufficientCash
	if e.Method == MethodMobileMoney {
		specific = ErrInsufficientMobile
	}
	return []error{specific, treasury.ErrInsufficientFunds}
}

type RecoupmentCalculationError struct {
	Gross Amount
	Total Amount
}

func (e *RecoupmentCalculationError) Error() string {
	return fmt.Sprintf("recoupment total %d exceeds gross %d", e.Total, e.Gross)
}

func (e *RecoupmentCalculationError) Unwrap() error { return ErrRecoupmentCalculation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidMethod) ||
		errors.Is(err, ErrInvalidStrategy) ||
		errors.Is(err, ErrInstallmentsRequired) ||
		errors.Is(err, ErrInvalidDeduction) ||
		treasury.IsInputError(err)
}

func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidStatus) || treasury.IsStateError(err)
}

func IsResourceError(err error) bool {
	return errors.Is(err, ErrCashRegisterClosed) || treasury.IsResourceError(err)
}

func IsInternal(err error) bool {
	return errors.Is(err, ErrRecoupmentCalculation) || treasury.IsInternal(err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrAdvanceNotFound) ||
		errors.Is(err, ErrExpenseNotFound) ||
		treasury.IsNotFound(err)
}
