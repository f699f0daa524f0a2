/*
Package payments implements the money flows built on the treasury ledger.

PURPOSE:
  Salary payments (with advance recoupment), salary advances, and expense
  payments. Each flow opens one unit of work, re-reads the snapshot and
  the business records inside it, calls BalanceMutator, updates the
  business records, and commits. Any failure discards all of it.

LIFECYCLES:
  SalaryPayment: pending -> approved -> paid
                         \-> cancelled   (from pending or approved)
  Expense:       pending -> approved -> paid
                         \-> cancelled
  SalaryAdvance: active -> fully_recouped (when remaining reaches 0)
                        \-> cancelled

ADVANCE INVARIANT:
  TotalRecouped + RemainingBalance == Amount, always.
  RemainingBalance never increases.

SEE ALSO:
  - recoupment.go: pure deduction planner
  - salary.go, advance.go, expense.go: processors
  - treasury/mutator.go: the only balance write path
*/
package payments

import (
	"fmt"
	"time"

	"github.com/warp/treasury-engine/treasury"
)

type Amount = treasury.Amount

// =============================================================================
// METHOD - Which account pays
// =============================================================================

type Method string

const (
	MethodCash        Method = "cash"
	MethodMobileMoney Method = "mobile_money"
)

// Account returns the treasury account a method draws from or credits.
func (m Method) Account() (treasury.Account, error) {
	switch m {
	case MethodCash:
		return treasury.AccountRegistry, nil
	case MethodMobileMoney:
		return treasury.AccountMobileMoney, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, m)
}

// =============================================================================
// SALARY ADVANCES
// =============================================================================

type Strategy string

const (
	StrategyFull   Strategy = "full"   // deduct as much as possible from the next salary
	StrategySpread Strategy = "spread" // deduct over NumberOfInstallments salaries
	StrategyCustom Strategy = "custom" // deducted only through manual amounts
)

func (s Strategy) Valid() bool {
	return s == StrategyFull || s == StrategySpread || s == StrategyCustom
}

type AdvanceStatus string

const (
	AdvanceActive        AdvanceStatus = "active"
	AdvanceFullyRecouped AdvanceStatus = "fully_recouped"
	AdvanceCancelled     AdvanceStatus = "cancelled"
)

type SalaryAdvance struct {
	ID                   string
	UserID               string
	Amount               Amount
	Method               Method
	Strategy             Strategy
	NumberOfInstallments int // set iff Strategy == spread
	TotalRecouped        Amount
	RemainingBalance     Amount
	Status               AdvanceStatus
	Notes                string
	TransactionID        string
	DisbursedBy          string
	DisbursedAt          time.Time
	UpdatedAt            time.Time
}

// recoup books one deduction against the advance.
func (a *SalaryAdvance) recoup(amount Amount, at time.Time) error {
	if a.Status != AdvanceActive {
		return &InvalidStatusError{Entity: "salary advance", ID: a.ID, Status: string(a.Status), Want: string(AdvanceActive)}
	}
	if amount <= 0 || amount > a.RemainingBalance {
		return fmt.Errorf("%w: %d against remaining %d of advance %s",
			ErrInvalidDeduction, amount, a.RemainingBalance, a.ID)
	}
	a.TotalRecouped += amount
	a.RemainingBalance -= amount
	if a.RemainingBalance == 0 {
		a.Status = AdvanceFullyRecouped
	}
	a.UpdatedAt = at
	return nil
}

// AdvanceRecoupment is one immutable deduction event.
// SalaryPaymentID is empty for direct repayments.
type AdvanceRecoupment struct {
	ID                string
	SalaryAdvanceID   string
	SalaryPaymentID   string
	Amount            Amount
	InstallmentNumber int
	Manual            bool
	TransactionID     string
	RecordedBy        string
	CreatedAt         time.Time
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusApproved  PaymentStatus = "approved"
	StatusPaid      PaymentStatus = "paid"
	StatusCancelled PaymentStatus = "cancelled"
)

// SalaryPayment is frozen once paid: AdvanceDeduction, NetAmount and
// Method never change again.
type SalaryPayment struct {
	ID               string
	UserID           string
	Period           string // e.g. "2026-10"
	GrossAmount      Amount
	AdvanceDeduction Amount
	NetAmount        Amount
	Status           PaymentStatus
	Method           Method
	Notes            string
	TransactionID    string
	CreatedBy        string
	ApprovedBy       string
	PaidBy           string
	CreatedAt        time.Time
	ApprovedAt       *time.Time
	PaidAt           *time.Time
	CancelledAt      *time.Time
}

type Expense struct {
	ID            string
	Title         string
	Category      string
	Amount        Amount
	Method        Method
	Status        PaymentStatus
	Notes         string
	TransactionID string
	CreatedBy     string
	ApprovedBy    string
	PaidBy        string
	CreatedAt     time.Time
	ApprovedAt    *time.Time
	PaidAt        *time.Time
	CancelledAt   *time.Time
}
