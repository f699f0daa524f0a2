/*
Package treasury provides the cash ledger engine.

PURPOSE:
  This package owns the institution's four cash positions (registry till,
  safe, bank, mobile money) and the append-only log of every movement.
  Business flows (salaries, advances, expenses) live in the payments
  package and are written in terms of the BalanceMutator defined here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: integer quantity in the currency's minor unit
  - Account: one of the four cash positions
  - Deltas: signed per-account changes applied in one mutation
  - Snapshot: the single current set of balances (materialized projection)
  - TransactionRecord: immutable audit entry with post-mutation balances

DESIGN PRINCIPLES:
  1. Immutability: records are never edited, only compensated
  2. Integers only: balances are minor units, never floats
  3. One write path: only BalanceMutator changes balances
  4. Log first: the record is appended before the projection is saved

SEE ALSO:
  - mutator.go: BalanceMutator
  - ledger.go: Ledger facade (snapshot, mutate, reverse, audit)
  - store.go: persistence interfaces
*/
package treasury

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Integer quantity in minor currency units
// =============================================================================

// Amount is a signed quantity of money in minor units.
// Balances are never negative; deltas may be.
type Amount int64

func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsNegative() bool { return a < 0 }

// Decimal renders the amount in major units for a currency with the given
// number of minor digits (0 for XOF/XAF, 2 for EUR/USD).
func (a Amount) Decimal(minorDigits int32) decimal.Decimal {
	return decimal.New(int64(a), -minorDigits)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type Account string

const (
	AccountRegistry    Account = "registry"
	AccountSafe        Account = "safe"
	AccountBank        Account = "bank"
	AccountMobileMoney Account = "mobile_money"
)

// Accounts lists every account in canonical order.
// Iteration over Deltas always follows this order.
var Accounts = []Account{AccountRegistry, AccountSafe, AccountBank, AccountMobileMoney}

func (a Account) Valid() bool {
	switch a {
	case AccountRegistry, AccountSafe, AccountBank, AccountMobileMoney:
		return true
	}
	return false
}

func ParseAccount(s string) (Account, error) {
	a := Account(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, s)
	}
	return a, nil
}

// Deltas holds signed changes for one or more accounts.
// Most mutations touch one account; bank transfers touch two.
type Deltas map[Account]Amount

// Touched returns the accounts with a non-zero delta, in canonical order.
func (d Deltas) Touched() []Account {
	var out []Account
	for _, a := range Accounts {
		if d[a] != 0 {
			out = append(out, a)
		}
	}
	return out
}

func (d Deltas) Neg() Deltas {
	out := make(Deltas, len(d))
	for a, v := range d {
		out[a] = -v
	}
	return out
}

// =============================================================================
// SNAPSHOT - The singleton balance row
// =============================================================================

// Balances holds the four account totals.
type Balances struct {
	Registry    Amount
	Safe        Amount
	Bank        Amount
	MobileMoney Amount
}

func (b Balances) Of(a Account) Amount {
	switch a {
	case AccountRegistry:
		return b.Registry
	case AccountSafe:
		return b.Safe
	case AccountBank:
		return b.Bank
	case AccountMobileMoney:
		return b.MobileMoney
	}
	return 0
}

func (b *Balances) set(a Account, v Amount) {
	switch a {
	case AccountRegistry:
		b.Registry = v
	case AccountSafe:
		b.Safe = v
	case AccountBank:
		b.Bank = v
	case AccountMobileMoney:
		b.MobileMoney = v
	}
}

func (b Balances) Total() Amount {
	return b.Registry + b.Safe + b.Bank + b.MobileMoney
}

// Snapshot is the single current set of account balances plus the
// limits configured for the till and the safe.
//
// INVARIANTS:
//   - Every balance is >= 0.
//   - Exactly one snapshot exists once the treasury is initialized.
//   - Changed only through BalanceMutator (balances) or Ledger.SetLimits (limits).
type Snapshot struct {
	Balances

	RegistryFloatTarget Amount
	SafeThresholdMin    Amount
	SafeThresholdMax    Amount

	LastVerifiedAt *time.Time
	LastVerifiedBy string
	UpdatedAt      time.Time

	// Version is bumped by every save; stores use it as a compare-and-swap guard.
	Version int64
}

func (s Snapshot) Balance(a Account) Amount { return s.Balances.Of(a) }

func (s Snapshot) TotalLiquidAssets() Amount { return s.Balances.Total() }

type SafeStatus string

const (
	SafeBelowMin SafeStatus = "below_min"
	SafeWithin   SafeStatus = "within"
	SafeAboveMax SafeStatus = "above_max"
)

// SafeStatus compares the safe balance with its thresholds.
// A zero maximum means no upper bound.
func (s Snapshot) SafeStatus() SafeStatus {
	if s.Safe < s.SafeThresholdMin {
		return SafeBelowMin
	}
	if s.SafeThresholdMax > 0 && s.Safe > s.SafeThresholdMax {
		return SafeAboveMax
	}
	return SafeWithin
}

// RegistryShortfall is how far the till is below its float target (0 if not).
func (s Snapshot) RegistryShortfall() Amount {
	if s.Registry >= s.RegistryFloatTarget {
		return 0
	}
	return s.RegistryFloatTarget - s.Registry
}

// Limits are the non-balance fields of the snapshot.
type Limits struct {
	RegistryFloatTarget Amount
	SafeThresholdMin    Amount
	SafeThresholdMax    Amount
}

func (l Limits) Validate() error {
	if l.RegistryFloatTarget < 0 || l.SafeThresholdMin < 0 || l.SafeThresholdMax < 0 {
		return ErrInvalidThresholds
	}
	if l.SafeThresholdMax > 0 && l.SafeThresholdMin > l.SafeThresholdMax {
		return ErrInvalidThresholds
	}
	return nil
}

// =============================================================================
// TRANSACTION RECORD - Immutable audit entry
// =============================================================================

type TransactionType string

const (
	TxStudentPayment     TransactionType = "student_payment"
	TxClubPayment        TransactionType = "club_payment"
	TxOtherIncome        TransactionType = "other_income"
	TxExpensePayment     TransactionType = "expense_payment"
	TxSalaryPayment      TransactionType = "salary_payment"
	TxSalaryAdvance      TransactionType = "salary_advance"
	TxBankDeposit        TransactionType = "bank_deposit"
	TxBankWithdrawal     TransactionType = "bank_withdrawal"
	TxAdjustment         TransactionType = "adjustment"
	TxMobileMoneyIncome  TransactionType = "mobile_money_income"
	TxMobileMoneyPayment TransactionType = "mobile_money_payment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxStudentPayment, TxClubPayment, TxOtherIncome, TxExpensePayment,
		TxSalaryPayment, TxSalaryAdvance, TxBankDeposit, TxBankWithdrawal,
		TxAdjustment, TxMobileMoneyIncome, TxMobileMoneyPayment:
		return true
	}
	return false
}

// IsIncome reports whether the type books money coming into the institution.
func (t TransactionType) IsIncome() bool {
	switch t {
	case TxStudentPayment, TxClubPayment, TxOtherIncome, TxMobileMoneyIncome:
		return true
	}
	return false
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// DirectionOf returns the direction implied by a signed delta.
func DirectionOf(delta Amount) Direction {
	if delta < 0 {
		return DirectionOut
	}
	return DirectionIn
}

// ReferenceKind tags the business object a record points at.
// The log stores kind + opaque id instead of a foreign key.
type ReferenceKind string

const (
	RefExpense           ReferenceKind = "expense"
	RefSalaryPayment     ReferenceKind = "salary_payment"
	RefSalaryAdvance     ReferenceKind = "salary_advance"
	RefAdvanceRepayment  ReferenceKind = "advance_recoupment"
	RefBankTransfer      ReferenceKind = "bank_transfer"
	RefDailyVerification ReferenceKind = "daily_verification"
	RefTransaction       ReferenceKind = "transaction"
	RefOpeningBalance    ReferenceKind = "opening_balance"
)

type Reference struct {
	Kind ReferenceKind
	ID   string
}

func (r Reference) IsZero() bool { return r.Kind == "" && r.ID == "" }

func (r Reference) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Kind) + ":" + r.ID
}

// TransactionRecord is one immutable entry of the transaction log.
// BalancesAfter holds all four balances as they were right after the mutation.
type TransactionRecord struct {
	ID            string
	Sequence      int64 // snapshot version produced by this mutation
	Type          TransactionType
	Direction     Direction
	Amount        Amount
	Deltas        Deltas
	BalancesAfter Balances
	Description   string
	Reference     Reference
	RecordedBy    string
	RecordedAt    time.Time
}

// IsReversal reports whether the record compensates an earlier one.
func (r TransactionRecord) IsReversal() bool { return r.Reference.Kind == RefTransaction }

// Meta describes the record produced by a mutation.
// Amount may be left zero; it then defaults to the largest absolute delta.
type Meta struct {
	Type        TransactionType
	Direction   Direction
	Amount      Amount
	Description string
	Reference   Reference
	RecordedBy  string
}
