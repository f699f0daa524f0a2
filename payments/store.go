package payments

import (
	"context"

	"github.com/warp/treasury-engine/treasury"
)

// Tx extends the treasury unit of work with the business records the
// payment flows update. Stores implement it on the same transaction so
// balance and record writes commit together.
type Tx interface {
	treasury.Tx

	CreateSalaryPayment(ctx context.Context, p SalaryPayment) error
	// GetSalaryPayment returns ErrPaymentNotFound if absent.
	GetSalaryPayment(ctx context.Context, id string) (SalaryPayment, error)
	UpdateSalaryPayment(ctx context.Context, p SalaryPayment) error

	CreateAdvance(ctx context.Context, a SalaryAdvance) error
	// GetAdvance returns ErrAdvanceNotFound if absent.
	GetAdvance(ctx context.Context, id string) (SalaryAdvance, error)
	UpdateAdvance(ctx context.Context, a SalaryAdvance) error
	// ListAdvances returns a user's advances oldest-disbursed first.
	// An empty status returns all of them.
	ListAdvances(ctx context.Context, userID string, status AdvanceStatus) ([]SalaryAdvance, error)

	CountRecoupments(ctx context.Context, advanceID string) (int, error)
	AppendRecoupment(ctx context.Context, r AdvanceRecoupment) error
	ListRecoupments(ctx context.Context, filter RecoupmentFilter) ([]AdvanceRecoupment, error)

	CreateExpense(ctx context.Context, e Expense) error
	// GetExpense returns ErrExpenseNotFound if absent.
	GetExpense(ctx context.Context, id string) (Expense, error)
	UpdateExpense(ctx context.Context, e Expense) error
}

// RecoupmentFilter selects recoupments by advance and/or salary payment.
type RecoupmentFilter struct {
	AdvanceID string
	PaymentID string
}

// withTx runs fn in a unit of work whose Tx must support payment records.
func withTx(ctx context.Context, store treasury.Store, fn func(Tx) error) error {
	return store.WithTx(ctx, func(tx treasury.Tx) error {
		ptx, ok := tx.(Tx)
		if !ok {
			return treasury.ErrStoreRequired
		}
		return fn(ptx)
	})
}

// checkFunds verifies the method account can pay required, returning the
// typed errors callers present to users.
func checkFunds(snap treasury.Snapshot, method Method, required Amount) error {
	account, err := method.Account()
	if err != nil {
		return err
	}
	if required <= 0 {
		return nil
	}
	available := snap.Balance(account)
	if method == MethodCash && available == 0 {
		return ErrCashRegisterClosed
	}
	if available < required {
		return &PaymentFundsError{
			Method:    method,
			Account:   account,
			Available: available,
			Required:  required,
		}
	}
	return nil
}
