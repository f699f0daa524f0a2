package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/warp/treasury-engine/treasury"
)

// =============================================================================
// EXPENSE SERVICE
// =============================================================================

type ExpenseService struct {
	store   treasury.Store
	mutator *treasury.BalanceMutator
	clock   treasury.Clock
	log     zerolog.Logger
}

func NewExpenseService(l *treasury.Ledger) *ExpenseService {
	return &ExpenseService{
		store:   l.Store(),
		mutator: l.Mutator(),
		clock:   l.Clock(),
		log:     l.Logger(),
	}
}

type CreateExpenseRequest struct {
	Title     string
	Category  string
	Amount    Amount
	Method    Method
	Notes     string
	CreatedBy string
}

func (s *ExpenseService) Create(ctx context.Context, req CreateExpenseRequest) (Expense, error) {
	if _, err := req.Method.Account(); err != nil {
		return Expense{}, err
	}
	if req.Amount <= 0 {
		return Expense{}, fmt.Errorf("%w: expense %d", treasury.ErrInvalidAmount, req.Amount)
	}
	e := Expense{
		ID:        treasury.NewID(),
		Title:     req.Title,
		Category:  req.Category,
		Amount:    req.Amount,
		Method:    req.Method,
		Status:    StatusPending,
		Notes:     req.Notes,
		CreatedBy: req.CreatedBy,
		CreatedAt: s.clock.Now(),
	}
	err := withTx(ctx, s.store, func(tx Tx) error {
		return tx.CreateExpense(ctx, e)
	})
	return e, err
}

func (s *ExpenseService) Get(ctx context.Context, id string) (Expense, error) {
	var e Expense
	err := withTx(ctx, s.store, func(tx Tx) error {
		var err error
		e, err = tx.GetExpense(ctx, id)
		return err
	})
	return e, err
}

func (s *ExpenseService) Approve(ctx context.Context, id, actor string) (Expense, error) {
	return s.transition(ctx, id, func(e *Expense) error {
		if e.Status != StatusPending {
			return &InvalidStatusError{Entity: "expense", ID: e.ID, Status: string(e.Status), Want: string(StatusPending)}
		}
		now := s.clock.Now()
		e.Status = StatusApproved
		e.ApprovedBy = actor
		e.ApprovedAt = &now
		return nil
	})
}

func (s *ExpenseService) Cancel(ctx context.Context, id, reason, actor string) (Expense, error) {
	return s.transition(ctx, id, func(e *Expense) error {
		if e.Status != StatusPending && e.Status != StatusApproved {
			return &InvalidStatusError{Entity: "expense", ID: e.ID, Status: string(e.Status), Want: "pending or approved"}
		}
		now := s.clock.Now()
		e.Status = StatusCancelled
		e.CancelledAt = &now
		if reason = strings.TrimSpace(reason); reason != "" {
			e.Notes = strings.TrimSpace(e.Notes + "\ncancelled by " + actor + ": " + reason)
		}
		return nil
	})
}

func (s *ExpenseService) transition(ctx context.Context, id string, fn func(*Expense) error) (Expense, error) {
	var e Expense
	err := withTx(ctx, s.store, func(tx Tx) error {
		if _, err := tx.LockSnapshot(ctx); err != nil {
			return err
		}
		var err error
		if e, err = tx.GetExpense(ctx, id); err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
		return tx.UpdateExpense(ctx, e)
	})
	if err != nil {
		return Expense{}, err
	}
	return e, nil
}

// Pay disburses an approved expense from its method account.
func (s *ExpenseService) Pay(ctx context.Context, id, notes, actor string) (Expense, treasury.Snapshot, error) {
	var (
		e    Expense
		snap treasury.Snapshot
	)
	err := withTx(ctx, s.store, func(tx Tx) error {
		cur, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}
		if e, err = tx.GetExpense(ctx, id); err != nil {
			return err
		}
		if e.Status != StatusApproved {
			return &InvalidStatusError{Entity: "expense", ID: e.ID, Status: string(e.Status), Want: string(StatusApproved)}
		}
		account, err := e.Method.Account()
		if err != nil {
			return err
		}
		if err := checkFunds(cur, e.Method, e.Amount); err != nil {
			return err
		}

		txType := treasury.TxExpensePayment
		if e.Method == MethodMobileMoney {
			txType = treasury.TxMobileMoneyPayment
		}
		var rec treasury.TransactionRecord
		snap, rec, err = s.mutator.Apply(ctx, tx, treasury.Deltas{account: -e.Amount}, treasury.Meta{
			Type:        txType,
			Direction:   treasury.DirectionOut,
			Amount:      e.Amount,
			Description: "Expense: " + e.Title,
			Reference:   treasury.Reference{Kind: treasury.RefExpense, ID: e.ID},
			RecordedBy:  actor,
		})
		if err != nil {
			return err
		}

		e.Status = StatusPaid
		e.TransactionID = rec.ID
		e.PaidBy = actor
		e.PaidAt = &rec.RecordedAt
		if notes = strings.TrimSpace(notes); notes != "" {
			e.Notes = notes
		}
		return tx.UpdateExpense(ctx, e)
	})
	if err != nil {
		return Expense{}, treasury.Snapshot{}, err
	}

	s.log.Info().
		Str("expense_id", e.ID).
		Int64("amount", int64(e.Amount)).
		Str("method", string(e.Method)).
		Msg("expense paid")
	return e, snap, nil
}
