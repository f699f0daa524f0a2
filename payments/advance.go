package payments

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/warp/treasury-engine/treasury"
)

// =============================================================================
// ADVANCE SERVICE - Disbursement, direct repayment, cancellation
// =============================================================================

type AdvanceService struct {
	store   treasury.Store
	mutator *treasury.BalanceMutator
	clock   treasury.Clock
	log     zerolog.Logger
}

func NewAdvanceService(l *treasury.Ledger) *AdvanceService {
	return &AdvanceService{
		store:   l.Store(),
		mutator: l.Mutator(),
		clock:   l.Clock(),
		log:     l.Logger(),
	}
}

type DisburseRequest struct {
	UserID               string
	Amount               Amount
	Method               Method
	Strategy             Strategy
	NumberOfInstallments int
	Notes                string
	DisbursedBy          string
}

func (r DisburseRequest) validate() (treasury.Account, error) {
	account, err := r.Method.Account()
	if err != nil {
		return "", err
	}
	if r.Amount <= 0 {
		return "", fmt.Errorf("%w: advance %d", treasury.ErrInvalidAmount, r.Amount)
	}
	if !r.Strategy.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, r.Strategy)
	}
	if r.Strategy == StrategySpread && r.NumberOfInstallments < 1 {
		return "", ErrInstallmentsRequired
	}
	return account, nil
}

// Disburse pays out a new advance and opens it with the full amount remaining.
func (s *AdvanceService) Disburse(ctx context.Context, req DisburseRequest) (SalaryAdvance, treasury.Snapshot, error) {
	account, err := req.validate()
	if err != nil {
		return SalaryAdvance{}, treasury.Snapshot{}, err
	}
	installments := req.NumberOfInstallments
	if req.Strategy != StrategySpread {
		installments = 0
	}

	var (
		adv  SalaryAdvance
		snap treasury.Snapshot
	)
	err = withTx(ctx, s.store, func(tx Tx) error {
		cur, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}
		if err := checkFunds(cur, req.Method, req.Amount); err != nil {
			return err
		}

		adv = SalaryAdvance{
			ID:                   treasury.NewID(),
			UserID:               req.UserID,
			Amount:               req.Amount,
			Method:               req.Method,
			Strategy:             req.Strategy,
			NumberOfInstallments: installments,
			TotalRecouped:        0,
			RemainingBalance:     req.Amount,
			Status:               AdvanceActive,
			Notes:                req.Notes,
			DisbursedBy:          req.DisbursedBy,
		}

		var rec treasury.TransactionRecord
		snap, rec, err = s.mutator.Apply(ctx, tx, treasury.Deltas{account: -req.Amount}, treasury.Meta{
			Type:        treasury.TxSalaryAdvance,
			Direction:   treasury.DirectionOut,
			Amount:      req.Amount,
			Description: "Salary advance " + req.UserID,
			Reference:   treasury.Reference{Kind: treasury.RefSalaryAdvance, ID: adv.ID},
			RecordedBy:  req.DisbursedBy,
		})
		if err != nil {
			return err
		}
		adv.TransactionID = rec.ID
		adv.DisbursedAt = rec.RecordedAt
		adv.UpdatedAt = rec.RecordedAt
		return tx.CreateAdvance(ctx, adv)
	})
	if err != nil {
		return SalaryAdvance{}, treasury.Snapshot{}, err
	}

	s.log.Info().
		Str("advance_id", adv.ID).
		Str("user_id", adv.UserID).
		Int64("amount", int64(adv.Amount)).
		Str("strategy", string(adv.Strategy)).
		Msg("salary advance disbursed")
	return adv, snap, nil
}

type RepayRequest struct {
	AdvanceID  string
	Amount     Amount
	Method     Method
	Notes      string
	RecordedBy string
}

// Repay books money handed back by the employee outside payroll. It is the
// direct path for custom-strategy advances and early settlement.
func (s *AdvanceService) Repay(ctx context.Context, req RepayRequest) (SalaryAdvance, AdvanceRecoupment, error) {
	account, err := req.Method.Account()
	if err != nil {
		return SalaryAdvance{}, AdvanceRecoupment{}, err
	}
	if req.Amount <= 0 {
		return SalaryAdvance{}, AdvanceRecoupment{}, fmt.Errorf("%w: repayment %d", treasury.ErrInvalidAmount, req.Amount)
	}
	txType := treasury.TxOtherIncome
	if req.Method == MethodMobileMoney {
		txType = treasury.TxMobileMoneyIncome
	}

	var (
		adv SalaryAdvance
		r   AdvanceRecoupment
	)
	err = withTx(ctx, s.store, func(tx Tx) error {
		if _, err := tx.LockSnapshot(ctx); err != nil {
			return err
		}
		var err error
		if adv, err = tx.GetAdvance(ctx, req.AdvanceID); err != nil {
			return err
		}
		n, err := tx.CountRecoupments(ctx, adv.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if err := adv.recoup(req.Amount, now); err != nil {
			return err
		}
		r = AdvanceRecoupment{
			ID:                treasury.NewID(),
			SalaryAdvanceID:   adv.ID,
			Amount:            req.Amount,
			InstallmentNumber: n + 1,
			Manual:            true,
			RecordedBy:        req.RecordedBy,
			CreatedAt:         now,
		}

		_, rec, err := s.mutator.Apply(ctx, tx, treasury.Deltas{account: req.Amount}, treasury.Meta{
			Type:        txType,
			Direction:   treasury.DirectionIn,
			Amount:      req.Amount,
			Description: fmt.Sprintf("Advance repayment %s installment %d", adv.UserID, r.InstallmentNumber),
			Reference:   treasury.Reference{Kind: treasury.RefAdvanceRepayment, ID: r.ID},
			RecordedBy:  req.RecordedBy,
		})
		if err != nil {
			return err
		}
		r.TransactionID = rec.ID

		if err := tx.AppendRecoupment(ctx, r); err != nil {
			return err
		}
		return tx.UpdateAdvance(ctx, adv)
	})
	if err != nil {
		return SalaryAdvance{}, AdvanceRecoupment{}, err
	}
	return adv, r, nil
}

// Cancel closes an active advance. Balances are untouched; the remaining
// amount simply stops being recouped.
func (s *AdvanceService) Cancel(ctx context.Context, id, actor string) (SalaryAdvance, error) {
	var adv SalaryAdvance
	err := withTx(ctx, s.store, func(tx Tx) error {
		// Pay and Repay update the same row under this lock.
		if _, err := tx.LockSnapshot(ctx); err != nil {
			return err
		}
		var err error
		if adv, err = tx.GetAdvance(ctx, id); err != nil {
			return err
		}
		if adv.Status != AdvanceActive {
			return &InvalidStatusError{Entity: "salary advance", ID: adv.ID, Status: string(adv.Status), Want: string(AdvanceActive)}
		}
		adv.Status = AdvanceCancelled
		adv.UpdatedAt = s.clock.Now()
		return tx.UpdateAdvance(ctx, adv)
	})
	if err != nil {
		return SalaryAdvance{}, err
	}
	s.log.Info().Str("advance_id", id).Str("actor", actor).Int64("written_off", int64(adv.RemainingBalance)).Msg("salary advance cancelled")
	return adv, nil
}

func (s *AdvanceService) Get(ctx context.Context, id string) (SalaryAdvance, error) {
	var adv SalaryAdvance
	err := withTx(ctx, s.store, func(tx Tx) error {
		var err error
		adv, err = tx.GetAdvance(ctx, id)
		return err
	})
	return adv, err
}

// ListByUser returns a user's advances, oldest first. Empty status means all.
func (s *AdvanceService) ListByUser(ctx context.Context, userID string, status AdvanceStatus) ([]SalaryAdvance, error) {
	var out []SalaryAdvance
	err := withTx(ctx, s.store, func(tx Tx) error {
		var err error
		out, err = tx.ListAdvances(ctx, userID, status)
		return err
	})
	return out, err
}

func (s *AdvanceService) Recoupments(ctx context.Context, advanceID string) ([]AdvanceRecoupment, error) {
	var out []AdvanceRecoupment
	err := withTx(ctx, s.store, func(tx Tx) error {
		var err error
		out, err = tx.ListRecoupments(ctx, RecoupmentFilter{AdvanceID: advanceID})
		return err
	})
	return out, err
}
