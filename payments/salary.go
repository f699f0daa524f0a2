package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/warp/treasury-engine/treasury"
)

// =============================================================================
// SALARY SERVICE - Lifecycle and payment of salaries
// =============================================================================

type SalaryService struct {
	store   treasury.Store
	mutator *treasury.BalanceMutator
	clock   treasury.Clock
	engine  RecoupmentEngine
	log     zerolog.Logger
}

func NewSalaryService(l *treasury.Ledger) *SalaryService {
	return &SalaryService{
		store:   l.Store(),
		mutator: l.Mutator(),
		clock:   l.Clock(),
		log:     l.Logger(),
	}
}

type CreateSalaryRequest struct {
	UserID      string
	Period      string
	GrossAmount Amount
	Notes       string
	CreatedBy   string
}

// Create registers a pending salary payment.
func (s *SalaryService) Create(ctx context.Context, req CreateSalaryRequest) (SalaryPayment, error) {
	if req.GrossAmount <= 0 {
		return SalaryPayment{}, fmt.Errorf("%w: gross %d", treasury.ErrInvalidAmount, req.GrossAmount)
	}
	p := SalaryPayment{
		ID:          treasury.NewID(),
		UserID:      req.UserID,
		Period:      req.Period,
		GrossAmount: req.GrossAmount,
		NetAmount:   req.GrossAmount,
		Status:      StatusPending,
		Notes:       req.Notes,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   s.clock.Now(),
	}
	err := withTx(ctx, s.store, func(tx Tx) error {
		return tx.CreateSalaryPayment(ctx, p)
	})
	return p, err
}

func (s *SalaryService) Get(ctx context.Context, id string) (SalaryPayment, error) {
	var p SalaryPayment
	err := withTx(ctx, s.store, func(tx Tx) error {
		var err error
		p, err = tx.GetSalaryPayment(ctx, id)
		return err
	})
	return p, err
}

// Approve moves a pending payment to approved.
func (s *SalaryService) Approve(ctx context.Context, id, actor string) (SalaryPayment, error) {
	return s.transition(ctx, id, func(p *SalaryPayment) error {
		if p.Status != StatusPending {
			return &InvalidStatusError{Entity: "salary payment", ID: p.ID, Status: string(p.Status), Want: string(StatusPending)}
		}
		now := s.clock.Now()
		p.Status = StatusApproved
		p.ApprovedBy = actor
		p.ApprovedAt = &now
		return nil
	})
}

// Cancel terminates a payment that has not been paid.
func (s *SalaryService) Cancel(ctx context.Context, id, reason, actor string) (SalaryPayment, error) {
	return s.transition(ctx, id, func(p *SalaryPayment) error {
		if p.Status != StatusPending && p.Status != StatusApproved {
			return &InvalidStatusError{Entity: "salary payment", ID: p.ID, Status: string(p.Status), Want: "pending or approved"}
		}
		now := s.clock.Now()
		p.Status = StatusCancelled
		p.CancelledAt = &now
		if reason = strings.TrimSpace(reason); reason != "" {
			p.Notes = strings.TrimSpace(p.Notes + "\ncancelled by " + actor + ": " + reason)
		}
		return nil
	})
}

func (s *SalaryService) transition(ctx context.Context, id string, fn func(*SalaryPayment) error) (SalaryPayment, error) {
	var p SalaryPayment
	err := withTx(ctx, s.store, func(tx Tx) error {
		// Status changes serialize with Pay on the snapshot row.
		if _, err := tx.LockSnapshot(ctx); err != nil {
			return err
		}
		var err error
		if p, err = tx.GetSalaryPayment(ctx, id); err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		return tx.UpdateSalaryPayment(ctx, p)
	})
	if err != nil {
		return SalaryPayment{}, err
	}
	return p, nil
}

// =============================================================================
// PAY - The critical transactional operation
// =============================================================================

type PayRequest struct {
	PaymentID string
	Method    Method
	Notes     string
	PaidBy    string

	// ManualDeductions withhold amounts for custom-strategy advances.
	ManualDeductions []Deduction
}

type PayResult struct {
	Payment     SalaryPayment
	Deductions  []AdvanceRecoupment
	Snapshot    treasury.Snapshot
	Transaction *treasury.TransactionRecord // nil when the whole gross went to advances
}

// Pay releases an approved salary. In one unit of work it:
//   - re-reads the snapshot (locked) and the payment
//   - plans recoupment over the user's active advances, oldest first
//   - checks the method account covers the net amount
//   - writes one recoupment row per deduction and updates each advance
//   - debits the net amount through BalanceMutator
//   - marks the payment paid
//
// If ANY step fails, nothing is written.
func (s *SalaryService) Pay(ctx context.Context, req PayRequest) (PayResult, error) {
	account, err := req.Method.Account()
	if err != nil {
		return PayResult{}, err
	}

	var res PayResult
	err = withTx(ctx, s.store, func(tx Tx) error {
		snap, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}
		p, err := tx.GetSalaryPayment(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		if p.Status != StatusApproved {
			return &InvalidStatusError{Entity: "salary payment", ID: p.ID, Status: string(p.Status), Want: string(StatusApproved)}
		}

		advances, err := tx.ListAdvances(ctx, p.UserID, AdvanceActive)
		if err != nil {
			return err
		}
		balances := make([]AdvanceBalance, 0, len(advances))
		byID := make(map[string]SalaryAdvance, len(advances))
		made := make(map[string]int, len(advances))
		for _, a := range advances {
			n, err := tx.CountRecoupments(ctx, a.ID)
			if err != nil {
				return err
			}
			byID[a.ID] = a
			made[a.ID] = n
			balances = append(balances, AdvanceBalance{
				AdvanceID:            a.ID,
				Strategy:             a.Strategy,
				NumberOfInstallments: a.NumberOfInstallments,
				RemainingBalance:     a.RemainingBalance,
				RecoupmentsMade:      n,
				DisbursedAt:          a.DisbursedAt,
			})
		}

		plan, err := s.engine.Plan(p.GrossAmount, balances)
		if err != nil {
			s.log.Error().Err(err).Str("payment_id", p.ID).Msg("recoupment plan violated gross bound")
			return err
		}
		if plan, err = s.engine.ApplyManual(plan, p.GrossAmount, req.ManualDeductions, balances); err != nil {
			return err
		}
		net := p.GrossAmount - plan.TotalDeduction

		if err := checkFunds(snap, req.Method, net); err != nil {
			return err
		}

		now := s.clock.Now()
		for _, d := range plan.Deductions {
			adv := byID[d.AdvanceID]
			made[adv.ID]++
			r := AdvanceRecoupment{
				ID:                treasury.NewID(),
				SalaryAdvanceID:   adv.ID,
				SalaryPaymentID:   p.ID,
				Amount:            d.Amount,
				InstallmentNumber: made[adv.ID],
				Manual:            d.Manual,
				RecordedBy:        req.PaidBy,
				CreatedAt:         now,
			}
			if err := adv.recoup(d.Amount, now); err != nil {
				return err
			}
			if err := tx.AppendRecoupment(ctx, r); err != nil {
				return err
			}
			if err := tx.UpdateAdvance(ctx, adv); err != nil {
				return err
			}
			byID[adv.ID] = adv
			res.Deductions = append(res.Deductions, r)
		}

		res.Snapshot = snap
		if net > 0 {
			newSnap, rec, err := s.mutator.Apply(ctx, tx, treasury.Deltas{account: -net}, treasury.Meta{
				Type:        treasury.TxSalaryPayment,
				Direction:   treasury.DirectionOut,
				Amount:      net,
				Description: salaryDescription(p, plan.TotalDeduction),
				Reference:   treasury.Reference{Kind: treasury.RefSalaryPayment, ID: p.ID},
				RecordedBy:  req.PaidBy,
			})
			if err != nil {
				return err
			}
			res.Snapshot = newSnap
			res.Transaction = &rec
			p.TransactionID = rec.ID
		}

		p.Status = StatusPaid
		p.AdvanceDeduction = plan.TotalDeduction
		p.NetAmount = net
		p.Method = req.Method
		p.PaidBy = req.PaidBy
		p.PaidAt = &now
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			p.Notes = notes
		}
		if err := tx.UpdateSalaryPayment(ctx, p); err != nil {
			return err
		}
		res.Payment = p
		return nil
	})
	if err != nil {
		return PayResult{}, err
	}

	s.log.Info().
		Str("payment_id", res.Payment.ID).
		Str("user_id", res.Payment.UserID).
		Int64("gross", int64(res.Payment.GrossAmount)).
		Int64("deduction", int64(res.Payment.AdvanceDeduction)).
		Int64("net", int64(res.Payment.NetAmount)).
		Str("method", string(res.Payment.Method)).
		Msg("salary paid")
	return res, nil
}

func salaryDescription(p SalaryPayment, deduction Amount) string {
	desc := "Salary payment " + p.UserID
	if p.Period != "" {
		desc += " " + p.Period
	}
	if deduction > 0 {
		desc += fmt.Sprintf(" (advance deduction %d)", deduction)
	}
	return desc
}

// Recoupments lists the deductions withheld from a salary payment.
func (s *SalaryService) Recoupments(ctx context.Context, paymentID string) ([]AdvanceRecoupment, error) {
	var out []AdvanceRecoupment
	err := withTx(ctx, s.store, func(tx Tx) error {
		var err error
		out, err = tx.ListRecoupments(ctx, RecoupmentFilter{PaymentID: paymentID})
		return err
	})
	return out, err
}
