/*
ledger.go - Treasury facade: snapshot, mutations, reversals, audit

PURPOSE:
  The transaction log is the source of truth; the snapshot is its
  materialized projection. The Ledger exposes the operations collaborators
  call directly, each in its own unit of work:

    Snapshot()    read the current balances
    Initialize()  create the singleton with opening balances
    SetLimits()   change float target / safe thresholds
    Mutate()      arbitrary deltas through BalanceMutator
    RecordIncome() single-account credit of an income type
    Reverse()     compensating record for an earlier one
    Audit()       replay the log and compare with the snapshot

CORRECTIONS:
  A mistake is never edited. Reverse() appends a record with the same type,
  opposite direction and negated deltas, pointing at the original with a
  {transaction, id} reference. Both stay in the log.

  Records tied to salary payments, advances, expenses or a daily count
  cannot be reversed here: they carry business state that the log alone
  cannot restore.

EXAMPLE FLOW:
  1. Opening balance:   adjustment  safe +5,000,000
  2. Student pays fees: student_payment registry +150,000
  3. Wrong amount:      Reverse(2) registry -150,000
  4. Correct entry:     student_payment registry +120,000

  Replay: safe 5,000,000, registry 120,000 == snapshot.
*/
package treasury

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store   Store
	mutator *BalanceMutator
	clock   Clock
	log     zerolog.Logger
}

func NewLedger(store Store, clock Clock, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		mutator: NewBalanceMutator(clock, log),
		clock:   clock,
		log:     log,
	}
}

func (l *Ledger) Store() Store             { return l.store }
func (l *Ledger) Mutator() *BalanceMutator { return l.mutator }
func (l *Ledger) Clock() Clock             { return l.clock }
func (l *Ledger) Logger() zerolog.Logger   { return l.log }

// Snapshot returns the current balances, read fresh in a unit of work.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := l.store.WithTx(ctx, func(tx Tx) error {
		var err error
		snap, err = tx.LockSnapshot(ctx)
		return err
	})
	return snap, err
}

// OpeningBalances are the balances the treasury starts with.
type OpeningBalances = Balances

// Initialize creates the snapshot at zero and books each non-zero opening
// balance as an adjustment, so that replaying the log from zero always
// reproduces the snapshot.
func (l *Ledger) Initialize(ctx context.Context, opening OpeningBalances, limits Limits, actor string) (Snapshot, error) {
	if err := limits.Validate(); err != nil {
		return Snapshot{}, err
	}
	for _, a := range Accounts {
		if opening.Of(a) < 0 {
			return Snapshot{}, fmt.Errorf("%w: opening %s balance %d", ErrInvalidAmount, a, opening.Of(a))
		}
	}

	var snap Snapshot
	err := l.store.WithTx(ctx, func(tx Tx) error {
		created, err := tx.CreateSnapshot(ctx, Snapshot{
			RegistryFloatTarget: limits.RegistryFloatTarget,
			SafeThresholdMin:    limits.SafeThresholdMin,
			SafeThresholdMax:    limits.SafeThresholdMax,
			UpdatedAt:           l.clock.Now(),
		})
		if err != nil {
			return err
		}
		snap = created

		for _, a := range Accounts {
			amount := opening.Of(a)
			if amount == 0 {
				continue
			}
			snap, _, err = l.mutator.Apply(ctx, tx, Deltas{a: amount}, Meta{
				Type:        TxAdjustment,
				Direction:   DirectionIn,
				Amount:      amount,
				Description: fmt.Sprintf("Opening balance (%s)", a),
				Reference:   Reference{Kind: RefOpeningBalance, ID: string(a)},
				RecordedBy:  actor,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	l.log.Info().
		Int64("total", int64(snap.TotalLiquidAssets())).
		Str("actor", actor).
		Msg("treasury initialized")
	return snap, nil
}

// SetLimits changes the float target and safe thresholds. Balances and the
// transaction log are untouched.
func (l *Ledger) SetLimits(ctx context.Context, limits Limits, actor string) (Snapshot, error) {
	if err := limits.Validate(); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	err := l.store.WithTx(ctx, func(tx Tx) error {
		cur, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}
		cur.RegistryFloatTarget = limits.RegistryFloatTarget
		cur.SafeThresholdMin = limits.SafeThresholdMin
		cur.SafeThresholdMax = limits.SafeThresholdMax
		cur.UpdatedAt = l.clock.Now()
		snap, err = tx.SaveSnapshot(ctx, cur)
		return err
	})
	if err == nil {
		l.log.Info().Str("actor", actor).Msg("treasury limits updated")
	}
	return snap, err
}

// Mutate applies deltas in a unit of work of its own.
func (l *Ledger) Mutate(ctx context.Context, deltas Deltas, meta Meta) (Snapshot, TransactionRecord, error) {
	var (
		snap Snapshot
		rec  TransactionRecord
	)
	err := l.store.WithTx(ctx, func(tx Tx) error {
		var err error
		snap, rec, err = l.mutator.Apply(ctx, tx, deltas, meta)
		return err
	})
	return snap, rec, err
}

// IncomeRequest books money received into one account.
type IncomeRequest struct {
	Account     Account
	Amount      Amount
	Type        TransactionType
	Description string
	Reference   Reference
	RecordedBy  string
}

func (l *Ledger) RecordIncome(ctx context.Context, req IncomeRequest) (Snapshot, TransactionRecord, error) {
	if req.Amount <= 0 {
		return Snapshot{}, TransactionRecord{}, fmt.Errorf("%w: %d", ErrInvalidAmount, req.Amount)
	}
	if !req.Type.IsIncome() {
		return Snapshot{}, TransactionRecord{}, fmt.Errorf("%w: %q is not an income type", ErrInvalidRecord, req.Type)
	}
	if !req.Account.Valid() {
		return Snapshot{}, TransactionRecord{}, fmt.Errorf("%w: %q", ErrInvalidAccount, req.Account)
	}
	return l.Mutate(ctx, Deltas{req.Account: req.Amount}, Meta{
		Type:        req.Type,
		Direction:   DirectionIn,
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
		RecordedBy:  req.RecordedBy,
	})
}

// Transactions lists log records.
func (l *Ledger) Transactions(ctx context.Context, filter TransactionFilter) ([]TransactionRecord, error) {
	var recs []TransactionRecord
	err := l.store.WithTx(ctx, func(tx Tx) error {
		var err error
		recs, err = tx.FindTransactions(ctx, filter)
		return err
	})
	return recs, err
}

// =============================================================================
// REVERSAL
// =============================================================================

// isReversible refuses records whose business object carries state the log
// cannot restore (advance balances, paid statuses, the day's count).
func isReversible(rec TransactionRecord) bool {
	if rec.IsReversal() || rec.Type == TxSalaryPayment || rec.Type == TxSalaryAdvance {
		return false
	}
	switch rec.Reference.Kind {
	case RefSalaryPayment, RefSalaryAdvance, RefAdvanceRepayment, RefExpense, RefDailyVerification:
		return false
	}
	return true
}

// Reverse appends a compensating record for transaction id.
func (l *Ledger) Reverse(ctx context.Context, id, reason, actor string) (Snapshot, TransactionRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return Snapshot{}, TransactionRecord{}, fmt.Errorf("%w: reversal reason", ErrExplanationRequired)
	}

	var (
		snap Snapshot
		rec  TransactionRecord
	)
	err := l.store.WithTx(ctx, func(tx Tx) error {
		orig, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !isReversible(orig) {
			return fmt.Errorf("%w: %s (%s)", ErrNotReversible, id, orig.Type)
		}

		ref := Reference{Kind: RefTransaction, ID: orig.ID}
		prior, err := tx.FindTransactions(ctx, TransactionFilter{Reference: &ref, Limit: 1})
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			return fmt.Errorf("%w: %s by %s", ErrAlreadyReversed, id, prior[0].ID)
		}

		snap, rec, err = l.mutator.Apply(ctx, tx, orig.Deltas.Neg(), Meta{
			Type:        orig.Type,
			Direction:   orig.Direction.Opposite(),
			Amount:      orig.Amount,
			Description: fmt.Sprintf("Reversal of %s: %s", orig.ID, reason),
			Reference:   ref,
			RecordedBy:  actor,
		})
		return err
	})
	if err != nil {
		return Snapshot{}, TransactionRecord{}, err
	}

	l.log.Info().
		Str("original", id).
		Str("reversal", rec.ID).
		Str("actor", actor).
		Msg("transaction reversed")
	return snap, rec, nil
}

// =============================================================================
// AUDIT - Replay the log against the projection
// =============================================================================

// AuditReport compares the replayed log with the stored snapshot.
type AuditReport struct {
	Consistent   bool
	Records      int
	Replayed     Balances
	Snapshot     Balances
	Drift        Balances // Snapshot - Replayed
	BrokenRecord string   // first record whose BalancesAfter disagrees with the replay
}

func (l *Ledger) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	err := l.store.WithTx(ctx, func(tx Tx) error {
		snap, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}
		recs, err := tx.FindTransactions(ctx, TransactionFilter{})
		if err != nil {
			return err
		}
		report = replay(recs, snap.Balances)
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}
	if !report.Consistent {
		l.log.Error().
			Int64("drift_registry", int64(report.Drift.Registry)).
			Int64("drift_safe", int64(report.Drift.Safe)).
			Int64("drift_bank", int64(report.Drift.Bank)).
			Int64("drift_mobile_money", int64(report.Drift.MobileMoney)).
			Str("broken_record", report.BrokenRecord).
			Msg("ledger audit found drift")
	}
	return report, nil
}

func replay(recs []TransactionRecord, current Balances) AuditReport {
	report := AuditReport{Records: len(recs), Snapshot: current}
	for _, rec := range recs {
		for a, d := range rec.Deltas {
			report.Replayed.set(a, report.Replayed.Of(a)+d)
		}
		if report.BrokenRecord == "" && rec.BalancesAfter != report.Replayed {
			report.BrokenRecord = rec.ID
		}
	}
	for _, a := range Accounts {
		report.Drift.set(a, current.Of(a)-report.Replayed.Of(a))
	}
	report.Consistent = report.Drift == (Balances{}) && report.BrokenRecord == ""
	return report
}
