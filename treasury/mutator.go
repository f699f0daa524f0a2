package treasury

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// =============================================================================
// BALANCE MUTATOR - The only write path for balances
// =============================================================================

// BalanceMutator applies signed deltas to the snapshot and appends the
// matching TransactionRecord. It never opens a unit of work itself: the
// caller passes the Tx of its broader operation so both writes commit or
// roll back with it.
type BalanceMutator struct {
	clock Clock
	newID func() string
	log   zerolog.Logger
}

func NewBalanceMutator(clock Clock, log zerolog.Logger) *BalanceMutator {
	return &BalanceMutator{clock: clock, newID: NewID, log: log}
}

// Apply checks sufficiency for every debited account, appends the record,
// then saves the new snapshot. On error nothing has been written by Apply
// that the enclosing unit will keep.
func (m *BalanceMutator) Apply(ctx context.Context, tx Tx, deltas Deltas, meta Meta) (Snapshot, TransactionRecord, error) {
	touched, err := validateMutation(deltas, meta)
	if err != nil {
		return Snapshot{}, TransactionRecord{}, err
	}

	snap, err := tx.LockSnapshot(ctx)
	if err != nil {
		return Snapshot{}, TransactionRecord{}, err
	}

	next := snap
	applied := make(Deltas, len(touched))
	for _, a := range touched {
		have := snap.Balance(a)
		d := deltas[a]
		if have+d < 0 {
			return Snapshot{}, TransactionRecord{}, &InsufficientFundsError{
				Account:   a,
				Available: have,
				Required:  -d,
			}
		}
		next.Balances.set(a, have+d)
		applied[a] = d
	}

	amount := meta.Amount
	if amount == 0 {
		for _, d := range applied {
			if d.Abs() > amount {
				amount = d.Abs()
			}
		}
	}
	if err := checkRecord(touched, applied, amount, meta); err != nil {
		m.log.Error().Err(err).
			Str("type", string(meta.Type)).
			Str("direction", string(meta.Direction)).
			Int64("amount", int64(amount)).
			Msg("rejected inconsistent transaction record")
		return Snapshot{}, TransactionRecord{}, err
	}

	now := m.clock.Now()
	next.UpdatedAt = now

	rec := TransactionRecord{
		ID:            m.newID(),
		Sequence:      snap.Version + 1,
		Type:          meta.Type,
		Direction:     meta.Direction,
		Amount:        amount,
		Deltas:        applied,
		BalancesAfter: next.Balances,
		Description:   meta.Description,
		Reference:     meta.Reference,
		RecordedBy:    meta.RecordedBy,
		RecordedAt:    now,
	}

	// Log first, then the projection.
	if err := tx.AppendTransaction(ctx, rec); err != nil {
		return Snapshot{}, TransactionRecord{}, fmt.Errorf("append transaction: %w", err)
	}
	saved, err := tx.SaveSnapshot(ctx, next)
	if err != nil {
		return Snapshot{}, TransactionRecord{}, fmt.Errorf("save snapshot: %w", err)
	}

	m.log.Debug().
		Str("tx_id", rec.ID).
		Str("type", string(rec.Type)).
		Str("direction", string(rec.Direction)).
		Int64("amount", int64(rec.Amount)).
		Str("ref", rec.Reference.String()).
		Msg("balance mutated")

	return saved, rec, nil
}

func validateMutation(deltas Deltas, meta Meta) ([]Account, error) {
	for a := range deltas {
		if !a.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAccount, a)
		}
	}
	touched := deltas.Touched()
	if len(touched) == 0 {
		return nil, fmt.Errorf("%w: no account delta", ErrInvalidAmount)
	}
	if meta.Amount < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, meta.Amount)
	}
	if !meta.Type.Valid() {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidRecord, meta.Type)
	}
	if !meta.Direction.Valid() {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidRecord, meta.Direction)
	}
	return touched, nil
}

// checkRecord ties a record's amount and direction to its deltas. A record
// touching two accounts must be a transfer between them: the deltas cancel
// out and the direction follows the first account in ledger order.
func checkRecord(touched []Account, applied Deltas, amount Amount, meta Meta) error {
	switch len(touched) {
	case 1:
	case 2:
		if applied[touched[0]]+applied[touched[1]] != 0 {
			return fmt.Errorf("%w: %s %d and %s %d do not cancel out", ErrInconsistentRecord,
				touched[0], applied[touched[0]], touched[1], applied[touched[1]])
		}
		switch meta.Type {
		case TxBankDeposit, TxBankWithdrawal, TxAdjustment:
		default:
			return fmt.Errorf("%w: %s cannot move money between accounts", ErrInconsistentRecord, meta.Type)
		}
	default:
		return fmt.Errorf("%w: %d accounts in one record", ErrInconsistentRecord, len(touched))
	}

	d := applied[touched[0]]
	if amount != d.Abs() || meta.Direction != DirectionOf(d) {
		return fmt.Errorf("%w: %s %d vs delta %d", ErrInconsistentRecord, meta.Direction, amount, d)
	}
	return nil
}
