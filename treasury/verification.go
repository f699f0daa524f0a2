package treasury

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// DAILY VERIFICATION - Physical count of the safe against the ledger
// =============================================================================

type VerificationStatus string

const (
	VerificationMatched     VerificationStatus = "matched"
	VerificationDiscrepancy VerificationStatus = "discrepancy"
)

// DailyVerification is the single count recorded for a calendar date.
// Discrepancy is counted minus expected; non-zero forces the safe balance to
// the counted value through an adjustment record (TransactionID).
type DailyVerification struct {
	ID              string
	Date            Date
	ExpectedBalance Amount
	CountedBalance  Amount
	Discrepancy     Amount
	Status          VerificationStatus
	Explanation     string
	TransactionID   string
	VerifiedBy      string
	VerifiedAt      time.Time
}

type VerifyRequest struct {
	CountedBalance Amount
	Explanation    string
	VerifiedBy     string
}

type DailyVerifier struct {
	store   Store
	mutator *BalanceMutator
	clock   Clock
	log     zerolog.Logger
}

func NewDailyVerifier(l *Ledger) *DailyVerifier {
	return &DailyVerifier{store: l.store, mutator: l.mutator, clock: l.clock, log: l.log}
}

// Verify records today's count. At most one verification exists per date.
func (v *DailyVerifier) Verify(ctx context.Context, req VerifyRequest) (DailyVerification, Snapshot, error) {
	if req.CountedBalance < 0 {
		return DailyVerification{}, Snapshot{}, fmt.Errorf("%w: counted balance %d", ErrInvalidAmount, req.CountedBalance)
	}

	var (
		result DailyVerification
		snap   Snapshot
	)
	err := v.store.WithTx(ctx, func(tx Tx) error {
		cur, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}

		now := v.clock.Now()
		today := DateOf(now)
		existing, err := tx.GetVerification(ctx, today)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s by %s", ErrAlreadyVerified, today, existing.VerifiedBy)
		}

		explanation := strings.TrimSpace(req.Explanation)
		result = DailyVerification{
			ID:              NewID(),
			Date:            today,
			ExpectedBalance: cur.Safe,
			CountedBalance:  req.CountedBalance,
			Discrepancy:     req.CountedBalance - cur.Safe,
			Status:          VerificationMatched,
			Explanation:     explanation,
			VerifiedBy:      req.VerifiedBy,
			VerifiedAt:      now,
		}

		if result.Discrepancy != 0 {
			if explanation == "" {
				return ErrExplanationRequired
			}
			result.Status = VerificationDiscrepancy

			var rec TransactionRecord
			cur, rec, err = v.mutator.Apply(ctx, tx, Deltas{AccountSafe: result.Discrepancy}, Meta{
				Type:        TxAdjustment,
				Direction:   DirectionOf(result.Discrepancy),
				Amount:      result.Discrepancy.Abs(),
				Description: fmt.Sprintf("Daily verification %s: %s", today, explanation),
				Reference:   Reference{Kind: RefDailyVerification, ID: result.ID},
				RecordedBy:  req.VerifiedBy,
			})
			if err != nil {
				return err
			}
			result.TransactionID = rec.ID
		}

		verifiedAt := now
		cur.LastVerifiedAt = &verifiedAt
		cur.LastVerifiedBy = req.VerifiedBy
		cur.UpdatedAt = now
		if snap, err = tx.SaveSnapshot(ctx, cur); err != nil {
			return err
		}
		return tx.AppendVerification(ctx, result)
	})
	if err != nil {
		return DailyVerification{}, Snapshot{}, err
	}

	ev := v.log.Info()
	if result.Status == VerificationDiscrepancy {
		ev = v.log.Warn().Int64("discrepancy", int64(result.Discrepancy)).Str("explanation", result.Explanation)
	}
	ev.Str("date", result.Date.String()).
		Int64("expected", int64(result.ExpectedBalance)).
		Int64("counted", int64(result.CountedBalance)).
		Str("verified_by", result.VerifiedBy).
		Msg("safe verified")

	return result, snap, nil
}

// Today returns today's verification, or nil if the safe was not counted yet.
func (v *DailyVerifier) Today(ctx context.Context) (*DailyVerification, error) {
	var out *DailyVerification
	err := v.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.GetVerification(ctx, DateOf(v.clock.Now()))
		return err
	})
	return out, err
}

// History lists verifications, newest first.
func (v *DailyVerifier) History(ctx context.Context, limit int) ([]DailyVerification, error) {
	var out []DailyVerification
	err := v.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListVerifications(ctx, limit)
		return err
	})
	return out, err
}
