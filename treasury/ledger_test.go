package treasury_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/treasury-engine/store/memory"
	"github.com/warp/treasury-engine/treasury"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, opening treasury.Balances) (*treasury.Ledger, *treasury.FixedClock) {
	t.Helper()
	clock := treasury.NewFixedClock(start)
	l := treasury.NewLedger(memory.New(), clock, zerolog.Nop())
	_, err := l.Initialize(context.Background(), opening, treasury.Limits{}, "admin")
	require.NoError(t, err)
	return l, clock
}

func requireConsistent(t *testing.T, l *treasury.Ledger) {
	t.Helper()
	report, err := l.Audit(context.Background())
	require.NoError(t, err)
	require.True(t, report.Consistent, "drift %+v broken %s", report.Drift, report.BrokenRecord)
}

// =============================================================================
// INITIALIZE
// =============================================================================

func TestInitialize(t *testing.T) {
	// GIVEN: an empty store
	ctx := context.Background()
	l := treasury.NewLedger(memory.New(), treasury.NewFixedClock(start), zerolog.Nop())

	_, err := l.Snapshot(ctx)
	require.ErrorIs(t, err, treasury.ErrNotInitialized)

	// WHEN: the treasury is opened with three non-zero balances
	snap, err := l.Initialize(ctx, treasury.Balances{Registry: 100_000, Safe: 2_000_000, MobileMoney: 50_000},
		treasury.Limits{RegistryFloatTarget: 100_000, SafeThresholdMin: 500_000, SafeThresholdMax: 3_000_000}, "admin")

	// THEN: one opening record exists per non-zero account
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(2_150_000), snap.TotalLiquidAssets())
	assert.Equal(t, treasury.Amount(3_000_000), snap.SafeThresholdMax)

	recs, err := l.Transactions(ctx, treasury.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, treasury.TxAdjustment, rec.Type)
		assert.Equal(t, treasury.RefOpeningBalance, rec.Reference.Kind)
		assert.Equal(t, treasury.DirectionIn, rec.Direction)
		if i > 0 {
			assert.Greater(t, rec.Sequence, recs[i-1].Sequence)
		}
	}
	assert.Equal(t, snap.Version, recs[2].Sequence)
	requireConsistent(t, l)
}

func TestInitialize_Twice(t *testing.T) {
	l, _ := newLedger(t, treasury.Balances{Registry: 1})

	_, err := l.Initialize(context.Background(), treasury.Balances{Registry: 5}, treasury.Limits{}, "admin")

	assert.ErrorIs(t, err, treasury.ErrAlreadyInitialized)
	assert.True(t, treasury.IsStateError(err))
	snap, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(1), snap.Registry)
}

func TestInitialize_Validation(t *testing.T) {
	l := treasury.NewLedger(memory.New(), treasury.NewFixedClock(start), zerolog.Nop())

	_, err := l.Initialize(context.Background(), treasury.Balances{Bank: -1}, treasury.Limits{}, "admin")
	assert.ErrorIs(t, err, treasury.ErrInvalidAmount)

	_, err = l.Initialize(context.Background(), treasury.Balances{}, treasury.Limits{SafeThresholdMin: 2, SafeThresholdMax: 1}, "admin")
	assert.ErrorIs(t, err, treasury.ErrInvalidThresholds)
}

func TestSetLimits(t *testing.T) {
	l, _ := newLedger(t, treasury.Balances{Safe: 100})

	snap, err := l.SetLimits(context.Background(), treasury.Limits{SafeThresholdMin: 200}, "director")

	require.NoError(t, err)
	assert.Equal(t, treasury.SafeBelowMin, snap.SafeStatus())
	assert.Equal(t, treasury.Amount(100), snap.Safe)
	recs, err := l.Transactions(context.Background(), treasury.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1, "limits do not touch the log")
}

// =============================================================================
// MUTATE
// =============================================================================

func TestMutate(t *testing.T) {
	// GIVEN: a till holding 100,000
	ctx := context.Background()
	l, _ := newLedger(t, treasury.Balances{Registry: 100_000})

	// WHEN: 40,000 is paid out
	snap, rec, err := l.Mutate(ctx, treasury.Deltas{treasury.AccountRegistry: -40_000}, treasury.Meta{
		Type:       treasury.TxExpensePayment,
		Direction:  treasury.DirectionOut,
		RecordedBy: "cashier-1",
	})

	// THEN: the balance drops and the record carries the balances after
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(60_000), snap.Registry)
	assert.Equal(t, treasury.Amount(40_000), rec.Amount, "amount defaults to the delta")
	assert.Equal(t, snap.Balances, rec.BalancesAfter)
	assert.Equal(t, snap.Version, rec.Sequence)
	assert.Equal(t, start, rec.RecordedAt)
	requireConsistent(t, l)
}

func TestMutate_InsufficientFunds(t *testing.T) {
	// GIVEN: a till holding 100
	ctx := context.Background()
	l, _ := newLedger(t, treasury.Balances{Registry: 100})

	// WHEN: 101 is debited
	_, _, err := l.Mutate(ctx, treasury.Deltas{treasury.AccountRegistry: -101}, treasury.Meta{
		Type:      treasury.TxExpensePayment,
		Direction: treasury.DirectionOut,
	})

	// THEN: the error names the account and nothing is written
	var fundsErr *treasury.InsufficientFundsError
	require.True(t, errors.As(err, &fundsErr))
	assert.Equal(t, treasury.AccountRegistry, fundsErr.Account)
	assert.Equal(t, treasury.Amount(100), fundsErr.Available)
	assert.Equal(t, treasury.Amount(101), fundsErr.Required)
	assert.ErrorIs(t, err, treasury.ErrInsufficientFunds)

	recs, err := l.Transactions(ctx, treasury.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMutate_Rejected(t *testing.T) {
	l, _ := newLedger(t, treasury.Balances{Registry: 1_000, Safe: 1_000})

	tests := []struct {
		name   string
		deltas treasury.Deltas
		meta   treasury.Meta
		want   error
	}{
		{"no deltas", treasury.Deltas{}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionIn}, treasury.ErrInvalidAmount},
		{"only zero deltas", treasury.Deltas{treasury.AccountSafe: 0}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionIn}, treasury.ErrInvalidAmount},
		{"unknown account", treasury.Deltas{"vault": 1}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionIn}, treasury.ErrInvalidAccount},
		{"negative amount", treasury.Deltas{treasury.AccountSafe: 1}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionIn, Amount: -1}, treasury.ErrInvalidAmount},
		{"unknown type", treasury.Deltas{treasury.AccountSafe: 1}, treasury.Meta{Type: "gift", Direction: treasury.DirectionIn}, treasury.ErrInvalidRecord},
		{"unknown direction", treasury.Deltas{treasury.AccountSafe: 1}, treasury.Meta{Type: treasury.TxAdjustment, Direction: "sideways"}, treasury.ErrInvalidRecord},
		{"direction disagrees", treasury.Deltas{treasury.AccountSafe: -10}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionIn}, treasury.ErrInconsistentRecord},
		{"amount disagrees", treasury.Deltas{treasury.AccountSafe: -10}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionOut, Amount: 11}, treasury.ErrInconsistentRecord},
		{"two debits in one record", treasury.Deltas{treasury.AccountRegistry: -500, treasury.AccountSafe: -500}, treasury.Meta{Type: treasury.TxStudentPayment, Direction: treasury.DirectionIn, Amount: 1}, treasury.ErrInconsistentRecord},
		{"income type across accounts", treasury.Deltas{treasury.AccountRegistry: -100, treasury.AccountSafe: 100}, treasury.Meta{Type: treasury.TxStudentPayment, Direction: treasury.DirectionOut}, treasury.ErrInconsistentRecord},
		{"transfer direction disagrees", treasury.Deltas{treasury.AccountRegistry: -100, treasury.AccountSafe: 100}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionIn}, treasury.ErrInconsistentRecord},
		{"transfer amount disagrees", treasury.Deltas{treasury.AccountRegistry: -100, treasury.AccountSafe: 100}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionOut, Amount: 50}, treasury.ErrInconsistentRecord},
		{"three accounts", treasury.Deltas{treasury.AccountRegistry: -100, treasury.AccountSafe: 50, treasury.AccountBank: 50}, treasury.Meta{Type: treasury.TxAdjustment, Direction: treasury.DirectionOut}, treasury.ErrInconsistentRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := l.Mutate(context.Background(), tt.deltas, tt.meta)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	snap, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, treasury.Balances{Registry: 1_000, Safe: 1_000}, snap.Balances)
	requireConsistent(t, l)
}

func TestMutate_TransferBetweenAccounts(t *testing.T) {
	// GIVEN: a till over its float
	l, _ := newLedger(t, treasury.Balances{Registry: 1_000, Safe: 1_000})

	// WHEN: 400 is moved from the till to the safe
	snap, rec, err := l.Mutate(context.Background(), treasury.Deltas{treasury.AccountRegistry: -400, treasury.AccountSafe: 400}, treasury.Meta{
		Type:      treasury.TxAdjustment,
		Direction: treasury.DirectionOut,
	})

	// THEN: one record carries both legs
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(400), rec.Amount)
	assert.Equal(t, treasury.Balances{Registry: 600, Safe: 1_400}, snap.Balances)
	assert.Equal(t, snap.Balances, rec.BalancesAfter)
	requireConsistent(t, l)
}

func TestMutate_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	// GIVEN: a till of 1,000
	l, _ := newLedger(t, treasury.Balances{Registry: 1_000})

	// WHEN: 20 concurrent debits of 100 race
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := l.Mutate(context.Background(), treasury.Deltas{treasury.AccountRegistry: -100}, treasury.Meta{
				Type:      treasury.TxExpensePayment,
				Direction: treasury.DirectionOut,
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// THEN: exactly ten succeed
	assert.Equal(t, 10, ok)
	snap, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Registry)
	requireConsistent(t, l)
}

func TestRecordIncome(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, treasury.Balances{})

	snap, rec, err := l.RecordIncome(ctx, treasury.IncomeRequest{
		Account:     treasury.AccountMobileMoney,
		Amount:      25_000,
		Type:        treasury.TxMobileMoneyIncome,
		Description: "Tuition, March",
		RecordedBy:  "cashier-1",
	})
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(25_000), snap.MobileMoney)
	assert.Equal(t, treasury.DirectionIn, rec.Direction)

	_, _, err = l.RecordIncome(ctx, treasury.IncomeRequest{Account: treasury.AccountRegistry, Amount: 10, Type: treasury.TxExpensePayment})
	assert.ErrorIs(t, err, treasury.ErrInvalidRecord)

	_, _, err = l.RecordIncome(ctx, treasury.IncomeRequest{Account: treasury.AccountRegistry, Amount: 0, Type: treasury.TxOtherIncome})
	assert.ErrorIs(t, err, treasury.ErrInvalidAmount)
}

func TestTransactionsFilter(t *testing.T) {
	ctx := context.Background()
	l, clock := newLedger(t, treasury.Balances{Registry: 1_000})
	for i := 0; i < 3; i++ {
		clock.Advance(time.Hour)
		_, _, err := l.RecordIncome(ctx, treasury.IncomeRequest{Account: treasury.AccountRegistry, Amount: 10, Type: treasury.TxStudentPayment})
		require.NoError(t, err)
	}

	income, err := l.Transactions(ctx, treasury.TransactionFilter{Types: []treasury.TransactionType{treasury.TxStudentPayment}})
	require.NoError(t, err)
	assert.Len(t, income, 3)

	from := start.Add(2 * time.Hour)
	recent, err := l.Transactions(ctx, treasury.TransactionFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	latest, err := l.Transactions(ctx, treasury.TransactionFilter{Descending: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, start.Add(3*time.Hour), latest[0].RecordedAt)
}

// =============================================================================
// REVERSE
// =============================================================================

func TestReverse(t *testing.T) {
	// GIVEN: an income of 5,000 booked by mistake
	ctx := context.Background()
	l, _ := newLedger(t, treasury.Balances{Registry: 1_000})
	_, orig, err := l.RecordIncome(ctx, treasury.IncomeRequest{Account: treasury.AccountRegistry, Amount: 5_000, Type: treasury.TxClubPayment})
	require.NoError(t, err)

	// WHEN: it is reversed
	snap, rev, err := l.Reverse(ctx, orig.ID, "entered twice", "accountant")

	// THEN: a compensating record restores the till
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(1_000), snap.Registry)
	assert.Equal(t, orig.Type, rev.Type)
	assert.Equal(t, treasury.DirectionOut, rev.Direction)
	assert.Equal(t, orig.Amount, rev.Amount)
	assert.True(t, rev.IsReversal())
	assert.Equal(t, orig.ID, rev.Reference.ID)

	// AND: neither record can be reversed again
	_, _, err = l.Reverse(ctx, orig.ID, "again", "accountant")
	assert.ErrorIs(t, err, treasury.ErrAlreadyReversed)
	_, _, err = l.Reverse(ctx, rev.ID, "undo", "accountant")
	assert.ErrorIs(t, err, treasury.ErrNotReversible)
	requireConsistent(t, l)
}

func TestReverse_Refused(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, treasury.Balances{Registry: 1_000})
	_, spent, err := l.Mutate(ctx, treasury.Deltas{treasury.AccountRegistry: -500}, treasury.Meta{
		Type:      treasury.TxExpensePayment,
		Direction: treasury.DirectionOut,
		Reference: treasury.Reference{Kind: treasury.RefExpense, ID: "exp-1"},
	})
	require.NoError(t, err)

	_, _, err = l.Reverse(ctx, spent.ID, "", "accountant")
	assert.ErrorIs(t, err, treasury.ErrExplanationRequired)

	_, _, err = l.Reverse(ctx, spent.ID, "wrong expense", "accountant")
	assert.ErrorIs(t, err, treasury.ErrNotReversible)

	_, _, err = l.Reverse(ctx, "missing", "typo", "accountant")
	assert.ErrorIs(t, err, treasury.ErrTransactionNotFound)
	assert.True(t, treasury.IsNotFound(err))
}

func TestReverse_InsufficientFunds(t *testing.T) {
	// GIVEN: income of 500 that has since been spent
	ctx := context.Background()
	l, _ := newLedger(t, treasury.Balances{})
	_, in, err := l.RecordIncome(ctx, treasury.IncomeRequest{Account: treasury.AccountRegistry, Amount: 500, Type: treasury.TxOtherIncome})
	require.NoError(t, err)
	_, _, err = l.Mutate(ctx, treasury.Deltas{treasury.AccountRegistry: -400}, treasury.Meta{Type: treasury.TxExpensePayment, Direction: treasury.DirectionOut})
	require.NoError(t, err)

	// WHEN: the income is reversed
	_, _, err = l.Reverse(ctx, in.ID, "bounced", "accountant")

	// THEN: the reversal cannot overdraw the till
	assert.ErrorIs(t, err, treasury.ErrInsufficientFunds)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAudit(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, treasury.Balances{Registry: 10_000, Safe: 50_000})
	_, _, err := l.Mutate(ctx, treasury.Deltas{treasury.AccountRegistry: -2_000}, treasury.Meta{Type: treasury.TxExpensePayment, Direction: treasury.DirectionOut})
	require.NoError(t, err)

	report, err := l.Audit(ctx)

	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, treasury.Balances{Registry: 8_000, Safe: 50_000}, report.Replayed)
	assert.Equal(t, treasury.Balances{}, report.Drift)
}
