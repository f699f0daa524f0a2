/*
Package storetest holds the behaviour every treasury store must share.

USAGE:
  func TestStore(t *testing.T) {
      storetest.Run(t, func(t *testing.T) treasury.Store {
          return memory.New()
      })
  }

  The factory must return an empty store on every call.
*/
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/treasury-engine/payments"
	"github.com/warp/treasury-engine/treasury"
)

// Factory returns an empty store.
type Factory func(t *testing.T) treasury.Store

var (
	t0      = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	errBoom = errors.New("boom")
)

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Snapshot", func(t *testing.T) { testSnapshot(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("Verifications", func(t *testing.T) { testVerifications(t, newStore(t)) })
	t.Run("BankTransfers", func(t *testing.T) { testBankTransfers(t, newStore(t)) })
	t.Run("SalaryPayments", func(t *testing.T) { testSalaryPayments(t, newStore(t)) })
	t.Run("Advances", func(t *testing.T) { testAdvances(t, newStore(t)) })
	t.Run("Expenses", func(t *testing.T) { testExpenses(t, newStore(t)) })
	t.Run("ConcurrentDebits", func(t *testing.T) { testConcurrentDebits(t, newStore(t)) })
	t.Run("CancelRacesPay", func(t *testing.T) { testCancelRacesPay(t, newStore(t)) })
	t.Run("LedgerFlow", func(t *testing.T) { testLedgerFlow(t, newStore(t)) })
}

func withTx(t *testing.T, s treasury.Store, fn func(payments.Tx) error) error {
	t.Helper()
	return s.WithTx(context.Background(), func(tx treasury.Tx) error {
		ptx, ok := tx.(payments.Tx)
		require.True(t, ok, "store must implement payments.Tx")
		return fn(ptx)
	})
}

func sameTime(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.WithinDuration(t, want, got, time.Microsecond)
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func testSnapshot(t *testing.T, s treasury.Store) {
	ctx := context.Background()

	err := withTx(t, s, func(tx payments.Tx) error {
		_, err := tx.LockSnapshot(ctx)
		return err
	})
	require.ErrorIs(t, err, treasury.ErrNotInitialized)

	var created treasury.Snapshot
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		var err error
		created, err = tx.CreateSnapshot(ctx, treasury.Snapshot{
			Balances:            treasury.Balances{Registry: 100},
			RegistryFloatTarget: 50,
			SafeThresholdMax:    1_000,
			UpdatedAt:           t0,
		})
		return err
	}))
	assert.Equal(t, int64(1), created.Version)

	err = withTx(t, s, func(tx payments.Tx) error {
		_, err := tx.CreateSnapshot(ctx, treasury.Snapshot{UpdatedAt: t0})
		return err
	})
	assert.ErrorIs(t, err, treasury.ErrAlreadyInitialized)

	verified := t0.Add(time.Hour)
	var saved treasury.Snapshot
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		cur, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}
		cur.Registry = 150
		cur.LastVerifiedAt = &verified
		cur.LastVerifiedBy = "accountant"
		cur.UpdatedAt = verified
		saved, err = tx.SaveSnapshot(ctx, cur)
		return err
	}))
	assert.Equal(t, int64(2), saved.Version)

	err = withTx(t, s, func(tx payments.Tx) error {
		_, err := tx.SaveSnapshot(ctx, created)
		return err
	})
	assert.ErrorIs(t, err, treasury.ErrConcurrentModification, "stale version")

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		cur, err := tx.LockSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, treasury.Balances{Registry: 150}, cur.Balances)
		assert.Equal(t, treasury.Amount(50), cur.RegistryFloatTarget)
		assert.Equal(t, treasury.Amount(1_000), cur.SafeThresholdMax)
		assert.Equal(t, int64(2), cur.Version)
		assert.Equal(t, "accountant", cur.LastVerifiedBy)
		require.NotNil(t, cur.LastVerifiedAt)
		sameTime(t, verified, *cur.LastVerifiedAt)
		sameTime(t, verified, cur.UpdatedAt)
		return nil
	}))
}

func testRollback(t *testing.T, s treasury.Store) {
	ctx := context.Background()
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		_, err := tx.CreateSnapshot(ctx, treasury.Snapshot{Balances: treasury.Balances{Safe: 500}, UpdatedAt: t0})
		return err
	}))

	err := withTx(t, s, func(tx payments.Tx) error {
		cur, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, record("r1", 2, treasury.Deltas{treasury.AccountSafe: -100}, t0)); err != nil {
			return err
		}
		cur.Safe = 400
		if _, err := tx.SaveSnapshot(ctx, cur); err != nil {
			return err
		}
		if err := tx.CreateExpense(ctx, payments.Expense{ID: "e1", Title: "x", Amount: 1, Method: payments.MethodCash, Status: payments.StatusPending, CreatedAt: t0}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		cur, err := tx.LockSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, treasury.Amount(500), cur.Safe)
		assert.Equal(t, int64(1), cur.Version)

		recs, err := tx.FindTransactions(ctx, treasury.TransactionFilter{})
		require.NoError(t, err)
		assert.Empty(t, recs)

		_, err = tx.GetExpense(ctx, "e1")
		assert.ErrorIs(t, err, payments.ErrExpenseNotFound)
		return nil
	}))
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func record(id string, seq int64, deltas treasury.Deltas, at time.Time) treasury.TransactionRecord {
	rec := treasury.TransactionRecord{
		ID:          id,
		Sequence:    seq,
		Type:        treasury.TxAdjustment,
		Direction:   treasury.DirectionIn,
		Deltas:      deltas,
		Description: "record " + id,
		RecordedBy:  "tester",
		RecordedAt:  at,
	}
	for _, a := range deltas.Touched() {
		if deltas[a].Abs() > rec.Amount {
			rec.Amount = deltas[a].Abs()
		}
		if deltas[a] < 0 {
			rec.Direction = treasury.DirectionOut
		}
	}
	return rec
}

func testTransactions(t *testing.T, s treasury.Store) {
	ctx := context.Background()

	income := record("r1", 2, treasury.Deltas{treasury.AccountRegistry: 1_000}, t0)
	income.Type = treasury.TxStudentPayment
	income.BalancesAfter = treasury.Balances{Registry: 1_000}

	deposit := record("r2", 3, treasury.Deltas{treasury.AccountSafe: -400, treasury.AccountBank: 400}, t0.Add(time.Hour))
	deposit.Type = treasury.TxBankDeposit
	deposit.Direction = treasury.DirectionOut
	deposit.Reference = treasury.Reference{Kind: treasury.RefBankTransfer, ID: "bt-1"}

	expense := record("r3", 4, treasury.Deltas{treasury.AccountRegistry: -250}, t0.Add(2*time.Hour))
	expense.Type = treasury.TxExpensePayment
	expense.Reference = treasury.Reference{Kind: treasury.RefExpense, ID: "exp-1"}

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		for _, rec := range []treasury.TransactionRecord{income, deposit, expense} {
			if err := tx.AppendTransaction(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		got, err := tx.GetTransaction(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, deposit.Sequence, got.Sequence)
		assert.Equal(t, deposit.Type, got.Type)
		assert.Equal(t, deposit.Direction, got.Direction)
		assert.Equal(t, treasury.Amount(400), got.Amount)
		assert.Equal(t, deposit.Deltas, got.Deltas)
		assert.Equal(t, deposit.Reference, got.Reference)
		assert.Equal(t, "record r2", got.Description)
		assert.Equal(t, "tester", got.RecordedBy)
		sameTime(t, deposit.RecordedAt, got.RecordedAt)

		got, err = tx.GetTransaction(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, treasury.Balances{Registry: 1_000}, got.BalancesAfter)

		_, err = tx.GetTransaction(ctx, "nope")
		assert.ErrorIs(t, err, treasury.ErrTransactionNotFound)
		return nil
	}))

	ids := func(recs []treasury.TransactionRecord) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}
	from, to := t0.Add(30*time.Minute), t0.Add(90*time.Minute)
	tests := []struct {
		name   string
		filter treasury.TransactionFilter
		want   []string
	}{
		{"all in log order", treasury.TransactionFilter{}, []string{"r1", "r2", "r3"}},
		{"newest first", treasury.TransactionFilter{Descending: true}, []string{"r3", "r2", "r1"}},
		{"limit", treasury.TransactionFilter{Descending: true, Limit: 2}, []string{"r3", "r2"}},
		{"by type", treasury.TransactionFilter{Types: []treasury.TransactionType{treasury.TxStudentPayment, treasury.TxExpensePayment}}, []string{"r1", "r3"}},
		{"by reference", treasury.TransactionFilter{Reference: &treasury.Reference{Kind: treasury.RefExpense, ID: "exp-1"}}, []string{"r3"}},
		{"by time window", treasury.TransactionFilter{From: &from, To: &to}, []string{"r2"}},
		{"no match", treasury.TransactionFilter{Reference: &treasury.Reference{Kind: treasury.RefExpense, ID: "exp-2"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
				recs, err := tx.FindTransactions(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(recs))
				return nil
			}))
		})
	}
}

// =============================================================================
// VERIFICATIONS AND TRANSFERS
// =============================================================================

func testVerifications(t *testing.T, s treasury.Store) {
	ctx := context.Background()
	day1 := treasury.DailyVerification{
		ID: "v1", Date: "2026-03-02", ExpectedBalance: 5_000_000, CountedBalance: 4_800_000,
		Discrepancy: -200_000, Status: treasury.VerificationDiscrepancy, Explanation: "fuel",
		TransactionID: "r9", VerifiedBy: "accountant", VerifiedAt: t0,
	}
	day2 := treasury.DailyVerification{
		ID: "v2", Date: "2026-03-03", ExpectedBalance: 4_800_000, CountedBalance: 4_800_000,
		Status: treasury.VerificationMatched, VerifiedBy: "accountant", VerifiedAt: t0.Add(24 * time.Hour),
	}

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		v, err := tx.GetVerification(ctx, day1.Date)
		require.NoError(t, err)
		assert.Nil(t, v)
		if err := tx.AppendVerification(ctx, day1); err != nil {
			return err
		}
		return tx.AppendVerification(ctx, day2)
	}))

	err := withTx(t, s, func(tx payments.Tx) error {
		dup := day1
		dup.ID = "v3"
		return tx.AppendVerification(ctx, dup)
	})
	assert.ErrorIs(t, err, treasury.ErrAlreadyVerified)

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		v, err := tx.GetVerification(ctx, day1.Date)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, "v1", v.ID)
		assert.Equal(t, treasury.Amount(-200_000), v.Discrepancy)
		assert.Equal(t, treasury.VerificationDiscrepancy, v.Status)
		assert.Equal(t, "fuel", v.Explanation)
		assert.Equal(t, "r9", v.TransactionID)
		sameTime(t, t0, v.VerifiedAt)

		list, err := tx.ListVerifications(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "v2", list[0].ID)

		list, err = tx.ListVerifications(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return nil
	}))
}

func testBankTransfers(t *testing.T, s treasury.Store) {
	ctx := context.Background()
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		for i, typ := range []treasury.TransferType{treasury.TransferDeposit, treasury.TransferWithdrawal} {
			err := tx.AppendBankTransfer(ctx, treasury.BankTransfer{
				ID: string(typ), Type: typ, Amount: 100,
				SafeBefore: 1_000, SafeAfter: 900, BankBefore: 0, BankAfter: 100,
				BankReference: "SLIP", TransactionID: "r", RecordedBy: "accountant",
				RecordedAt: t0.Add(time.Duration(i) * time.Hour),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		list, err := tx.ListBankTransfers(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, treasury.TransferWithdrawal, list[0].Type)
		assert.Equal(t, treasury.Amount(900), list[1].SafeAfter)
		assert.Equal(t, "SLIP", list[1].BankReference)

		list, err = tx.ListBankTransfers(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return nil
	}))
}

// =============================================================================
// PAYMENT RECORDS
// =============================================================================

func testSalaryPayments(t *testing.T, s treasury.Store) {
	ctx := context.Background()
	p := payments.SalaryPayment{
		ID: "p1", UserID: "u-1", Period: "2026-03", GrossAmount: 100_000, NetAmount: 100_000,
		Status: payments.StatusPending, CreatedBy: "hr", CreatedAt: t0,
	}
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		return tx.CreateSalaryPayment(ctx, p)
	}))

	paidAt := t0.Add(time.Hour)
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		got, err := tx.GetSalaryPayment(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, got.PaidAt)
		got.Status = payments.StatusPaid
		got.AdvanceDeduction = 30_000
		got.NetAmount = 70_000
		got.Method = payments.MethodCash
		got.TransactionID = "r1"
		got.PaidBy = "cashier-1"
		got.PaidAt = &paidAt
		return tx.UpdateSalaryPayment(ctx, got)
	}))

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		got, err := tx.GetSalaryPayment(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, payments.StatusPaid, got.Status)
		assert.Equal(t, treasury.Amount(30_000), got.AdvanceDeduction)
		assert.Equal(t, treasury.Amount(70_000), got.NetAmount)
		assert.Equal(t, payments.MethodCash, got.Method)
		assert.Equal(t, "2026-03", got.Period)
		require.NotNil(t, got.PaidAt)
		sameTime(t, paidAt, *got.PaidAt)
		assert.Nil(t, got.CancelledAt)

		_, err = tx.GetSalaryPayment(ctx, "nope")
		assert.ErrorIs(t, err, payments.ErrPaymentNotFound)
		assert.ErrorIs(t, tx.UpdateSalaryPayment(ctx, payments.SalaryPayment{ID: "nope"}), payments.ErrPaymentNotFound)
		return nil
	}))
}

func testAdvances(t *testing.T, s treasury.Store) {
	ctx := context.Background()
	advance := func(id, user string, status payments.AdvanceStatus, at time.Time) payments.SalaryAdvance {
		return payments.SalaryAdvance{
			ID: id, UserID: user, Amount: 1_000, Method: payments.MethodCash, Strategy: payments.StrategySpread,
			NumberOfInstallments: 2, RemainingBalance: 1_000, Status: status,
			DisbursedBy: "hr", DisbursedAt: at, UpdatedAt: at,
		}
	}
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		for _, a := range []payments.SalaryAdvance{
			advance("newer", "u-1", payments.AdvanceActive, t0.Add(2*time.Hour)),
			advance("older", "u-1", payments.AdvanceActive, t0),
			advance("closed", "u-1", payments.AdvanceCancelled, t0.Add(time.Hour)),
			advance("other", "u-2", payments.AdvanceActive, t0),
		} {
			if err := tx.CreateAdvance(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		all, err := tx.ListAdvances(ctx, "u-1", "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"older", "closed", "newer"}, []string{all[0].ID, all[1].ID, all[2].ID})

		active, err := tx.ListAdvances(ctx, "u-1", payments.AdvanceActive)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "older", active[0].ID)
		assert.Equal(t, 2, active[0].NumberOfInstallments)

		older := active[0]
		older.TotalRecouped = 500
		older.RemainingBalance = 500
		older.UpdatedAt = t0.Add(3 * time.Hour)
		require.NoError(t, tx.UpdateAdvance(ctx, older))

		for i, r := range []payments.AdvanceRecoupment{
			{ID: "rc1", SalaryAdvanceID: "older", SalaryPaymentID: "p1", Amount: 500, InstallmentNumber: 1, TransactionID: "r1", RecordedBy: "c", CreatedAt: t0.Add(3 * time.Hour)},
			{ID: "rc2", SalaryAdvanceID: "older", Amount: 100, InstallmentNumber: 2, Manual: true, TransactionID: "r2", RecordedBy: "c", CreatedAt: t0.Add(4 * time.Hour)},
		} {
			require.NoError(t, tx.AppendRecoupment(ctx, r), "recoupment %d", i)
		}
		return nil
	}))

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		got, err := tx.GetAdvance(ctx, "older")
		require.NoError(t, err)
		assert.Equal(t, treasury.Amount(500), got.TotalRecouped)
		assert.Equal(t, treasury.Amount(500), got.RemainingBalance)
		sameTime(t, t0.Add(3*time.Hour), got.UpdatedAt)
		sameTime(t, t0, got.DisbursedAt)

		n, err := tx.CountRecoupments(ctx, "older")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = tx.CountRecoupments(ctx, "newer")
		require.NoError(t, err)
		assert.Zero(t, n)

		byAdvance, err := tx.ListRecoupments(ctx, payments.RecoupmentFilter{AdvanceID: "older"})
		require.NoError(t, err)
		require.Len(t, byAdvance, 2)
		assert.False(t, byAdvance[0].Manual)
		assert.True(t, byAdvance[1].Manual)
		assert.Empty(t, byAdvance[1].SalaryPaymentID)

		byPayment, err := tx.ListRecoupments(ctx, payments.RecoupmentFilter{PaymentID: "p1"})
		require.NoError(t, err)
		require.Len(t, byPayment, 1)
		assert.Equal(t, "rc1", byPayment[0].ID)

		_, err = tx.GetAdvance(ctx, "nope")
		assert.ErrorIs(t, err, payments.ErrAdvanceNotFound)
		assert.ErrorIs(t, tx.UpdateAdvance(ctx, payments.SalaryAdvance{ID: "nope"}), payments.ErrAdvanceNotFound)
		return nil
	}))
}

func testExpenses(t *testing.T, s treasury.Store) {
	ctx := context.Background()
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		return tx.CreateExpense(ctx, payments.Expense{
			ID: "e1", Title: "Printer toner", Category: "supplies", Amount: 45_000,
			Method: payments.MethodMobileMoney, Status: payments.StatusPending, CreatedBy: "admin", CreatedAt: t0,
		})
	}))

	approvedAt := t0.Add(time.Hour)
	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		e, err := tx.GetExpense(ctx, "e1")
		require.NoError(t, err)
		e.Status = payments.StatusApproved
		e.ApprovedBy = "director"
		e.ApprovedAt = &approvedAt
		return tx.UpdateExpense(ctx, e)
	}))

	require.NoError(t, withTx(t, s, func(tx payments.Tx) error {
		e, err := tx.GetExpense(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "Printer toner", e.Title)
		assert.Equal(t, "supplies", e.Category)
		assert.Equal(t, payments.MethodMobileMoney, e.Method)
		assert.Equal(t, payments.StatusApproved, e.Status)
		assert.Equal(t, "director", e.ApprovedBy)
		require.NotNil(t, e.ApprovedAt)
		sameTime(t, approvedAt, *e.ApprovedAt)
		assert.Nil(t, e.PaidAt)

		_, err = tx.GetExpense(ctx, "nope")
		assert.ErrorIs(t, err, payments.ErrExpenseNotFound)
		assert.ErrorIs(t, tx.UpdateExpense(ctx, payments.Expense{ID: "nope"}), payments.ErrExpenseNotFound)
		return nil
	}))
}

// =============================================================================
// THROUGH THE LEDGER
// =============================================================================

func testConcurrentDebits(t *testing.T, s treasury.Store) {
	ctx := context.Background()
	l := treasury.NewLedger(s, treasury.NewFixedClock(t0), zerolog.Nop())
	_, err := l.Initialize(ctx, treasury.Balances{Registry: 1_000}, treasury.Limits{}, "admin")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := l.Mutate(ctx, treasury.Deltas{treasury.AccountRegistry: -100}, treasury.Meta{
				Type:      treasury.TxExpensePayment,
				Direction: treasury.DirectionOut,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, treasury.ErrInsufficientFunds):
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, refused)
	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Registry)

	report, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 11, report.Records)
}

func testLedgerFlow(t *testing.T, s treasury.Store) {
	ctx := context.Background()
	clock := treasury.NewFixedClock(t0)
	l := treasury.NewLedger(s, clock, zerolog.Nop())
	_, err := l.Initialize(ctx, treasury.Balances{Registry: 2_000_000, Safe: 5_000_000}, treasury.Limits{}, "admin")
	require.NoError(t, err)

	advances := payments.NewAdvanceService(l)
	salaries := payments.NewSalaryService(l)
	expenses := payments.NewExpenseService(l)

	// An advance recouped by the next salary.
	adv, _, err := advances.Disburse(ctx, payments.DisburseRequest{
		UserID: "u-1", Amount: 300_000, Method: payments.MethodCash, Strategy: payments.StrategyFull, DisbursedBy: "hr",
	})
	require.NoError(t, err)
	clock.Advance(time.Hour)

	p, err := salaries.Create(ctx, payments.CreateSalaryRequest{UserID: "u-1", Period: "2026-03", GrossAmount: 1_000_000, CreatedBy: "hr"})
	require.NoError(t, err)
	_, err = salaries.Approve(ctx, p.ID, "director")
	require.NoError(t, err)
	res, err := salaries.Pay(ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "cashier-1"})
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(700_000), res.Payment.NetAmount)
	assert.Equal(t, treasury.Amount(1_000_000), res.Snapshot.Registry)

	got, err := advances.Get(ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.AdvanceFullyRecouped, got.Status)
	rs, err := salaries.Recoupments(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, rs, 1)

	// A failing expense leaves no trace.
	e, err := expenses.Create(ctx, payments.CreateExpenseRequest{Title: "Roof", Amount: 1_500_000, Method: payments.MethodCash, CreatedBy: "admin"})
	require.NoError(t, err)
	_, err = expenses.Approve(ctx, e.ID, "director")
	require.NoError(t, err)
	_, _, err = expenses.Pay(ctx, e.ID, "", "cashier-1")
	require.ErrorIs(t, err, payments.ErrInsufficientCash)

	// Safe count, deposit and a reversed income.
	_, _, err = treasury.NewDailyVerifier(l).Verify(ctx, treasury.VerifyRequest{CountedBalance: 4_800_000, Explanation: "fuel", VerifiedBy: "accountant"})
	require.NoError(t, err)
	_, _, err = treasury.NewBankTransferService(l).Transfer(ctx, treasury.TransferRequest{Type: treasury.TransferDeposit, Amount: 2_000_000, RecordedBy: "accountant"})
	require.NoError(t, err)
	_, in, err := l.RecordIncome(ctx, treasury.IncomeRequest{Account: treasury.AccountRegistry, Amount: 50_000, Type: treasury.TxStudentPayment})
	require.NoError(t, err)
	_, _, err = l.Reverse(ctx, in.ID, "duplicate receipt", "accountant")
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, treasury.Balances{Registry: 1_000_000, Safe: 2_800_000, Bank: 2_000_000}, snap.Balances)

	report, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "drift %+v broken %s", report.Drift, report.BrokenRecord)
}

func testCancelRacesPay(t *testing.T, s treasury.Store) {
	// GIVEN: an approved salary and an active spread advance for the same user
	ctx := context.Background()
	clock := treasury.NewFixedClock(t0)
	l := treasury.NewLedger(s, clock, zerolog.Nop())
	_, err := l.Initialize(ctx, treasury.Balances{Registry: 5_000_000}, treasury.Limits{}, "admin")
	require.NoError(t, err)
	salaries := payments.NewSalaryService(l)
	advances := payments.NewAdvanceService(l)

	adv, _, err := advances.Disburse(ctx, payments.DisburseRequest{
		UserID: "u-1", Amount: 900_000, Method: payments.MethodCash,
		Strategy: payments.StrategySpread, NumberOfInstallments: 3, DisbursedBy: "hr",
	})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	p, err := salaries.Create(ctx, payments.CreateSalaryRequest{UserID: "u-1", Period: "2026-03", GrossAmount: 1_000_000, CreatedBy: "hr"})
	require.NoError(t, err)
	_, err = salaries.Approve(ctx, p.ID, "director")
	require.NoError(t, err)

	// WHEN: the salary is paid while both the salary and the advance are cancelled
	var (
		wg                           sync.WaitGroup
		payErr, cancelErr, advCancel error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		_, payErr = salaries.Pay(ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "cashier-1"})
	}()
	go func() {
		defer wg.Done()
		_, cancelErr = salaries.Cancel(ctx, p.ID, "duplicate", "director")
	}()
	go func() {
		defer wg.Done()
		_, advCancel = advances.Cancel(ctx, adv.ID, "hr")
	}()
	wg.Wait()

	// THEN: exactly one of pay and cancel wins, the other sees the new status
	require.True(t, (payErr == nil) != (cancelErr == nil), "pay=%v cancel=%v", payErr, cancelErr)
	got, err := salaries.Get(ctx, p.ID)
	require.NoError(t, err)
	salaryRecs, err := l.Transactions(ctx, treasury.TransactionFilter{
		Reference: &treasury.Reference{Kind: treasury.RefSalaryPayment, ID: p.ID},
	})
	require.NoError(t, err)
	if payErr == nil {
		assert.ErrorIs(t, cancelErr, payments.ErrInvalidStatus)
		assert.Equal(t, payments.StatusPaid, got.Status)
		require.NotNil(t, got.PaidAt)
		assert.Len(t, salaryRecs, 1)
	} else {
		assert.ErrorIs(t, payErr, payments.ErrInvalidStatus)
		assert.Equal(t, payments.StatusCancelled, got.Status)
		assert.Nil(t, got.PaidAt)
		assert.Empty(t, salaryRecs)
	}

	// AND: the advance is cancelled without losing a recoupment
	require.NoError(t, advCancel)
	a, err := advances.Get(ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.AdvanceCancelled, a.Status)
	assert.Equal(t, a.Amount, a.TotalRecouped+a.RemainingBalance)
	rs, err := advances.Recoupments(ctx, adv.ID)
	require.NoError(t, err)
	var recouped treasury.Amount
	for _, r := range rs {
		recouped += r.Amount
	}
	assert.Equal(t, a.TotalRecouped, recouped)

	report, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "drift %+v broken %s", report.Drift, report.BrokenRecord)
}
