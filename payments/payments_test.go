package payments_test

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
	"github.com/warp/treasury-engine/store/memory"
	"github.com/warp/treasury-engine/treasury"
)

type fixture struct {
	ctx      context.Context
	ledger   *treasury.Ledger
	clock    *treasury.FixedClock
	salaries *payments.SalaryService
	advances *payments.AdvanceService
	expenses *payments.ExpenseService
}

func newFixture(t *testing.T, opening treasury.Balances) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := treasury.NewFixedClock(time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC))
	ledger := treasury.NewLedger(memory.New(), clock, zerolog.Nop())
	_, err := ledger.Initialize(ctx, opening, treasury.Limits{}, "admin")
	require.NoError(t, err)
	return &fixture{
		ctx:      ctx,
		ledger:   ledger,
		clock:    clock,
		salaries: payments.NewSalaryService(ledger),
		advances: payments.NewAdvanceService(ledger),
		expenses: payments.NewExpenseService(ledger),
	}
}

func (f *fixture) snapshot(t *testing.T) treasury.Snapshot {
	t.Helper()
	snap, err := f.ledger.Snapshot(f.ctx)
	require.NoError(t, err)
	return snap
}

func (f *fixture) approvedSalary(t *testing.T, userID string, gross treasury.Amount) payments.SalaryPayment {
	t.Helper()
	p, err := f.salaries.Create(f.ctx, payments.CreateSalaryRequest{UserID: userID, Period: "2026-02", GrossAmount: gross, CreatedBy: "hr"})
	require.NoError(t, err)
	p, err = f.salaries.Approve(f.ctx, p.ID, "director")
	require.NoError(t, err)
	return p
}

func (f *fixture) disburse(t *testing.T, req payments.DisburseRequest) payments.SalaryAdvance {
	t.Helper()
	if req.Method == "" {
		req.Method = payments.MethodCash
	}
	req.DisbursedBy = "hr"
	adv, _, err := f.advances.Disburse(f.ctx, req)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	return adv
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	report, err := f.ledger.Audit(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "drift %+v broken %s", report.Drift, report.BrokenRecord)
}

func assertAdvanceInvariant(t *testing.T, a payments.SalaryAdvance) {
	t.Helper()
	assert.Equal(t, a.Amount, a.TotalRecouped+a.RemainingBalance, "advance %s", a.ID)
	assert.GreaterOrEqual(t, int64(a.RemainingBalance), int64(0))
}

// =============================================================================
// SALARY PAY
// =============================================================================

func TestPay_FullStrategyAdvance(t *testing.T) {
	// GIVEN: a full-strategy advance of 300,000 and an approved salary of 1,000,000
	f := newFixture(t, treasury.Balances{Registry: 2_000_000})
	adv := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 300_000, Strategy: payments.StrategyFull})
	p := f.approvedSalary(t, "u-1", 1_000_000)

	// WHEN: the salary is paid in cash
	res, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "cashier-1"})

	// THEN: 300,000 is withheld and 700,000 leaves the till
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPaid, res.Payment.Status)
	assert.Equal(t, treasury.Amount(300_000), res.Payment.AdvanceDeduction)
	assert.Equal(t, treasury.Amount(700_000), res.Payment.NetAmount)
	assert.Equal(t, payments.MethodCash, res.Payment.Method)
	assert.Equal(t, "cashier-1", res.Payment.PaidBy)
	require.NotNil(t, res.Payment.PaidAt)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, treasury.TxSalaryPayment, res.Transaction.Type)
	assert.Equal(t, treasury.Amount(700_000), res.Transaction.Amount)
	assert.Equal(t, res.Transaction.ID, res.Payment.TransactionID)
	assert.Equal(t, treasury.Amount(2_000_000-300_000-700_000), res.Snapshot.Registry)

	// AND: the advance is fully recouped through one installment
	require.Len(t, res.Deductions, 1)
	assert.Equal(t, 1, res.Deductions[0].InstallmentNumber)
	assert.Equal(t, p.ID, res.Deductions[0].SalaryPaymentID)
	got, err := f.advances.Get(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.AdvanceFullyRecouped, got.Status)
	assert.Zero(t, got.RemainingBalance)
	assertAdvanceInvariant(t, got)
	f.assertConsistent(t)
}

func TestPay_SpreadStrategyAdvance(t *testing.T) {
	// GIVEN: a 900,000 advance spread over 3 installments
	f := newFixture(t, treasury.Balances{Registry: 5_000_000})
	adv := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 900_000, Strategy: payments.StrategySpread, NumberOfInstallments: 3})

	// WHEN: three monthly salaries of 1,000,000 are paid
	var remaining []treasury.Amount
	for i := 0; i < 3; i++ {
		p := f.approvedSalary(t, "u-1", 1_000_000)
		res, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "cashier-1"})
		require.NoError(t, err)
		assert.Equal(t, treasury.Amount(300_000), res.Payment.AdvanceDeduction)
		assert.Equal(t, treasury.Amount(700_000), res.Payment.NetAmount)
		assert.Equal(t, i+1, res.Deductions[0].InstallmentNumber)

		got, err := f.advances.Get(f.ctx, adv.ID)
		require.NoError(t, err)
		assertAdvanceInvariant(t, got)
		remaining = append(remaining, got.RemainingBalance)
		if i < 2 {
			assert.Equal(t, payments.AdvanceActive, got.Status)
		} else {
			assert.Equal(t, payments.AdvanceFullyRecouped, got.Status)
		}
	}

	// THEN: the balance steps down by a third each month
	assert.Equal(t, []treasury.Amount{600_000, 300_000, 0}, remaining)
	recoupments, err := f.advances.Recoupments(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Len(t, recoupments, 3)
	f.assertConsistent(t)
}

func TestPay_TwoAdvancesOldestFirst(t *testing.T) {
	// GIVEN: X disbursed before Y, both full strategy
	f := newFixture(t, treasury.Balances{Registry: 1_000_000})
	x := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 100_000, Strategy: payments.StrategyFull})
	y := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 500_000, Strategy: payments.StrategyFull})
	p := f.approvedSalary(t, "u-1", 300_000)

	// WHEN: a gross of 300,000 is paid
	res, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "cashier-1"})

	// THEN: X is cleared and Y takes the remaining 200,000; nothing is paid out
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(300_000), res.Payment.AdvanceDeduction)
	assert.Zero(t, res.Payment.NetAmount)
	assert.Nil(t, res.Transaction, "a zero net books no ledger record")
	assert.Empty(t, res.Payment.TransactionID)

	gotX, err := f.advances.Get(f.ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.AdvanceFullyRecouped, gotX.Status)
	gotY, err := f.advances.Get(f.ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(300_000), gotY.RemainingBalance)
	assert.Equal(t, payments.AdvanceActive, gotY.Status)

	// AND: the till only moved for the two disbursements
	assert.Equal(t, treasury.Amount(400_000), f.snapshot(t).Registry)
	f.assertConsistent(t)
}

func TestPay_OnlyOwnAdvances(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 1_000_000})
	f.disburse(t, payments.DisburseRequest{UserID: "someone-else", Amount: 100_000, Strategy: payments.StrategyFull})
	p := f.approvedSalary(t, "u-1", 200_000)

	res, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "c"})

	require.NoError(t, err)
	assert.Zero(t, res.Payment.AdvanceDeduction)
	assert.Empty(t, res.Deductions)
}

func TestPay_InsufficientCashRollsBackEverything(t *testing.T) {
	// GIVEN: an advance of 30,000 leaving 10,000 in the till
	f := newFixture(t, treasury.Balances{Registry: 40_000})
	adv := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 30_000, Strategy: payments.StrategyFull})
	p := f.approvedSalary(t, "u-1", 100_000)
	before := f.snapshot(t)

	// WHEN: paying a salary whose net is 70,000
	_, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "cashier-1"})

	// THEN: the payment fails with the amounts attached
	require.Error(t, err)
	assert.ErrorIs(t, err, payments.ErrInsufficientCash)
	assert.ErrorIs(t, err, treasury.ErrInsufficientFunds)
	assert.True(t, payments.IsResourceError(err))
	var fundsErr *payments.PaymentFundsError
	require.True(t, errors.As(err, &fundsErr))
	assert.Equal(t, treasury.Amount(10_000), fundsErr.Available)
	assert.Equal(t, treasury.Amount(70_000), fundsErr.Required)

	// AND: no deduction, no recoupment row, no balance change
	got, err := f.advances.Get(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(30_000), got.RemainingBalance)
	assert.Equal(t, payments.AdvanceActive, got.Status)
	rs, err := f.advances.Recoupments(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Empty(t, rs)
	gotP, err := f.salaries.Get(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusApproved, gotP.Status)
	assert.Equal(t, before, f.snapshot(t))
}

func TestPay_CashRegisterClosed(t *testing.T) {
	f := newFixture(t, treasury.Balances{Safe: 1_000_000})
	p := f.approvedSalary(t, "u-1", 100_000)

	_, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "c"})

	assert.ErrorIs(t, err, payments.ErrCashRegisterClosed)
	assert.True(t, payments.IsResourceError(err))
}

func TestPay_MobileMoney(t *testing.T) {
	f := newFixture(t, treasury.Balances{MobileMoney: 50_000})
	p := f.approvedSalary(t, "u-1", 80_000)

	_, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodMobileMoney, PaidBy: "c"})

	assert.ErrorIs(t, err, payments.ErrInsufficientMobile)
	assert.NotErrorIs(t, err, payments.ErrInsufficientCash)
}

func TestPay_RequiresApproved(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 1_000})
	p, err := f.salaries.Create(f.ctx, payments.CreateSalaryRequest{UserID: "u-1", GrossAmount: 100, CreatedBy: "hr"})
	require.NoError(t, err)

	_, err = f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "c"})

	assert.ErrorIs(t, err, payments.ErrInvalidStatus)
	assert.True(t, payments.IsStateError(err))
	var statusErr *payments.InvalidStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, string(payments.StatusPending), statusErr.Status)
}

func TestPay_InvalidMethod(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 1_000})
	p := f.approvedSalary(t, "u-1", 100)

	_, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: "cheque", PaidBy: "c"})

	assert.ErrorIs(t, err, payments.ErrInvalidMethod)
}

func TestPay_NotFound(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 1_000})

	_, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: "missing", Method: payments.MethodCash, PaidBy: "c"})

	assert.ErrorIs(t, err, payments.ErrPaymentNotFound)
	assert.True(t, payments.IsNotFound(err))
}

func TestPay_ManualDeductionForCustomAdvance(t *testing.T) {
	// GIVEN: a custom advance of 50,000
	f := newFixture(t, treasury.Balances{Registry: 500_000})
	adv := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 50_000, Strategy: payments.StrategyCustom})
	p := f.approvedSalary(t, "u-1", 200_000)

	// WHEN: paid with a manual deduction of 20,000
	res, err := f.salaries.Pay(f.ctx, payments.PayRequest{
		PaymentID:        p.ID,
		Method:           payments.MethodCash,
		PaidBy:           "cashier-1",
		ManualDeductions: []payments.Deduction{{AdvanceID: adv.ID, Amount: 20_000}},
	})

	// THEN: the manual amount is withheld and recorded as manual
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(20_000), res.Payment.AdvanceDeduction)
	assert.Equal(t, treasury.Amount(180_000), res.Payment.NetAmount)
	require.Len(t, res.Deductions, 1)
	assert.True(t, res.Deductions[0].Manual)
	got, err := f.advances.Get(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(30_000), got.RemainingBalance)
	assertAdvanceInvariant(t, got)
}

func TestPay_CustomAdvanceSkippedWithoutManual(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 500_000})
	adv := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 50_000, Strategy: payments.StrategyCustom})
	p := f.approvedSalary(t, "u-1", 200_000)

	res, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "c"})

	require.NoError(t, err)
	assert.Zero(t, res.Payment.AdvanceDeduction)
	got, err := f.advances.Get(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(50_000), got.RemainingBalance)
}

func TestPay_ConcurrentPaymentsSerialize(t *testing.T) {
	// GIVEN: a till of 500 and ten approved salaries of 100
	f := newFixture(t, treasury.Balances{Registry: 500})
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = f.approvedSalary(t, "u-1", 100).ID
	}

	// WHEN: all ten are paid at once
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		paid     int
		rejected int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: id, Method: payments.MethodCash, PaidBy: "c"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				paid++
				return
			}
			if payments.IsResourceError(err) {
				rejected++
			}
		}(id)
	}
	wg.Wait()

	// THEN: exactly five succeed and the till is empty, never negative
	assert.Equal(t, 5, paid)
	assert.Equal(t, 5, rejected)
	assert.Zero(t, f.snapshot(t).Registry)
	f.assertConsistent(t)
}

// =============================================================================
// SALARY LIFECYCLE
// =============================================================================

func TestSalaryLifecycle(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 1_000})

	_, err := f.salaries.Create(f.ctx, payments.CreateSalaryRequest{UserID: "u-1", GrossAmount: 0})
	assert.ErrorIs(t, err, treasury.ErrInvalidAmount)

	p, err := f.salaries.Create(f.ctx, payments.CreateSalaryRequest{UserID: "u-1", GrossAmount: 500, CreatedBy: "hr"})
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, p.Status)

	p, err = f.salaries.Cancel(f.ctx, p.ID, "duplicate", "director")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCancelled, p.Status)
	require.NotNil(t, p.CancelledAt)

	_, err = f.salaries.Approve(f.ctx, p.ID, "director")
	assert.ErrorIs(t, err, payments.ErrInvalidStatus)
	_, err = f.salaries.Cancel(f.ctx, p.ID, "again", "director")
	assert.ErrorIs(t, err, payments.ErrInvalidStatus)
}

// =============================================================================
// ADVANCES
// =============================================================================

func TestDisburse(t *testing.T) {
	// GIVEN: a till of 100,000
	f := newFixture(t, treasury.Balances{Registry: 100_000})

	// WHEN: an advance of 40,000 is disbursed
	adv, snap, err := f.advances.Disburse(f.ctx, payments.DisburseRequest{
		UserID: "u-1", Amount: 40_000, Method: payments.MethodCash, Strategy: payments.StrategyFull, NumberOfInstallments: 4, DisbursedBy: "hr",
	})

	// THEN: it opens with the full amount remaining and the till is debited
	require.NoError(t, err)
	assert.Equal(t, payments.AdvanceActive, adv.Status)
	assert.Equal(t, treasury.Amount(40_000), adv.RemainingBalance)
	assert.Zero(t, adv.TotalRecouped)
	assert.Zero(t, adv.NumberOfInstallments, "installments only apply to spread")
	assert.NotEmpty(t, adv.TransactionID)
	assert.Equal(t, treasury.Amount(60_000), snap.Registry)

	recs, err := f.ledger.Transactions(f.ctx, treasury.TransactionFilter{Types: []treasury.TransactionType{treasury.TxSalaryAdvance}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, treasury.Reference{Kind: treasury.RefSalaryAdvance, ID: adv.ID}, recs[0].Reference)
}

func TestDisburse_Validation(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 100_000})

	tests := []struct {
		name string
		req  payments.DisburseRequest
		want error
	}{
		{"zero amount", payments.DisburseRequest{Amount: 0, Method: payments.MethodCash, Strategy: payments.StrategyFull}, treasury.ErrInvalidAmount},
		{"bad method", payments.DisburseRequest{Amount: 1, Method: "card", Strategy: payments.StrategyFull}, payments.ErrInvalidMethod},
		{"bad strategy", payments.DisburseRequest{Amount: 1, Method: payments.MethodCash, Strategy: "weekly"}, payments.ErrInvalidStrategy},
		{"spread without installments", payments.DisburseRequest{Amount: 1, Method: payments.MethodCash, Strategy: payments.StrategySpread}, payments.ErrInstallmentsRequired},
		{"more than the till", payments.DisburseRequest{Amount: 100_001, Method: payments.MethodCash, Strategy: payments.StrategyFull}, payments.ErrInsufficientCash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.advances.Disburse(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, treasury.Amount(100_000), f.snapshot(t).Registry)
}

func TestRepay(t *testing.T) {
	// GIVEN: a custom advance of 50,000
	f := newFixture(t, treasury.Balances{Registry: 100_000})
	adv := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 50_000, Strategy: payments.StrategyCustom})

	// WHEN: the employee hands back 20,000 then 30,000 in cash
	adv1, r1, err := f.advances.Repay(f.ctx, payments.RepayRequest{AdvanceID: adv.ID, Amount: 20_000, Method: payments.MethodCash, RecordedBy: "cashier-1"})
	require.NoError(t, err)
	adv2, r2, err := f.advances.Repay(f.ctx, payments.RepayRequest{AdvanceID: adv.ID, Amount: 30_000, Method: payments.MethodCash, RecordedBy: "cashier-1"})
	require.NoError(t, err)

	// THEN: each repayment is an installment credited to the till
	assert.Equal(t, treasury.Amount(30_000), adv1.RemainingBalance)
	assert.Equal(t, 1, r1.InstallmentNumber)
	assert.Equal(t, 2, r2.InstallmentNumber)
	assert.Empty(t, r2.SalaryPaymentID)
	assert.NotEmpty(t, r2.TransactionID)
	assert.Equal(t, payments.AdvanceFullyRecouped, adv2.Status)
	assertAdvanceInvariant(t, adv2)
	assert.Equal(t, treasury.Amount(100_000), f.snapshot(t).Registry)

	// AND: nothing more can be repaid
	_, _, err = f.advances.Repay(f.ctx, payments.RepayRequest{AdvanceID: adv.ID, Amount: 1, Method: payments.MethodCash, RecordedBy: "c"})
	assert.ErrorIs(t, err, payments.ErrInvalidStatus)
	f.assertConsistent(t)
}

func TestRepay_MoreThanRemaining(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 100_000})
	adv := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 10_000, Strategy: payments.StrategyFull})

	_, _, err := f.advances.Repay(f.ctx, payments.RepayRequest{AdvanceID: adv.ID, Amount: 10_001, Method: payments.MethodCash, RecordedBy: "c"})

	assert.ErrorIs(t, err, payments.ErrInvalidDeduction)
	assert.Equal(t, treasury.Amount(90_000), f.snapshot(t).Registry)
}

func TestCancelAdvance(t *testing.T) {
	// GIVEN: an active advance
	f := newFixture(t, treasury.Balances{Registry: 100_000})
	adv := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 10_000, Strategy: payments.StrategyFull})

	// WHEN: it is cancelled
	got, err := f.advances.Cancel(f.ctx, adv.ID, "director")

	// THEN: it is written off and balances are untouched
	require.NoError(t, err)
	assert.Equal(t, payments.AdvanceCancelled, got.Status)
	assert.Equal(t, treasury.Amount(10_000), got.RemainingBalance)
	assert.Equal(t, treasury.Amount(90_000), f.snapshot(t).Registry)

	// AND: a later salary no longer recoups it
	p := f.approvedSalary(t, "u-1", 50_000)
	res, err := f.salaries.Pay(f.ctx, payments.PayRequest{PaymentID: p.ID, Method: payments.MethodCash, PaidBy: "c"})
	require.NoError(t, err)
	assert.Zero(t, res.Payment.AdvanceDeduction)

	_, err = f.advances.Cancel(f.ctx, adv.ID, "director")
	assert.ErrorIs(t, err, payments.ErrInvalidStatus)
}

func TestListByUser(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 100_000})
	a1 := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 1_000, Strategy: payments.StrategyFull})
	a2 := f.disburse(t, payments.DisburseRequest{UserID: "u-1", Amount: 2_000, Strategy: payments.StrategyFull})
	f.disburse(t, payments.DisburseRequest{UserID: "u-2", Amount: 3_000, Strategy: payments.StrategyFull})
	_, err := f.advances.Cancel(f.ctx, a1.ID, "director")
	require.NoError(t, err)

	all, err := f.advances.ListByUser(f.ctx, "u-1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a1.ID, all[0].ID)

	active, err := f.advances.ListByUser(f.ctx, "u-1", payments.AdvanceActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a2.ID, active[0].ID)
}

// =============================================================================
// EXPENSES
// =============================================================================

func TestExpensePay_InsufficientCash(t *testing.T) {
	// GIVEN: a till of 50,000 and an approved cash expense of 100,000
	f := newFixture(t, treasury.Balances{Registry: 50_000})
	e, err := f.expenses.Create(f.ctx, payments.CreateExpenseRequest{Title: "Generator repair", Amount: 100_000, Method: payments.MethodCash, CreatedBy: "admin"})
	require.NoError(t, err)
	_, err = f.expenses.Approve(f.ctx, e.ID, "director")
	require.NoError(t, err)

	// WHEN: it is paid
	_, _, err = f.expenses.Pay(f.ctx, e.ID, "", "cashier-1")

	// THEN: the payment fails with the available and required amounts
	require.ErrorIs(t, err, payments.ErrInsufficientCash)
	var fundsErr *payments.PaymentFundsError
	require.True(t, errors.As(err, &fundsErr))
	assert.Equal(t, treasury.Amount(50_000), fundsErr.Available)
	assert.Equal(t, treasury.Amount(100_000), fundsErr.Required)

	// AND: the till and the expense are unchanged
	assert.Equal(t, treasury.Amount(50_000), f.snapshot(t).Registry)
	got, err := f.expenses.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusApproved, got.Status)
}

func TestExpensePay(t *testing.T) {
	f := newFixture(t, treasury.Balances{Registry: 10_000, MobileMoney: 20_000})

	tests := []struct {
		method  payments.Method
		txType  treasury.TransactionType
		account treasury.Account
	}{
		{payments.MethodCash, treasury.TxExpensePayment, treasury.AccountRegistry},
		{payments.MethodMobileMoney, treasury.TxMobileMoneyPayment, treasury.AccountMobileMoney},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			before := f.snapshot(t).Balance(tt.account)
			e, err := f.expenses.Create(f.ctx, payments.CreateExpenseRequest{Title: "Supplies", Amount: 4_000, Method: tt.method, CreatedBy: "admin"})
			require.NoError(t, err)
			_, err = f.expenses.Approve(f.ctx, e.ID, "director")
			require.NoError(t, err)

			paid, snap, err := f.expenses.Pay(f.ctx, e.ID, "receipt 118", "cashier-1")

			require.NoError(t, err)
			assert.Equal(t, payments.StatusPaid, paid.Status)
			assert.Equal(t, "receipt 118", paid.Notes)
			assert.Equal(t, before-4_000, snap.Balance(tt.account))

			rec, err := f.ledger.Transactions(f.ctx, treasury.TransactionFilter{Reference: &treasury.Reference{Kind: treasury.RefExpense, ID: e.ID}})
			require.NoError(t, err)
			require.Len(t, rec, 1)
			assert.Equal(t, tt.txType, rec[0].Type)
			assert.Equal(t, paid.TransactionID, rec[0].ID)

			_, _, err = f.expenses.Pay(f.ctx, e.ID, "", "cashier-1")
			assert.ErrorIs(t, err, payments.ErrInvalidStatus)
		})
	}
	f.assertConsistent(t)
}

func TestExpenseCreate_Validation(t *testing.T) {
	f := newFixture(t, treasury.Balances{})

	_, err := f.expenses.Create(f.ctx, payments.CreateExpenseRequest{Title: "x", Amount: 10, Method: "card"})
	assert.ErrorIs(t, err, payments.ErrInvalidMethod)

	_, err = f.expenses.Create(f.ctx, payments.CreateExpenseRequest{Title: "x", Amount: -1, Method: payments.MethodCash})
	assert.ErrorIs(t, err, treasury.ErrInvalidAmount)

	_, err = f.expenses.Get(f.ctx, "missing")
	assert.ErrorIs(t, err, payments.ErrExpenseNotFound)
}

// =============================================================================
// STORE SUPPORT
// =============================================================================

type ledgerOnlyStore struct{ treasury.Store }

func (s ledgerOnlyStore) WithTx(ctx context.Context, fn func(treasury.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx treasury.Tx) error {
		return fn(struct{ treasury.Tx }{tx})
	})
}

func TestServicesRequirePaymentStore(t *testing.T) {
	ledger := treasury.NewLedger(ledgerOnlyStore{memory.New()}, treasury.SystemClock{}, zerolog.Nop())

	_, err := payments.NewSalaryService(ledger).Get(context.Background(), "x")

	assert.ErrorIs(t, err, treasury.ErrStoreRequired)
	assert.True(t, payments.IsInternal(err))
}
