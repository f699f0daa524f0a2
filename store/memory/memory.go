// Package memory provides an in-memory implementation of treasury.Store
// and payments.Tx, for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/treasury-engine/payments"
	"github.com/warp/treasury-engine/treasury"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store holds everything in maps. A unit of work holds the mutex for its
// whole duration, so units are fully serialized; rollback restores a copy
// of the state taken when the unit began.
type Store struct {
	mu    sync.Mutex
	state state
}

type state struct {
	snapshot      *treasury.Snapshot
	transactions  []treasury.TransactionRecord
	verifications map[treasury.Date]treasury.DailyVerification
	transfers     []treasury.BankTransfer
	salaries      map[string]payments.SalaryPayment
	advances      map[string]payments.SalaryAdvance
	recoupments   []payments.AdvanceRecoupment
	expenses      map[string]payments.Expense
}

func New() *Store {
	return &Store{state: state{
		verifications: make(map[treasury.Date]treasury.DailyVerification),
		salaries:      make(map[string]payments.SalaryPayment),
		advances:      make(map[string]payments.SalaryAdvance),
		expenses:      make(map[string]payments.Expense),
	}}
}

// WithTx executes fn within a unit of work.
// For memory store, this is simulated with a copy + restore on error.
func (s *Store) WithTx(ctx context.Context, fn func(treasury.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = saved
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(&tx{s: &s.state}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (st state) clone() state {
	c := state{
		transactions:  append([]treasury.TransactionRecord(nil), st.transactions...),
		verifications: make(map[treasury.Date]treasury.DailyVerification, len(st.verifications)),
		transfers:     append([]treasury.BankTransfer(nil), st.transfers...),
		salaries:      make(map[string]payments.SalaryPayment, len(st.salaries)),
		advances:      make(map[string]payments.SalaryAdvance, len(st.advances)),
		recoupments:   append([]payments.AdvanceRecoupment(nil), st.recoupments...),
		expenses:      make(map[string]payments.Expense, len(st.expenses)),
	}
	if st.snapshot != nil {
		snap := *st.snapshot
		c.snapshot = &snap
	}
	for k, v := range st.verifications {
		c.verifications[k] = v
	}
	for k, v := range st.salaries {
		c.salaries[k] = v
	}
	for k, v := range st.advances {
		c.advances[k] = v
	}
	for k, v := range st.expenses {
		c.expenses[k] = v
	}
	return c
}

// =============================================================================
// TREASURY TX
// =============================================================================

type tx struct {
	s *state
}

func (t *tx) LockSnapshot(_ context.Context) (treasury.Snapshot, error) {
	if t.s.snapshot == nil {
		return treasury.Snapshot{}, treasury.ErrNotInitialized
	}
	return *t.s.snapshot, nil
}

func (t *tx) CreateSnapshot(_ context.Context, snap treasury.Snapshot) (treasury.Snapshot, error) {
	if t.s.snapshot != nil {
		return treasury.Snapshot{}, treasury.ErrAlreadyInitialized
	}
	snap.Version = 1
	t.s.snapshot = &snap
	return snap, nil
}

func (t *tx) SaveSnapshot(_ context.Context, snap treasury.Snapshot) (treasury.Snapshot, error) {
	if t.s.snapshot == nil {
		return treasury.Snapshot{}, treasury.ErrNotInitialized
	}
	if t.s.snapshot.Version != snap.Version {
		return treasury.Snapshot{}, treasury.ErrConcurrentModification
	}
	snap.Version++
	t.s.snapshot = &snap
	return snap, nil
}

func (t *tx) AppendTransaction(_ context.Context, rec treasury.TransactionRecord) error {
	deltas := make(treasury.Deltas, len(rec.Deltas))
	for a, d := range rec.Deltas {
		deltas[a] = d
	}
	rec.Deltas = deltas
	t.s.transactions = append(t.s.transactions, rec)
	return nil
}

func (t *tx) GetTransaction(_ context.Context, id string) (treasury.TransactionRecord, error) {
	for _, rec := range t.s.transactions {
		if rec.ID == id {
			return rec, nil
		}
	}
	return treasury.TransactionRecord{}, treasury.ErrTransactionNotFound
}

func (t *tx) FindTransactions(_ context.Context, f treasury.TransactionFilter) ([]treasury.TransactionRecord, error) {
	var out []treasury.TransactionRecord
	for _, rec := range t.s.transactions {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if f.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *tx) GetVerification(_ context.Context, date treasury.Date) (*treasury.DailyVerification, error) {
	v, ok := t.s.verifications[date]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (t *tx) AppendVerification(_ context.Context, v treasury.DailyVerification) error {
	if _, ok := t.s.verifications[v.Date]; ok {
		return treasury.ErrAlreadyVerified
	}
	t.s.verifications[v.Date] = v
	return nil
}

func (t *tx) ListVerifications(_ context.Context, limit int) ([]treasury.DailyVerification, error) {
	out := make([]treasury.DailyVerification, 0, len(t.s.verifications))
	for _, v := range t.s.verifications {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) AppendBankTransfer(_ context.Context, bt treasury.BankTransfer) error {
	t.s.transfers = append(t.s.transfers, bt)
	return nil
}

func (t *tx) ListBankTransfers(_ context.Context, limit int) ([]treasury.BankTransfer, error) {
	n := len(t.s.transfers)
	out := make([]treasury.BankTransfer, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, t.s.transfers[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// PAYMENTS TX
// =============================================================================

func (t *tx) CreateSalaryPayment(_ context.Context, p payments.SalaryPayment) error {
	t.s.salaries[p.ID] = p
	return nil
}

func (t *tx) GetSalaryPayment(_ context.Context, id string) (payments.SalaryPayment, error) {
	p, ok := t.s.salaries[id]
	if !ok {
		return payments.SalaryPayment{}, payments.ErrPaymentNotFound
	}
	return p, nil
}

func (t *tx) UpdateSalaryPayment(_ context.Context, p payments.SalaryPayment) error {
	if _, ok := t.s.salaries[p.ID]; !ok {
		return payments.ErrPaymentNotFound
	}
	t.s.salaries[p.ID] = p
	return nil
}

func (t *tx) CreateAdvance(_ context.Context, a payments.SalaryAdvance) error {
	t.s.advances[a.ID] = a
	return nil
}

func (t *tx) GetAdvance(_ context.Context, id string) (payments.SalaryAdvance, error) {
	a, ok := t.s.advances[id]
	if !ok {
		return payments.SalaryAdvance{}, payments.ErrAdvanceNotFound
	}
	return a, nil
}

func (t *tx) UpdateAdvance(_ context.Context, a payments.SalaryAdvance) error {
	if _, ok := t.s.advances[a.ID]; !ok {
		return payments.ErrAdvanceNotFound
	}
	t.s.advances[a.ID] = a
	return nil
}

func (t *tx) ListAdvances(_ context.Context, userID string, status payments.AdvanceStatus) ([]payments.SalaryAdvance, error) {
	var out []payments.SalaryAdvance
	for _, a := range t.s.advances {
		if a.UserID != userID || (status != "" && a.Status != status) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DisbursedAt.Equal(out[j].DisbursedAt) {
			return out[i].DisbursedAt.Before(out[j].DisbursedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) CountRecoupments(_ context.Context, advanceID string) (int, error) {
	n := 0
	for _, r := range t.s.recoupments {
		if r.SalaryAdvanceID == advanceID {
			n++
		}
	}
	return n, nil
}

func (t *tx) AppendRecoupment(_ context.Context, r payments.AdvanceRecoupment) error {
	t.s.recoupments = append(t.s.recoupments, r)
	return nil
}

func (t *tx) ListRecoupments(_ context.Context, f payments.RecoupmentFilter) ([]payments.AdvanceRecoupment, error) {
	var out []payments.AdvanceRecoupment
	for _, r := range t.s.recoupments {
		if f.AdvanceID != "" && r.SalaryAdvanceID != f.AdvanceID {
			continue
		}
		if f.PaymentID != "" && r.SalaryPaymentID != f.PaymentID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *tx) CreateExpense(_ context.Context, e payments.Expense) error {
	t.s.expenses[e.ID] = e
	return nil
}

func (t *tx) GetExpense(_ context.Context, id string) (payments.Expense, error) {
	e, ok := t.s.expenses[id]
	if !ok {
		return payments.Expense{}, payments.ErrExpenseNotFound
	}
	return e, nil
}

func (t *tx) UpdateExpense(_ context.Context, e payments.Expense) error {
	if _, ok := t.s.expenses[e.ID]; !ok {
		return payments.ErrExpenseNotFound
	}
	t.s.expenses[e.ID] = e
	return nil
}
