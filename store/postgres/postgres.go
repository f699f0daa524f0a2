/*
Package postgres provides a PostgreSQL implementation of treasury.Store and
payments.Tx on top of a pgx connection pool.

CONCURRENCY:
  Every unit of work is one database transaction. LockSnapshot issues
  SELECT ... FOR UPDATE on the singleton row, so two units that both touch
  balances are serialized by the database itself; no process-level mutex
  is needed and several server instances may share one database.

SCHEMA:
  Same tables as the SQLite store, with TIMESTAMPTZ and JSONB columns.
  Applied idempotently on Open.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/treasury-engine/payments"
	"github.com/warp/treasury-engine/treasury"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, checks the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// MustOpen is Open for tests and tools that cannot continue without a database.
func MustOpen(ctx context.Context, dsn string) *Store {
	s, err := Open(ctx, dsn)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS treasury_snapshot (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	registry BIGINT NOT NULL CHECK (registry >= 0),
	safe BIGINT NOT NULL CHECK (safe >= 0),
	bank BIGINT NOT NULL CHECK (bank >= 0),
	mobile_money BIGINT NOT NULL CHECK (mobile_money >= 0),
	registry_float_target BIGINT NOT NULL DEFAULT 0,
	safe_threshold_min BIGINT NOT NULL DEFAULT 0,
	safe_threshold_max BIGINT NOT NULL DEFAULT 0,
	last_verified_at TIMESTAMPTZ,
	last_verified_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	sequence BIGINT NOT NULL UNIQUE,
	tx_type TEXT NOT NULL,
	direction TEXT NOT NULL,
	amount BIGINT NOT NULL,
	deltas JSONB NOT NULL,
	registry_after BIGINT NOT NULL,
	safe_after BIGINT NOT NULL,
	bank_after BIGINT NOT NULL,
	mobile_money_after BIGINT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	reference_kind TEXT NOT NULL DEFAULT '',
	reference_id TEXT NOT NULL DEFAULT '',
	recorded_by TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions(reference_kind, reference_id);
CREATE INDEX IF NOT EXISTS idx_transactions_type ON transactions(tx_type);
CREATE INDEX IF NOT EXISTS idx_transactions_recorded_at ON transactions(recorded_at);

CREATE TABLE IF NOT EXISTS daily_verifications (
	id TEXT PRIMARY KEY,
	date TEXT NOT NULL UNIQUE,
	expected_balance BIGINT NOT NULL,
	counted_balance BIGINT NOT NULL,
	discrepancy BIGINT NOT NULL,
	status TEXT NOT NULL,
	explanation TEXT NOT NULL DEFAULT '',
	transaction_id TEXT NOT NULL DEFAULT '',
	verified_by TEXT NOT NULL DEFAULT '',
	verified_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS bank_transfers (
	id TEXT PRIMARY KEY,
	transfer_type TEXT NOT NULL,
	amount BIGINT NOT NULL,
	safe_before BIGINT NOT NULL,
	safe_after BIGINT NOT NULL,
	bank_before BIGINT NOT NULL,
	bank_after BIGINT NOT NULL,
	bank_reference TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	transaction_id TEXT NOT NULL,
	recorded_by TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS salary_payments (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	period TEXT NOT NULL DEFAULT '',
	gross_amount BIGINT NOT NULL,
	advance_deduction BIGINT NOT NULL DEFAULT 0,
	net_amount BIGINT NOT NULL,
	status TEXT NOT NULL,
	method TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	transaction_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	approved_by TEXT NOT NULL DEFAULT '',
	paid_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	approved_at TIMESTAMPTZ,
	paid_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_salary_payments_user ON salary_payments(user_id);

CREATE TABLE IF NOT EXISTS salary_advances (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	amount BIGINT NOT NULL,
	method TEXT NOT NULL,
	strategy TEXT NOT NULL,
	number_of_installments INT NOT NULL DEFAULT 0,
	total_recouped BIGINT NOT NULL DEFAULT 0,
	remaining_balance BIGINT NOT NULL CHECK (remaining_balance >= 0),
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	transaction_id TEXT NOT NULL DEFAULT '',
	disbursed_by TEXT NOT NULL DEFAULT '',
	disbursed_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_salary_advances_user_status ON salary_advances(user_id, status, disbursed_at);

CREATE TABLE IF NOT EXISTS advance_recoupments (
	id TEXT PRIMARY KEY,
	salary_advance_id TEXT NOT NULL REFERENCES salary_advances(id),
	salary_payment_id TEXT NOT NULL DEFAULT '',
	amount BIGINT NOT NULL CHECK (amount > 0),
	installment_number INT NOT NULL,
	manual BOOLEAN NOT NULL DEFAULT FALSE,
	transaction_id TEXT NOT NULL DEFAULT '',
	recorded_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recoupments_advance ON advance_recoupments(salary_advance_id);
CREATE INDEX IF NOT EXISTS idx_recoupments_payment ON advance_recoupments(salary_payment_id);

CREATE TABLE IF NOT EXISTS expenses (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	amount BIGINT NOT NULL,
	method TEXT NOT NULL,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	transaction_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	approved_by TEXT NOT NULL DEFAULT '',
	paid_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	approved_at TIMESTAMPTZ,
	paid_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
);
`

// =============================================================================
// UNIT OF WORK
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(treasury.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&txStore{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

type txStore struct {
	tx pgx.Tx
}

// =============================================================================
// SNAPSHOT
// =============================================================================

const snapshotColumns = `registry, safe, bank, mobile_money,
	registry_float_target, safe_threshold_min, safe_threshold_max,
	last_verified_at, last_verified_by, updated_at, version`

func (ts *txStore) LockSnapshot(ctx context.Context) (treasury.Snapshot, error) {
	var snap treasury.Snapshot
	err := ts.tx.QueryRow(ctx,
		"SELECT "+snapshotColumns+" FROM treasury_snapshot WHERE id = 1 FOR UPDATE",
	).Scan(
		&snap.Registry, &snap.Safe, &snap.Bank, &snap.MobileMoney,
		&snap.RegistryFloatTarget, &snap.SafeThresholdMin, &snap.SafeThresholdMax,
		&snap.LastVerifiedAt, &snap.LastVerifiedBy, &snap.UpdatedAt, &snap.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return treasury.Snapshot{}, treasury.ErrNotInitialized
	}
	if err != nil {
		return treasury.Snapshot{}, fmt.Errorf("failed to lock snapshot: %w", err)
	}
	return snap, nil
}

func (ts *txStore) CreateSnapshot(ctx context.Context, snap treasury.Snapshot) (treasury.Snapshot, error) {
	snap.Version = 1
	tag, err := ts.tx.Exec(ctx, `
		INSERT INTO treasury_snapshot (id, `+snapshotColumns+`)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		int64(snap.Registry), int64(snap.Safe), int64(snap.Bank), int64(snap.MobileMoney),
		int64(snap.RegistryFloatTarget), int64(snap.SafeThresholdMin), int64(snap.SafeThresholdMax),
		snap.LastVerifiedAt, snap.LastVerifiedBy, snap.UpdatedAt, snap.Version,
	)
	if err != nil {
		return treasury.Snapshot{}, fmt.Errorf("failed to create snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return treasury.Snapshot{}, treasury.ErrAlreadyInitialized
	}
	return snap, nil
}

func (ts *txStore) SaveSnapshot(ctx context.Context, snap treasury.Snapshot) (treasury.Snapshot, error) {
	tag, err := ts.tx.Exec(ctx, `
		UPDATE treasury_snapshot SET
			registry = $1, safe = $2, bank = $3, mobile_money = $4,
			registry_float_target = $5, safe_threshold_min = $6, safe_threshold_max = $7,
			last_verified_at = $8, last_verified_by = $9, updated_at = $10,
			version = version + 1
		WHERE id = 1 AND version = $11`,
		int64(snap.Registry), int64(snap.Safe), int64(snap.Bank), int64(snap.MobileMoney),
		int64(snap.RegistryFloatTarget), int64(snap.SafeThresholdMin), int64(snap.SafeThresholdMax),
		snap.LastVerifiedAt, snap.LastVerifiedBy, snap.UpdatedAt, snap.Version,
	)
	if err != nil {
		return treasury.Snapshot{}, fmt.Errorf("failed to save snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return treasury.Snapshot{}, treasury.ErrConcurrentModification
	}
	snap.Version++
	return snap, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

const transactionColumns = `id, sequence, tx_type, direction, amount, deltas,
	registry_after, safe_after, bank_after, mobile_money_after,
	description, reference_kind, reference_id, recorded_by, recorded_at`

func (ts *txStore) AppendTransaction(ctx context.Context, rec treasury.TransactionRecord) error {
	deltas, err := json.Marshal(rec.Deltas)
	if err != nil {
		return fmt.Errorf("failed to encode deltas: %w", err)
	}
	_, err = ts.tx.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.Sequence, string(rec.Type), string(rec.Direction), int64(rec.Amount), string(deltas),
		int64(rec.BalancesAfter.Registry), int64(rec.BalancesAfter.Safe),
		int64(rec.BalancesAfter.Bank), int64(rec.BalancesAfter.MobileMoney),
		rec.Description, string(rec.Reference.Kind), rec.Reference.ID, rec.RecordedBy, rec.RecordedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return treasury.ErrConcurrentModification
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (ts *txStore) GetTransaction(ctx context.Context, id string) (treasury.TransactionRecord, error) {
	recs, err := ts.queryTransactions(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id)
	if err != nil {
		return treasury.TransactionRecord{}, err
	}
	if len(recs) == 0 {
		return treasury.TransactionRecord{}, treasury.ErrTransactionNotFound
	}
	return recs[0], nil
}

func (ts *txStore) FindTransactions(ctx context.Context, f treasury.TransactionFilter) ([]treasury.TransactionRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		where = append(where, "tx_type = ANY("+arg(types)+")")
	}
	if f.Reference != nil {
		where = append(where, "reference_kind = "+arg(string(f.Reference.Kind))+" AND reference_id = "+arg(f.Reference.ID))
	}
	if f.From != nil {
		where = append(where, "recorded_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "recorded_at <= "+arg(*f.To))
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Descending {
		query += " ORDER BY sequence DESC"
	} else {
		query += " ORDER BY sequence ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	return ts.queryTransactions(ctx, query, args...)
}

func (ts *txStore) queryTransactions(ctx context.Context, query string, args ...any) ([]treasury.TransactionRecord, error) {
	rows, err := ts.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []treasury.TransactionRecord
	for rows.Next() {
		var (
			rec                      treasury.TransactionRecord
			txType, direction, kind  string
			amount                   int64
			deltas                   []byte
			registry, safe, bank, mm int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Sequence, &txType, &direction, &amount, &deltas,
			&registry, &safe, &bank, &mm,
			&rec.Description, &kind, &rec.Reference.ID, &rec.RecordedBy, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if err := json.Unmarshal(deltas, &rec.Deltas); err != nil {
			return nil, fmt.Errorf("failed to decode deltas of %s: %w", rec.ID, err)
		}
		rec.Type = treasury.TransactionType(txType)
		rec.Direction = treasury.Direction(direction)
		rec.Amount = treasury.Amount(amount)
		rec.Reference.Kind = treasury.ReferenceKind(kind)
		rec.BalancesAfter = treasury.Balances{
			Registry:    treasury.Amount(registry),
			Safe:        treasury.Amount(safe),
			Bank:        treasury.Amount(bank),
			MobileMoney: treasury.Amount(mm),
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// DAILY VERIFICATIONS
// =============================================================================

const verificationColumns = `id, date, expected_balance, counted_balance, discrepancy,
	status, explanation, transaction_id, verified_by, verified_at`

func (ts *txStore) GetVerification(ctx context.Context, date treasury.Date) (*treasury.DailyVerification, error) {
	out, err := ts.queryVerifications(ctx,
		"SELECT "+verificationColumns+" FROM daily_verifications WHERE date = $1", string(date))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (ts *txStore) AppendVerification(ctx context.Context, v treasury.DailyVerification) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO daily_verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, string(v.Date), int64(v.ExpectedBalance), int64(v.CountedBalance), int64(v.Discrepancy),
		string(v.Status), v.Explanation, v.TransactionID, v.VerifiedBy, v.VerifiedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return treasury.ErrAlreadyVerified
		}
		return fmt.Errorf("failed to append verification: %w", err)
	}
	return nil
}

func (ts *txStore) ListVerifications(ctx context.Context, limit int) ([]treasury.DailyVerification, error) {
	query := "SELECT " + verificationColumns + " FROM daily_verifications ORDER BY date DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return ts.queryVerifications(ctx, query, args...)
}

func (ts *txStore) queryVerifications(ctx context.Context, query string, args ...any) ([]treasury.DailyVerification, error) {
	rows, err := ts.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	var out []treasury.DailyVerification
	for rows.Next() {
		var (
			v                              treasury.DailyVerification
			date, status                   string
			expected, counted, discrepancy int64
		)
		if err := rows.Scan(
			&v.ID, &date, &expected, &counted, &discrepancy,
			&status, &v.Explanation, &v.TransactionID, &v.VerifiedBy, &v.VerifiedAt,
		); err != nil {
			return nil, err
		}
		v.Date = treasury.Date(date)
		v.Status = treasury.VerificationStatus(status)
		v.ExpectedBalance = treasury.Amount(expected)
		v.CountedBalance = treasury.Amount(counted)
		v.Discrepancy = treasury.Amount(discrepancy)
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// BANK TRANSFERS
// =============================================================================

const transferColumns = `id, transfer_type, amount, safe_before, safe_after, bank_before, bank_after,
	bank_reference, notes, transaction_id, recorded_by, recorded_at`

func (ts *txStore) AppendBankTransfer(ctx context.Context, t treasury.BankTransfer) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO bank_transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, string(t.Type), int64(t.Amount),
		int64(t.SafeBefore), int64(t.SafeAfter), int64(t.BankBefore), int64(t.BankAfter),
		t.BankReference, t.Notes, t.TransactionID, t.RecordedBy, t.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append bank transfer: %w", err)
	}
	return nil
}

func (ts *txStore) ListBankTransfers(ctx context.Context, limit int) ([]treasury.BankTransfer, error) {
	query := "SELECT " + transferColumns + " FROM bank_transfers ORDER BY recorded_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := ts.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank transfers: %w", err)
	}
	defer rows.Close()

	var out []treasury.BankTransfer
	for rows.Next() {
		var (
			t                                  treasury.BankTransfer
			kind                               string
			amount, safeB, safeA, bankB, bankA int64
		)
		if err := rows.Scan(
			&t.ID, &kind, &amount, &safeB, &safeA, &bankB, &bankA,
			&t.BankReference, &t.Notes, &t.TransactionID, &t.RecordedBy, &t.RecordedAt,
		); err != nil {
			return nil, err
		}
		t.Type = treasury.TransferType(kind)
		t.Amount = treasury.Amount(amount)
		t.SafeBefore, t.SafeAfter = treasury.Amount(safeB), treasury.Amount(safeA)
		t.BankBefore, t.BankAfter = treasury.Amount(bankB), treasury.Amount(bankA)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// SALARY PAYMENTS
// =============================================================================

const salaryColumns = `id, user_id, period, gross_amount, advance_deduction, net_amount,
	status, method, notes, transaction_id, created_by, approved_by, paid_by,
	created_at, approved_at, paid_at, cancelled_at`

func (ts *txStore) CreateSalaryPayment(ctx context.Context, p payments.SalaryPayment) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO salary_payments (`+salaryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.UserID, p.Period, int64(p.GrossAmount), int64(p.AdvanceDeduction), int64(p.NetAmount),
		string(p.Status), string(p.Method), p.Notes, p.TransactionID, p.CreatedBy, p.ApprovedBy, p.PaidBy,
		p.CreatedAt, p.ApprovedAt, p.PaidAt, p.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create salary payment: %w", err)
	}
	return nil
}

func (ts *txStore) GetSalaryPayment(ctx context.Context, id string) (payments.SalaryPayment, error) {
	var (
		p                     payments.SalaryPayment
		gross, deduction, net int64
		status, method        string
	)
	err := ts.tx.QueryRow(ctx,
		"SELECT "+salaryColumns+" FROM salary_payments WHERE id = $1", id,
	).Scan(
		&p.ID, &p.UserID, &p.Period, &gross, &deduction, &net,
		&status, &method, &p.Notes, &p.TransactionID, &p.CreatedBy, &p.ApprovedBy, &p.PaidBy,
		&p.CreatedAt, &p.ApprovedAt, &p.PaidAt, &p.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return payments.SalaryPayment{}, payments.ErrPaymentNotFound
	}
	if err != nil {
		return payments.SalaryPayment{}, fmt.Errorf("failed to read salary payment: %w", err)
	}
	p.GrossAmount, p.AdvanceDeduction, p.NetAmount = treasury.Amount(gross), treasury.Amount(deduction), treasury.Amount(net)
	p.Status = payments.PaymentStatus(status)
	p.Method = payments.Method(method)
	return p, nil
}

func (ts *txStore) UpdateSalaryPayment(ctx context.Context, p payments.SalaryPayment) error {
	tag, err := ts.tx.Exec(ctx, `
		UPDATE salary_payments SET
			advance_deduction = $1, net_amount = $2, status = $3, method = $4, notes = $5,
			transaction_id = $6, approved_by = $7, paid_by = $8,
			approved_at = $9, paid_at = $10, cancelled_at = $11
		WHERE id = $12`,
		int64(p.AdvanceDeduction), int64(p.NetAmount), string(p.Status), string(p.Method), p.Notes,
		p.TransactionID, p.ApprovedBy, p.PaidBy,
		p.ApprovedAt, p.PaidAt, p.CancelledAt,
		p.ID,
	)
	return checkUpdated(tag, err, payments.ErrPaymentNotFound)
}

// =============================================================================
// SALARY ADVANCES
// =============================================================================

const advanceColumns = `id, user_id, amount, method, strategy, number_of_installments,
	total_recouped, remaining_balance, status, notes, transaction_id,
	disbursed_by, disbursed_at, updated_at`

func (ts *txStore) CreateAdvance(ctx context.Context, a payments.SalaryAdvance) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO salary_advances (`+advanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.UserID, int64(a.Amount), string(a.Method), string(a.Strategy), a.NumberOfInstallments,
		int64(a.TotalRecouped), int64(a.RemainingBalance), string(a.Status), a.Notes, a.TransactionID,
		a.DisbursedBy, a.DisbursedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create salary advance: %w", err)
	}
	return nil
}

func (ts *txStore) GetAdvance(ctx context.Context, id string) (payments.SalaryAdvance, error) {
	out, err := ts.queryAdvances(ctx, "SELECT "+advanceColumns+" FROM salary_advances WHERE id = $1", id)
	if err != nil {
		return payments.SalaryAdvance{}, err
	}
	if len(out) == 0 {
		return payments.SalaryAdvance{}, payments.ErrAdvanceNotFound
	}
	return out[0], nil
}

func (ts *txStore) UpdateAdvance(ctx context.Context, a payments.SalaryAdvance) error {
	tag, err := ts.tx.Exec(ctx, `
		UPDATE salary_advances SET
			total_recouped = $1, remaining_balance = $2, status = $3, notes = $4, updated_at = $5
		WHERE id = $6`,
		int64(a.TotalRecouped), int64(a.RemainingBalance), string(a.Status), a.Notes, a.UpdatedAt,
		a.ID,
	)
	return checkUpdated(tag, err, payments.ErrAdvanceNotFound)
}

func (ts *txStore) ListAdvances(ctx context.Context, userID string, status payments.AdvanceStatus) ([]payments.SalaryAdvance, error) {
	query := "SELECT " + advanceColumns + " FROM salary_advances WHERE user_id = $1"
	args := []any{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, string(status))
	}
	query += " ORDER BY disbursed_at ASC, id ASC"
	return ts.queryAdvances(ctx, query, args...)
}

func (ts *txStore) queryAdvances(ctx context.Context, query string, args ...any) ([]payments.SalaryAdvance, error) {
	rows, err := ts.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query salary advances: %w", err)
	}
	defer rows.Close()

	var out []payments.SalaryAdvance
	for rows.Next() {
		var (
			a                           payments.SalaryAdvance
			amount, recouped, remaining int64
			method, strategy, status    string
		)
		if err := rows.Scan(
			&a.ID, &a.UserID, &amount, &method, &strategy, &a.NumberOfInstallments,
			&recouped, &remaining, &status, &a.Notes, &a.TransactionID,
			&a.DisbursedBy, &a.DisbursedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		a.Amount, a.TotalRecouped, a.RemainingBalance = treasury.Amount(amount), treasury.Amount(recouped), treasury.Amount(remaining)
		a.Method = payments.Method(method)
		a.Strategy = payments.Strategy(strategy)
		a.Status = payments.AdvanceStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// RECOUPMENTS
// =============================================================================

const recoupmentColumns = `id, salary_advance_id, salary_payment_id, amount, installment_number,
	manual, transaction_id, recorded_by, created_at`

func (ts *txStore) CountRecoupments(ctx context.Context, advanceID string) (int, error) {
	var n int
	err := ts.tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM advance_recoupments WHERE salary_advance_id = $1", advanceID,
	).Scan(&n)
	return n, err
}

func (ts *txStore) AppendRecoupment(ctx context.Context, r payments.AdvanceRecoupment) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO advance_recoupments (`+recoupmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.SalaryAdvanceID, r.SalaryPaymentID, int64(r.Amount), r.InstallmentNumber,
		r.Manual, r.TransactionID, r.RecordedBy, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append recoupment: %w", err)
	}
	return nil
}

func (ts *txStore) ListRecoupments(ctx context.Context, f payments.RecoupmentFilter) ([]payments.AdvanceRecoupment, error) {
	query := "SELECT " + recoupmentColumns + " FROM advance_recoupments WHERE ($1 = '' OR salary_advance_id = $1) AND ($2 = '' OR salary_payment_id = $2) ORDER BY created_at ASC, installment_number ASC"
	rows, err := ts.tx.Query(ctx, query, f.AdvanceID, f.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recoupments: %w", err)
	}
	defer rows.Close()

	var out []payments.AdvanceRecoupment
	for rows.Next() {
		var (
			r      payments.AdvanceRecoupment
			amount int64
		)
		if err := rows.Scan(
			&r.ID, &r.SalaryAdvanceID, &r.SalaryPaymentID, &amount, &r.InstallmentNumber,
			&r.Manual, &r.TransactionID, &r.RecordedBy, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Amount = treasury.Amount(amount)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseColumns = `id, title, category, amount, method, status, notes, transaction_id,
	created_by, approved_by, paid_by, created_at, approved_at, paid_at, cancelled_at`

func (ts *txStore) CreateExpense(ctx context.Context, e payments.Expense) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.Title, e.Category, int64(e.Amount), string(e.Method), string(e.Status), e.Notes, e.TransactionID,
		e.CreatedBy, e.ApprovedBy, e.PaidBy, e.CreatedAt, e.ApprovedAt, e.PaidAt, e.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

func (ts *txStore) GetExpense(ctx context.Context, id string) (payments.Expense, error) {
	var (
		e              payments.Expense
		amount         int64
		method, status string
	)
	err := ts.tx.QueryRow(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = $1", id,
	).Scan(
		&e.ID, &e.Title, &e.Category, &amount, &method, &status, &e.Notes, &e.TransactionID,
		&e.CreatedBy, &e.ApprovedBy, &e.PaidBy, &e.CreatedAt, &e.ApprovedAt, &e.PaidAt, &e.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return payments.Expense{}, payments.ErrExpenseNotFound
	}
	if err != nil {
		return payments.Expense{}, fmt.Errorf("failed to read expense: %w", err)
	}
	e.Amount = treasury.Amount(amount)
	e.Method = payments.Method(method)
	e.Status = payments.PaymentStatus(status)
	return e, nil
}

func (ts *txStore) UpdateExpense(ctx context.Context, e payments.Expense) error {
	tag, err := ts.tx.Exec(ctx, `
		UPDATE expenses SET
			status = $1, notes = $2, transaction_id = $3, approved_by = $4, paid_by = $5,
			approved_at = $6, paid_at = $7, cancelled_at = $8
		WHERE id = $9`,
		string(e.Status), e.Notes, e.TransactionID, e.ApprovedBy, e.PaidBy,
		e.ApprovedAt, e.PaidAt, e.CancelledAt,
		e.ID,
	)
	return checkUpdated(tag, err, payments.ErrExpenseNotFound)
}

func checkUpdated(tag pgconn.CommandTag, err error, notFound error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
