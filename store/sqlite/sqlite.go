/*
Package sqlite provides a SQLite-backed implementation of treasury.Store
and payments.Tx.

PURPOSE:
  Single-node persistence for the treasury: the balance snapshot, the
  transaction log, verifications, bank transfers and the payment records
  (salaries, advances, recoupments, expenses).

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on transactions, daily_verifications,
    bank_transfers or advance_recoupments
  - Corrections via reversal records only

KEY TABLES:
  treasury_snapshot:   Singleton row (id = 1) with the four balances
  transactions:        Immutable log; deltas stored as JSON
  daily_verifications: One row per calendar date (UNIQUE)
  bank_transfers:      Safe <-> bank movements with before/after balances
  salary_payments, salary_advances, advance_recoupments, expenses

CONCURRENCY:
  One connection (SetMaxOpenConns(1)) and a store mutex held for every
  unit of work: exactly one writer at a time. The snapshot row also
  carries a version used as a compare-and-swap guard on save.

WAL MODE:
  Opened with WAL and immediate transactions so a unit takes the write
  lock on BEGIN rather than on first write.

USAGE:
  store, err := sqlite.New("./data/treasury.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := treasury.NewLedger(store, clock, logger)

MIGRATION:
  Schema is auto-migrated on New() with CREATE ... IF NOT EXISTS.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/treasury-engine/payments"
	"github.com/warp/treasury-engine/treasury"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements treasury.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across units.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Singleton balance snapshot
	CREATE TABLE IF NOT EXISTS treasury_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		registry INTEGER NOT NULL CHECK (registry >= 0),
		safe INTEGER NOT NULL CHECK (safe >= 0),
		bank INTEGER NOT NULL CHECK (bank >= 0),
		mobile_money INTEGER NOT NULL CHECK (mobile_money >= 0),
		registry_float_target INTEGER NOT NULL DEFAULT 0,
		safe_threshold_min INTEGER NOT NULL DEFAULT 0,
		safe_threshold_max INTEGER NOT NULL DEFAULT 0,
		last_verified_at TEXT,
		last_verified_by TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	-- Transaction log (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL UNIQUE,
		tx_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount INTEGER NOT NULL,
		deltas_json TEXT NOT NULL,
		registry_after INTEGER NOT NULL,
		safe_after INTEGER NOT NULL,
		bank_after INTEGER NOT NULL,
		mobile_money_after INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference_kind TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		recorded_by TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_kind, reference_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(tx_type);
	CREATE INDEX IF NOT EXISTS idx_transactions_recorded_at
		ON transactions(recorded_at);

	-- Daily verifications: at most one per calendar date
	CREATE TABLE IF NOT EXISTS daily_verifications (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL UNIQUE,
		expected_balance INTEGER NOT NULL,
		counted_balance INTEGER NOT NULL,
		discrepancy INTEGER NOT NULL,
		status TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		verified_by TEXT NOT NULL DEFAULT '',
		verified_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bank_transfers (
		id TEXT PRIMARY KEY,
		transfer_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		safe_before INTEGER NOT NULL,
		safe_after INTEGER NOT NULL,
		bank_before INTEGER NOT NULL,
		bank_after INTEGER NOT NULL,
		bank_reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL,
		recorded_by TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS salary_payments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		period TEXT NOT NULL DEFAULT '',
		gross_amount INTEGER NOT NULL,
		advance_deduction INTEGER NOT NULL DEFAULT 0,
		net_amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		paid_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		approved_at TEXT,
		paid_at TEXT,
		cancelled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_salary_payments_user
		ON salary_payments(user_id);

	CREATE TABLE IF NOT EXISTS salary_advances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		method TEXT NOT NULL,
		strategy TEXT NOT NULL,
		number_of_installments INTEGER NOT NULL DEFAULT 0,
		total_recouped INTEGER NOT NULL DEFAULT 0,
		remaining_balance INTEGER NOT NULL CHECK (remaining_balance >= 0),
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		disbursed_by TEXT NOT NULL DEFAULT '',
		disbursed_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Recoupment planning reads active advances oldest first
	CREATE INDEX IF NOT EXISTS idx_salary_advances_user_status
		ON salary_advances(user_id, status, disbursed_at);

	CREATE TABLE IF NOT EXISTS advance_recoupments (
		id TEXT PRIMARY KEY,
		salary_advance_id TEXT NOT NULL REFERENCES salary_advances(id),
		salary_payment_id TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL CHECK (amount > 0),
		installment_number INTEGER NOT NULL,
		manual BOOLEAN NOT NULL DEFAULT FALSE,
		transaction_id TEXT NOT NULL DEFAULT '',
		recorded_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recoupments_advance
		ON advance_recoupments(salary_advance_id);
	CREATE INDEX IF NOT EXISTS idx_recoupments_payment
		ON advance_recoupments(salary_payment_id);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		paid_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		approved_at TEXT,
		paid_at TEXT,
		cancelled_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (treasury.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(treasury.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// SNAPSHOT
// =============================================================================

const snapshotColumns = `registry, safe, bank, mobile_money,
	registry_float_target, safe_threshold_min, safe_threshold_max,
	last_verified_at, last_verified_by, updated_at, version`

func (ts *txStore) LockSnapshot(ctx context.Context) (treasury.Snapshot, error) {
	var (
		snap         treasury.Snapshot
		lastVerified sql.NullString
		updatedAt    string
	)
	err := ts.tx.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM treasury_snapshot WHERE id = 1",
	).Scan(
		&snap.Registry, &snap.Safe, &snap.Bank, &snap.MobileMoney,
		&snap.RegistryFloatTarget, &snap.SafeThresholdMin, &snap.SafeThresholdMax,
		&lastVerified, &snap.LastVerifiedBy, &updatedAt, &snap.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return treasury.Snapshot{}, treasury.ErrNotInitialized
	}
	if err != nil {
		return treasury.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var tp timeParser
	snap.LastVerifiedAt = tp.nullable(lastVerified)
	snap.UpdatedAt = tp.at(updatedAt)
	if tp.err != nil {
		return treasury.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", tp.err)
	}
	return snap, nil
}

func (ts *txStore) CreateSnapshot(ctx context.Context, snap treasury.Snapshot) (treasury.Snapshot, error) {
	snap.Version = 1
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO treasury_snapshot (id, `+snapshotColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Registry, snap.Safe, snap.Bank, snap.MobileMoney,
		snap.RegistryFloatTarget, snap.SafeThresholdMin, snap.SafeThresholdMax,
		formatNullTime(snap.LastVerifiedAt), snap.LastVerifiedBy, formatTime(snap.UpdatedAt), snap.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return treasury.Snapshot{}, treasury.ErrAlreadyInitialized
		}
		return treasury.Snapshot{}, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return snap, nil
}

func (ts *txStore) SaveSnapshot(ctx context.Context, snap treasury.Snapshot) (treasury.Snapshot, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE treasury_snapshot SET
			registry = ?, safe = ?, bank = ?, mobile_money = ?,
			registry_float_target = ?, safe_threshold_min = ?, safe_threshold_max = ?,
			last_verified_at = ?, last_verified_by = ?, updated_at = ?,
			version = version + 1
		WHERE id = 1 AND version = ?`,
		snap.Registry, snap.Safe, snap.Bank, snap.MobileMoney,
		snap.RegistryFloatTarget, snap.SafeThresholdMin, snap.SafeThresholdMax,
		formatNullTime(snap.LastVerifiedAt), snap.LastVerifiedBy, formatTime(snap.UpdatedAt),
		snap.Version,
	)
	if err != nil {
		return treasury.Snapshot{}, fmt.Errorf("failed to save snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return treasury.Snapshot{}, err
	}
	if n == 0 {
		return treasury.Snapshot{}, treasury.ErrConcurrentModification
	}
	snap.Version++
	return snap, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

const transactionColumns = `id, sequence, tx_type, direction, amount, deltas_json,
	registry_after, safe_after, bank_after, mobile_money_after,
	description, reference_kind, reference_id, recorded_by, recorded_at`

func (ts *txStore) AppendTransaction(ctx context.Context, rec treasury.TransactionRecord) error {
	deltasJSON, err := json.Marshal(rec.Deltas)
	if err != nil {
		return fmt.Errorf("failed to encode deltas: %w", err)
	}
	_, err = ts.tx.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Sequence, rec.Type, rec.Direction, rec.Amount, string(deltasJSON),
		rec.BalancesAfter.Registry, rec.BalancesAfter.Safe, rec.BalancesAfter.Bank, rec.BalancesAfter.MobileMoney,
		rec.Description, rec.Reference.Kind, rec.Reference.ID, rec.RecordedBy, formatTime(rec.RecordedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return treasury.ErrConcurrentModification
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (ts *txStore) GetTransaction(ctx context.Context, id string) (treasury.TransactionRecord, error) {
	recs, err := ts.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
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
	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "tx_type IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Reference != nil {
		where = append(where, "reference_kind = ? AND reference_id = ?")
		args = append(args, string(f.Reference.Kind), f.Reference.ID)
	}
	if f.From != nil {
		where = append(where, "recorded_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "recorded_at <= ?")
		args = append(args, formatTime(*f.To))
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
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return ts.queryTransactions(ctx, query, args...)
}

func (ts *txStore) queryTransactions(ctx context.Context, query string, args ...any) ([]treasury.TransactionRecord, error) {
	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []treasury.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (treasury.TransactionRecord, error) {
	var (
		rec        treasury.TransactionRecord
		deltasJSON string
		recordedAt string
	)
	err := rows.Scan(
		&rec.ID, &rec.Sequence, &rec.Type, &rec.Direction, &rec.Amount, &deltasJSON,
		&rec.BalancesAfter.Registry, &rec.BalancesAfter.Safe, &rec.BalancesAfter.Bank, &rec.BalancesAfter.MobileMoney,
		&rec.Description, &rec.Reference.Kind, &rec.Reference.ID, &rec.RecordedBy, &recordedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if err := json.Unmarshal([]byte(deltasJSON), &rec.Deltas); err != nil {
		return rec, fmt.Errorf("failed to decode deltas of %s: %w", rec.ID, err)
	}
	var tp timeParser
	rec.RecordedAt = tp.at(recordedAt)
	if tp.err != nil {
		return rec, fmt.Errorf("failed to scan transaction %s: %w", rec.ID, tp.err)
	}
	return rec, nil
}

// =============================================================================
// DAILY VERIFICATIONS
// =============================================================================

const verificationColumns = `id, date, expected_balance, counted_balance, discrepancy,
	status, explanation, transaction_id, verified_by, verified_at`

func (ts *txStore) GetVerification(ctx context.Context, date treasury.Date) (*treasury.DailyVerification, error) {
	out, err := ts.queryVerifications(ctx,
		"SELECT "+verificationColumns+" FROM daily_verifications WHERE date = ?", string(date))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (ts *txStore) AppendVerification(ctx context.Context, v treasury.DailyVerification) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO daily_verifications (`+verificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, string(v.Date), v.ExpectedBalance, v.CountedBalance, v.Discrepancy,
		v.Status, v.Explanation, v.TransactionID, v.VerifiedBy, formatTime(v.VerifiedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
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
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return ts.queryVerifications(ctx, query, args...)
}

func (ts *txStore) queryVerifications(ctx context.Context, query string, args ...any) ([]treasury.DailyVerification, error) {
	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	var out []treasury.DailyVerification
	for rows.Next() {
		var (
			v          treasury.DailyVerification
			verifiedAt string
		)
		if err := rows.Scan(
			&v.ID, &v.Date, &v.ExpectedBalance, &v.CountedBalance, &v.Discrepancy,
			&v.Status, &v.Explanation, &v.TransactionID, &v.VerifiedBy, &verifiedAt,
		); err != nil {
			return nil, err
		}
		var tp timeParser
		if v.VerifiedAt = tp.at(verifiedAt); tp.err != nil {
			return nil, tp.err
		}
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
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO bank_transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Amount, t.SafeBefore, t.SafeAfter, t.BankBefore, t.BankAfter,
		t.BankReference, t.Notes, t.TransactionID, t.RecordedBy, formatTime(t.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append bank transfer: %w", err)
	}
	return nil
}

func (ts *txStore) ListBankTransfers(ctx context.Context, limit int) ([]treasury.BankTransfer, error) {
	query := "SELECT " + transferColumns + " FROM bank_transfers ORDER BY recorded_at DESC, rowid DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank transfers: %w", err)
	}
	defer rows.Close()

	var out []treasury.BankTransfer
	for rows.Next() {
		var (
			t          treasury.BankTransfer
			recordedAt string
		)
		if err := rows.Scan(
			&t.ID, &t.Type, &t.Amount, &t.SafeBefore, &t.SafeAfter, &t.BankBefore, &t.BankAfter,
			&t.BankReference, &t.Notes, &t.TransactionID, &t.RecordedBy, &recordedAt,
		); err != nil {
			return nil, err
		}
		var tp timeParser
		if t.RecordedAt = tp.at(recordedAt); tp.err != nil {
			return nil, tp.err
		}
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
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO salary_payments (`+salaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Period, p.GrossAmount, p.AdvanceDeduction, p.NetAmount,
		p.Status, p.Method, p.Notes, p.TransactionID, p.CreatedBy, p.ApprovedBy, p.PaidBy,
		formatTime(p.CreatedAt), formatNullTime(p.ApprovedAt), formatNullTime(p.PaidAt), formatNullTime(p.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create salary payment: %w", err)
	}
	return nil
}

func (ts *txStore) GetSalaryPayment(ctx context.Context, id string) (payments.SalaryPayment, error) {
	var (
		p                               payments.SalaryPayment
		createdAt                       string
		approvedAt, paidAt, cancelledAt sql.NullString
	)
	err := ts.tx.QueryRowContext(ctx,
		"SELECT "+salaryColumns+" FROM salary_payments WHERE id = ?", id,
	).Scan(
		&p.ID, &p.UserID, &p.Period, &p.GrossAmount, &p.AdvanceDeduction, &p.NetAmount,
		&p.Status, &p.Method, &p.Notes, &p.TransactionID, &p.CreatedBy, &p.ApprovedBy, &p.PaidBy,
		&createdAt, &approvedAt, &paidAt, &cancelledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return payments.SalaryPayment{}, payments.ErrPaymentNotFound
	}
	if err != nil {
		return payments.SalaryPayment{}, fmt.Errorf("failed to read salary payment: %w", err)
	}
	var tp timeParser
	p.CreatedAt = tp.at(createdAt)
	p.ApprovedAt = tp.nullable(approvedAt)
	p.PaidAt = tp.nullable(paidAt)
	p.CancelledAt = tp.nullable(cancelledAt)
	if tp.err != nil {
		return payments.SalaryPayment{}, fmt.Errorf("failed to read salary payment: %w", tp.err)
	}
	return p, nil
}

func (ts *txStore) UpdateSalaryPayment(ctx context.Context, p payments.SalaryPayment) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE salary_payments SET
			advance_deduction = ?, net_amount = ?, status = ?, method = ?, notes = ?,
			transaction_id = ?, approved_by = ?, paid_by = ?,
			approved_at = ?, paid_at = ?, cancelled_at = ?
		WHERE id = ?`,
		p.AdvanceDeduction, p.NetAmount, p.Status, p.Method, p.Notes,
		p.TransactionID, p.ApprovedBy, p.PaidBy,
		formatNullTime(p.ApprovedAt), formatNullTime(p.PaidAt), formatNullTime(p.CancelledAt),
		p.ID,
	)
	return checkUpdated(res, err, payments.ErrPaymentNotFound)
}

// =============================================================================
// SALARY ADVANCES
// =============================================================================

const advanceColumns = `id, user_id, amount, method, strategy, number_of_installments,
	total_recouped, remaining_balance, status, notes, transaction_id,
	disbursed_by, disbursed_at, updated_at`

func (ts *txStore) CreateAdvance(ctx context.Context, a payments.SalaryAdvance) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO salary_advances (`+advanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Amount, a.Method, a.Strategy, a.NumberOfInstallments,
		a.TotalRecouped, a.RemainingBalance, a.Status, a.Notes, a.TransactionID,
		a.DisbursedBy, formatTime(a.DisbursedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create salary advance: %w", err)
	}
	return nil
}

func (ts *txStore) GetAdvance(ctx context.Context, id string) (payments.SalaryAdvance, error) {
	out, err := ts.queryAdvances(ctx, "SELECT "+advanceColumns+" FROM salary_advances WHERE id = ?", id)
	if err != nil {
		return payments.SalaryAdvance{}, err
	}
	if len(out) == 0 {
		return payments.SalaryAdvance{}, payments.ErrAdvanceNotFound
	}
	return out[0], nil
}

func (ts *txStore) UpdateAdvance(ctx context.Context, a payments.SalaryAdvance) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE salary_advances SET
			total_recouped = ?, remaining_balance = ?, status = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		a.TotalRecouped, a.RemainingBalance, a.Status, a.Notes, formatTime(a.UpdatedAt),
		a.ID,
	)
	return checkUpdated(res, err, payments.ErrAdvanceNotFound)
}

func (ts *txStore) ListAdvances(ctx context.Context, userID string, status payments.AdvanceStatus) ([]payments.SalaryAdvance, error) {
	query := "SELECT " + advanceColumns + " FROM salary_advances WHERE user_id = ?"
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY disbursed_at ASC, id ASC"
	return ts.queryAdvances(ctx, query, args...)
}

func (ts *txStore) queryAdvances(ctx context.Context, query string, args ...any) ([]payments.SalaryAdvance, error) {
	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query salary advances: %w", err)
	}
	defer rows.Close()

	var out []payments.SalaryAdvance
	for rows.Next() {
		var (
			a                      payments.SalaryAdvance
			disbursedAt, updatedAt string
		)
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Amount, &a.Method, &a.Strategy, &a.NumberOfInstallments,
			&a.TotalRecouped, &a.RemainingBalance, &a.Status, &a.Notes, &a.TransactionID,
			&a.DisbursedBy, &disbursedAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		var tp timeParser
		a.DisbursedAt = tp.at(disbursedAt)
		a.UpdatedAt = tp.at(updatedAt)
		if tp.err != nil {
			return nil, tp.err
		}
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
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM advance_recoupments WHERE salary_advance_id = ?", advanceID,
	).Scan(&n)
	return n, err
}

func (ts *txStore) AppendRecoupment(ctx context.Context, r payments.AdvanceRecoupment) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO advance_recoupments (`+recoupmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SalaryAdvanceID, r.SalaryPaymentID, r.Amount, r.InstallmentNumber,
		r.Manual, r.TransactionID, r.RecordedBy, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append recoupment: %w", err)
	}
	return nil
}

func (ts *txStore) ListRecoupments(ctx context.Context, f payments.RecoupmentFilter) ([]payments.AdvanceRecoupment, error) {
	query := "SELECT " + recoupmentColumns + " FROM advance_recoupments WHERE 1 = 1"
	var args []any
	if f.AdvanceID != "" {
		query += " AND salary_advance_id = ?"
		args = append(args, f.AdvanceID)
	}
	if f.PaymentID != "" {
		query += " AND salary_payment_id = ?"
		args = append(args, f.PaymentID)
	}
	query += " ORDER BY created_at ASC, installment_number ASC"

	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recoupments: %w", err)
	}
	defer rows.Close()

	var out []payments.AdvanceRecoupment
	for rows.Next() {
		var (
			r         payments.AdvanceRecoupment
			createdAt string
		)
		if err := rows.Scan(
			&r.ID, &r.SalaryAdvanceID, &r.SalaryPaymentID, &r.Amount, &r.InstallmentNumber,
			&r.Manual, &r.TransactionID, &r.RecordedBy, &createdAt,
		); err != nil {
			return nil, err
		}
		var tp timeParser
		if r.CreatedAt = tp.at(createdAt); tp.err != nil {
			return nil, tp.err
		}
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
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Category, e.Amount, e.Method, e.Status, e.Notes, e.TransactionID,
		e.CreatedBy, e.ApprovedBy, e.PaidBy,
		formatTime(e.CreatedAt), formatNullTime(e.ApprovedAt), formatNullTime(e.PaidAt), formatNullTime(e.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

func (ts *txStore) GetExpense(ctx context.Context, id string) (payments.Expense, error) {
	var (
		e                               payments.Expense
		createdAt                       string
		approvedAt, paidAt, cancelledAt sql.NullString
	)
	err := ts.tx.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id,
	).Scan(
		&e.ID, &e.Title, &e.Category, &e.Amount, &e.Method, &e.Status, &e.Notes, &e.TransactionID,
		&e.CreatedBy, &e.ApprovedBy, &e.PaidBy,
		&createdAt, &approvedAt, &paidAt, &cancelledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return payments.Expense{}, payments.ErrExpenseNotFound
	}
	if err != nil {
		return payments.Expense{}, fmt.Errorf("failed to read expense: %w", err)
	}
	var tp timeParser
	e.CreatedAt = tp.at(createdAt)
	e.ApprovedAt = tp.nullable(approvedAt)
	e.PaidAt = tp.nullable(paidAt)
	e.CancelledAt = tp.nullable(cancelledAt)
	if tp.err != nil {
		return payments.Expense{}, fmt.Errorf("failed to read expense: %w", tp.err)
	}
	return e, nil
}

func (ts *txStore) UpdateExpense(ctx context.Context, e payments.Expense) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE expenses SET
			status = ?, notes = ?, transaction_id = ?, approved_by = ?, paid_by = ?,
			approved_at = ?, paid_at = ?, cancelled_at = ?
		WHERE id = ?`,
		e.Status, e.Notes, e.TransactionID, e.ApprovedBy, e.PaidBy,
		formatNullTime(e.ApprovedAt), formatNullTime(e.PaidAt), formatNullTime(e.CancelledAt),
		e.ID,
	)
	return checkUpdated(res, err, payments.ErrExpenseNotFound)
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}


func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// timeParser reads stored timestamps and keeps the first failure.
type timeParser struct {
	err error
}

func (p *timeParser) at(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t
}

func (p *timeParser) nullable(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := p.at(s.String)
	return &t
}

func checkUpdated(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
