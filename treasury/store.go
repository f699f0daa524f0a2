/*
store.go - Persistence interfaces for the treasury

PURPOSE:
  Defines the boundary between the ledger logic and the database.
  Every read and write happens inside a unit of work (Store.WithTx);
  nothing is cached across units.

KEY INTERFACES:
  Store: opens units of work
  Tx:    everything a unit of work can read or write

ISOLATION CONTRACT:
  Tx.LockSnapshot must guarantee that no other unit can apply a mutation
  to the snapshot until this unit commits or rolls back:
  - SQLite: one connection, one writer, store mutex held for the unit
  - PostgreSQL: SELECT ... FOR UPDATE on the singleton row
  - Memory: store mutex held for the unit
  SaveSnapshot additionally compares Version and fails with
  ErrConcurrentModification if the row moved.

APPEND-ONLY CONTRACT:
  Transaction records, verifications and bank transfers have no Update or
  Delete. Corrections are new records.

IMPLEMENTATIONS:
  - store/memory:   in-memory, snapshot + restore on rollback
  - store/sqlite:   database/sql + go-sqlite3
  - store/postgres: pgx/v5 pool
*/
package treasury

import (
	"context"
	"time"
)

// Store opens units of work.
type Store interface {
	// WithTx executes fn within one atomic unit.
	// If fn returns an error, every write made through the Tx is discarded.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	// LockSnapshot reads the snapshot and holds it against concurrent writers
	// until the unit ends. Returns ErrNotInitialized if none exists.
	LockSnapshot(ctx context.Context) (Snapshot, error)

	// CreateSnapshot inserts the singleton. Returns ErrAlreadyInitialized if present.
	CreateSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error)

	// SaveSnapshot writes snap if the stored version still equals snap.Version,
	// and returns it with the bumped version.
	SaveSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error)

	// AppendTransaction persists a record. This is the ONLY log write.
	AppendTransaction(ctx context.Context, rec TransactionRecord) error
	GetTransaction(ctx context.Context, id string) (TransactionRecord, error)
	FindTransactions(ctx context.Context, filter TransactionFilter) ([]TransactionRecord, error)

	// GetVerification returns the verification for a date, or nil.
	GetVerification(ctx context.Context, date Date) (*DailyVerification, error)
	// AppendVerification returns ErrAlreadyVerified if the date is taken.
	AppendVerification(ctx context.Context, v DailyVerification) error
	ListVerifications(ctx context.Context, limit int) ([]DailyVerification, error)

	AppendBankTransfer(ctx context.Context, t BankTransfer) error
	ListBankTransfers(ctx context.Context, limit int) ([]BankTransfer, error)
}

// TransactionFilter narrows FindTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	Types      []TransactionType
	Reference  *Reference
	From       *time.Time
	To         *time.Time
	Limit      int
	Descending bool // newest first; default is log order
}

// Matches applies the filter to one record. Stores without a query
// language (memory) use it directly; SQL stores translate it.
func (f TransactionFilter) Matches(rec TransactionRecord) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if rec.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Reference != nil && rec.Reference != *f.Reference {
		return false
	}
	if f.From != nil && rec.RecordedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.RecordedAt.After(*f.To) {
		return false
	}
	return true
}
