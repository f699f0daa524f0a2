package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/treasury-engine/store/sqlite"
	"github.com/warp/treasury-engine/store/storetest"
	"github.com/warp/treasury-engine/treasury"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) treasury.Store {
		return newStore(t)
	})
}

func TestPing(t *testing.T) {
	assert.NoError(t, newStore(t).Ping(context.Background()))
}

func TestReopenKeepsLedger(t *testing.T) {
	// GIVEN: a file database with an initialized treasury and one income
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "treasury.db")
	clock := treasury.NewFixedClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	s, err := sqlite.New(path)
	require.NoError(t, err)
	l := treasury.NewLedger(s, clock, zerolog.Nop())
	_, err = l.Initialize(ctx, treasury.Balances{Registry: 10_000}, treasury.Limits{RegistryFloatTarget: 5_000}, "admin")
	require.NoError(t, err)
	_, _, err = l.RecordIncome(ctx, treasury.IncomeRequest{Account: treasury.AccountRegistry, Amount: 2_500, Type: treasury.TxStudentPayment})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: the database is opened again
	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()
	l = treasury.NewLedger(s, clock, zerolog.Nop())

	// THEN: balances, limits and the log survived
	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, treasury.Amount(12_500), snap.Registry)
	assert.Equal(t, treasury.Amount(5_000), snap.RegistryFloatTarget)

	report, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 2, report.Records)
}

func TestCorruptTimestampIsAnError(t *testing.T) {
	// GIVEN: an initialized treasury whose stored update time was damaged outside the store
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "treasury.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	l := treasury.NewLedger(s, treasury.NewFixedClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)), zerolog.Nop())
	_, err = l.Initialize(ctx, treasury.Balances{Safe: 1_000}, treasury.Limits{}, "admin")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec("UPDATE treasury_snapshot SET updated_at = 'yesterday'")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	// WHEN: the snapshot is read back
	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = treasury.NewLedger(s, treasury.SystemClock{}, zerolog.Nop()).Snapshot(ctx)

	// THEN: the read fails instead of returning a zero time
	require.Error(t, err)
	assert.NotErrorIs(t, err, treasury.ErrNotInitialized)
	assert.Contains(t, err.Error(), "yesterday")
}
