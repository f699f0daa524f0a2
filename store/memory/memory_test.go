package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/treasury-engine/payments"
	"github.com/warp/treasury-engine/store/memory"
	"github.com/warp/treasury-engine/store/storetest"
	"github.com/warp/treasury-engine/treasury"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) treasury.Store {
		return memory.New()
	})
}

func TestRecordsAreCopied(t *testing.T) {
	// GIVEN: a record appended with a deltas map the caller keeps
	ctx := context.Background()
	s := memory.New()
	deltas := treasury.Deltas{treasury.AccountSafe: 10}
	require.NoError(t, s.WithTx(ctx, func(tx treasury.Tx) error {
		return tx.AppendTransaction(ctx, treasury.TransactionRecord{ID: "r1", Sequence: 1, Deltas: deltas})
	}))

	// WHEN: the caller mutates its map
	deltas[treasury.AccountSafe] = 99

	// THEN: the stored record is unaffected
	require.NoError(t, s.WithTx(ctx, func(tx treasury.Tx) error {
		rec, err := tx.GetTransaction(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, treasury.Amount(10), rec.Deltas[treasury.AccountSafe])
		return nil
	}))
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memory.New().WithTx(ctx, func(tx treasury.Tx) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestImplementsPaymentsTx(t *testing.T) {
	require.NoError(t, memory.New().WithTx(context.Background(), func(tx treasury.Tx) error {
		_, ok := tx.(payments.Tx)
		assert.True(t, ok)
		return nil
	}))
}
