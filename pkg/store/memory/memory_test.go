package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/finsync/pkg/api"
	"github.com/ArionMiles/finsync/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) api.Store { return New() })
}

func TestUpsertBatch_AllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()

	batch := []api.Transaction{
		storetest.Transaction("user-1", "txn-1", storetest.Day(2025, 4, 1), "1.00"),
		{UserID: "user-1"},
	}
	err := s.UpsertBatch(ctx, batch)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	got, err := s.ListTransactions(ctx, "user-1", api.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, got, "no transaction written when the batch is rejected")
}

func TestFailWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.FailWrites(errors.New("disk full"))

	err := s.UpsertBatch(ctx, []api.Transaction{storetest.Transaction("user-1", "txn-1", storetest.Day(2025, 4, 1), "1.00")})
	assert.ErrorIs(t, err, api.ErrPersistence)

	s.FailWrites(nil)
	assert.NoError(t, s.UpsertBatch(ctx, []api.Transaction{storetest.Transaction("user-1", "txn-1", storetest.Day(2025, 4, 1), "1.00")}))
}

func TestReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{storetest.Transaction("user-1", "txn-1", storetest.Day(2025, 4, 1), "1.00")}))

	got, err := s.GetTransaction(ctx, "user-1", "txn-1")
	require.NoError(t, err)
	got.Categories[0] = "Mutated"

	again, err := s.GetTransaction(ctx, "user-1", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "Shopping", again.Categories[0])
}
