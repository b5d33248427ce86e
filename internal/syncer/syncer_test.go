package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/finsync/pkg/aggregator"
	"github.com/ArionMiles/finsync/pkg/aggregator/mocks"
	"github.com/ArionMiles/finsync/pkg/api"
	"github.com/ArionMiles/finsync/pkg/store/memory"
)

var fixedNow = time.Date(2025, 4, 15, 9, 30, 0, 0, time.UTC)

func newEngine(t *testing.T, agg aggregator.Client, store *memory.Store) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(agg, store, store, Config{Concurrency: 2, Now: func() time.Time { return fixedNow }}, logger)
}

func seedAccount(t *testing.T, store *memory.Store, itemID string, cursor *string) api.LinkedAccount {
	t.Helper()
	account := api.LinkedAccount{
		UserID:      "user-1",
		ItemID:      itemID,
		AccessToken: "token-" + itemID,
		SyncCursor:  cursor,
		Status:      api.StatusActive,
		CreatedAt:   fixedNow.Add(-24 * time.Hour),
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	if cursor != nil {
		require.NoError(t, store.SaveSyncStates(context.Background(), "user-1", []api.LinkedAccount{account}))
	}
	return account
}

func raw(id, amount string) aggregator.RawTransaction {
	return aggregator.RawTransaction{
		TransactionID: id,
		AccountID:     "acc-1",
		Name:          "NAME " + id,
		Amount:        decimal.RequireFromString(amount),
		Date:          time.Date(2025, 4, 13, 0, 0, 0, 0, time.UTC),
		Categories:    []string{"Shopping"},
	}
}

func strPtr(s string) *string { return &s }

func storedAccount(t *testing.T, store *memory.Store, itemID string) *api.LinkedAccount {
	t.Helper()
	account, err := store.GetAccount(context.Background(), "user-1", itemID)
	require.NoError(t, err)
	return account
}

func TestSyncAccount_InitialSinglePage(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", nil)

	agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "").Return(&aggregator.SyncPage{
		Added:      []aggregator.RawTransaction{raw("t1", "-10.00"), raw("t2", "-20.00"), raw("t3", "5.00")},
		HasMore:    false,
		NextCursor: "cursor-1",
	}, nil)

	result, err := newEngine(t, agg, store).SyncAccount(context.Background(), account)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TransactionsAdded)
	assert.Equal(t, api.StatusActive, result.Account.Status)

	txns, err := store.ListTransactions(context.Background(), "user-1", api.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 3)

	stored := storedAccount(t, store, "item-1")
	require.NotNil(t, stored.SyncCursor)
	assert.Equal(t, "cursor-1", *stored.SyncCursor)
	assert.Equal(t, api.StatusActive, stored.Status)
	assert.Nil(t, stored.LastSyncError)
	require.NotNil(t, stored.LastSyncedAt)
	assert.True(t, fixedNow.Equal(*stored.LastSyncedAt))
}

func TestSyncAccount_CursorAdvancesAcrossPages(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", strPtr("cursor-0"))

	gomock.InOrder(
		agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "cursor-0").Return(&aggregator.SyncPage{
			Added: []aggregator.RawTransaction{raw("t1", "-1.00")}, HasMore: true, NextCursor: "cursor-1",
		}, nil),
		agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "cursor-1").Return(&aggregator.SyncPage{
			Added: []aggregator.RawTransaction{raw("t2", "-2.00")}, HasMore: true, NextCursor: "cursor-2",
		}, nil),
		agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "cursor-2").Return(&aggregator.SyncPage{
			Modified: []aggregator.RawTransaction{raw("t1", "-1.50")}, Removed: []string{"t0"}, HasMore: false, NextCursor: "cursor-3",
		}, nil),
	)

	result, err := newEngine(t, agg, store).SyncAccount(context.Background(), account)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TransactionsAdded)
	assert.Equal(t, 1, result.TransactionsModified)
	assert.Equal(t, 1, result.TransactionsRemoved)

	stored := storedAccount(t, store, "item-1")
	require.NotNil(t, stored.SyncCursor)
	assert.Equal(t, "cursor-3", *stored.SyncCursor)

	t1, err := store.GetTransaction(context.Background(), "user-1", "t1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.50").Equal(t1.Amount), "modified version wins")
}

func TestSyncAccount_MidPaginationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", nil)

	gomock.InOrder(
		agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "").Return(&aggregator.SyncPage{
			Added: []aggregator.RawTransaction{raw("t1", "-1.00"), raw("t2", "-2.00")}, HasMore: true, NextCursor: "cursor-1",
		}, nil),
		agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "cursor-1").Return(nil, fmt.Errorf("syncing transactions: %w", api.ErrUpstream)),
	)

	result, err := newEngine(t, agg, store).SyncAccount(context.Background(), account)
	require.NoError(t, err, "aggregator failures are reported through the account state")
	assert.Equal(t, 2, result.TransactionsAdded)

	txns, err := store.ListTransactions(context.Background(), "user-1", api.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 2, "pages fetched before the failure are kept")

	stored := storedAccount(t, store, "item-1")
	assert.Equal(t, api.StatusError, stored.Status)
	require.NotNil(t, stored.LastSyncError)
	assert.Contains(t, *stored.LastSyncError, "upstream failure")
	require.NotNil(t, stored.SyncCursor)
	assert.Equal(t, "cursor-1", *stored.SyncCursor)
	require.NotNil(t, stored.LastSyncedAt)
}

func TestSyncAccount_LoginRequired(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", strPtr("cursor-5"))

	agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "cursor-5").Return(nil, fmt.Errorf("syncing: %w", api.ErrLoginRequired))

	_, err := newEngine(t, agg, store).SyncAccount(context.Background(), account)
	require.NoError(t, err)

	stored := storedAccount(t, store, "item-1")
	assert.Equal(t, api.StatusLoginRequired, stored.Status)
	assert.Nil(t, stored.LastSyncError)
	require.NotNil(t, stored.SyncCursor)
	assert.Equal(t, "cursor-5", *stored.SyncCursor, "cursor untouched when no page was received")
	require.NotNil(t, stored.LastSyncedAt)
}

func TestSyncAccount_RecoversToActive(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", nil)
	account.Status = api.StatusError
	account.LastSyncError = strPtr("previous failure")
	require.NoError(t, store.SaveSyncStates(context.Background(), "user-1", []api.LinkedAccount{account}))

	agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "").Return(&aggregator.SyncPage{NextCursor: "cursor-1"}, nil)

	_, err := newEngine(t, agg, store).SyncAccount(context.Background(), account)
	require.NoError(t, err)

	stored := storedAccount(t, store, "item-1")
	assert.Equal(t, api.StatusActive, stored.Status)
	assert.Nil(t, stored.LastSyncError)
}

func TestSyncAccount_PersistenceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", nil)

	agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "").Return(&aggregator.SyncPage{
		Added: []aggregator.RawTransaction{raw("t1", "-1.00")}, NextCursor: "cursor-1",
	}, nil)

	failing := &failingTransactions{TransactionStore: store, err: fmt.Errorf("%w: disk full", api.ErrPersistence)}
	engine := New(agg, failing, store, Config{Now: func() time.Time { return fixedNow }}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := engine.SyncAccount(context.Background(), account)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrPersistence)
	assert.Equal(t, 0, result.TransactionsAdded)

	stored := storedAccount(t, store, "item-1")
	assert.Equal(t, api.StatusError, stored.Status)
	require.NotNil(t, stored.LastSyncError)
	require.NotNil(t, stored.SyncCursor)
	assert.Equal(t, "cursor-1", *stored.SyncCursor, "cursor advances to the furthest page retrieved")
}

func TestSyncAccount_ContextCanceledKeepsStoredState(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", strPtr("cursor-0"))

	ctx, cancel := context.WithCancel(context.Background())
	gomock.InOrder(
		agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "cursor-0").Return(&aggregator.SyncPage{
			Added: []aggregator.RawTransaction{raw("t1", "-1.00")}, HasMore: true, NextCursor: "cursor-1",
		}, nil),
		agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "cursor-1").DoAndReturn(
			func(ctx context.Context, _, _ string) (*aggregator.SyncPage, error) {
				cancel()
				return nil, ctx.Err()
			}),
	)

	_, err := newEngine(t, agg, store).SyncAccount(ctx, account)
	assert.ErrorIs(t, err, context.Canceled)

	stored := storedAccount(t, store, "item-1")
	require.NotNil(t, stored.SyncCursor)
	assert.Equal(t, "cursor-0", *stored.SyncCursor)
	assert.Nil(t, stored.LastSyncedAt)
	assert.Equal(t, api.StatusActive, stored.Status)
}

func TestSyncAllAccounts_PartialFailureIsolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	a := seedAccount(t, store, "item-a", nil)
	b := seedAccount(t, store, "item-b", nil)

	agg.EXPECT().SyncPage(gomock.Any(), "token-item-a", "").Return(nil, fmt.Errorf("plaid: %w", api.ErrUpstream))
	agg.EXPECT().SyncPage(gomock.Any(), "token-item-b", "").Return(&aggregator.SyncPage{
		Added: []aggregator.RawTransaction{raw("b1", "-4.00"), raw("b2", "-6.00")}, NextCursor: "cursor-b",
	}, nil)

	result, err := newEngine(t, agg, store).SyncAllAccounts(context.Background(), "user-1", []api.LinkedAccount{a, b})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Accounts)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.TransactionsAdded)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "item-a", result.Results[0].Account.ItemID)

	storedA := storedAccount(t, store, "item-a")
	assert.Equal(t, api.StatusError, storedA.Status)
	require.NotNil(t, storedA.LastSyncError)
	assert.NotEmpty(t, *storedA.LastSyncError)

	storedB := storedAccount(t, store, "item-b")
	assert.Equal(t, api.StatusActive, storedB.Status)
	require.NotNil(t, storedB.SyncCursor)
	assert.Equal(t, "cursor-b", *storedB.SyncCursor)

	txns, err := store.ListTransactions(context.Background(), "user-1", api.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestSyncAllAccounts_ReplayIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", nil)

	page := &aggregator.SyncPage{Added: []aggregator.RawTransaction{raw("t1", "-1.00"), raw("t2", "-2.00")}, NextCursor: "cursor-1"}
	agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "").Return(page, nil).Times(2)

	engine := newEngine(t, agg, store)
	_, err := engine.SyncAllAccounts(context.Background(), "user-1", []api.LinkedAccount{account})
	require.NoError(t, err)
	_, err = engine.SyncAllAccounts(context.Background(), "user-1", []api.LinkedAccount{account})
	require.NoError(t, err)

	txns, err := store.ListTransactions(context.Background(), "user-1", api.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestSyncAllAccounts_StateWriteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", nil)

	agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "").Return(&aggregator.SyncPage{NextCursor: "cursor-1"}, nil)
	store.FailWrites(errors.New("read-only"))

	_, err := newEngine(t, agg, store).SyncAllAccounts(context.Background(), "user-1", []api.LinkedAccount{account})
	assert.ErrorIs(t, err, api.ErrPersistence)
}

func TestSyncAllAccounts_CompletedAccountSurvivesCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	mem := memory.New()
	a := seedAccount(t, mem, "item-a", nil)
	b := seedAccount(t, mem, "item-b", nil)
	store := &ctxStore{Store: mem, upserted: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg.EXPECT().SyncPage(gomock.Any(), "token-item-a", "").Return(&aggregator.SyncPage{
		Added: []aggregator.RawTransaction{raw("a1", "-3.00")}, NextCursor: "cursor-a",
	}, nil)
	agg.EXPECT().SyncPage(gomock.Any(), "token-item-b", "").DoAndReturn(
		func(ctx context.Context, _, _ string) (*aggregator.SyncPage, error) {
			<-store.upserted
			cancel()
			return nil, ctx.Err()
		})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := New(agg, store, store, Config{Concurrency: 2, Now: func() time.Time { return fixedNow }}, logger)

	_, err := engine.SyncAllAccounts(ctx, "user-1", []api.LinkedAccount{a, b})
	assert.ErrorIs(t, err, context.Canceled)

	storedA := storedAccount(t, mem, "item-a")
	require.NotNil(t, storedA.SyncCursor)
	assert.Equal(t, "cursor-a", *storedA.SyncCursor)
	require.NotNil(t, storedA.LastSyncedAt)
	assert.Equal(t, api.StatusActive, storedA.Status)

	storedB := storedAccount(t, mem, "item-b")
	assert.Nil(t, storedB.SyncCursor)
	assert.Nil(t, storedB.LastSyncedAt)
}

func TestSyncAccount_StalledCursorStops(t *testing.T) {
	ctrl := gomock.NewController(t)
	agg := mocks.NewMockClient(ctrl)
	store := memory.New()
	account := seedAccount(t, store, "item-1", strPtr("cursor-0"))

	agg.EXPECT().SyncPage(gomock.Any(), "token-item-1", "cursor-0").Return(&aggregator.SyncPage{
		Added: []aggregator.RawTransaction{raw("t1", "-1.00")}, HasMore: true, NextCursor: "cursor-0",
	}, nil).Times(1)

	result, err := newEngine(t, agg, store).SyncAccount(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TransactionsAdded)

	stored := storedAccount(t, store, "item-1")
	assert.Equal(t, api.StatusError, stored.Status)
	require.NotNil(t, stored.LastSyncError)
	assert.Contains(t, *stored.LastSyncError, "without advancing cursor")
	require.NotNil(t, stored.SyncCursor)
	assert.Equal(t, "cursor-0", *stored.SyncCursor)
}

// ctxStore rejects writes once their context has ended, like pgx does.
type ctxStore struct {
	*memory.Store
	upserted chan struct{}
	once     sync.Once
}

func (s *ctxStore) UpsertBatch(ctx context.Context, txns []api.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Store.UpsertBatch(ctx, txns); err != nil {
		return err
	}
	s.once.Do(func() { close(s.upserted) })
	return nil
}

func (s *ctxStore) SaveSyncStates(ctx context.Context, userID string, states []api.LinkedAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.SaveSyncStates(ctx, userID, states)
}

type failingTransactions struct {
	api.TransactionStore
	err error
}

func (f *failingTransactions) UpsertBatch(context.Context, []api.Transaction) error {
	return f.err
}
