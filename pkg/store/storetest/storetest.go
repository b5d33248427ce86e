// Package storetest holds behavioural tests shared by every api.Store implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/finsync/pkg/api"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) api.Store

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

// Transaction builds a transaction for tests.
func Transaction(userID, id string, date time.Time, amount string) api.Transaction {
	return api.Transaction{
		TransactionID: id,
		UserID:        userID,
		ItemID:        "item-1",
		AccountID:     "acc-1",
		Name:          "MERCHANT " + id,
		MerchantName:  "Merchant " + id,
		Amount:        decimal.RequireFromString(amount),
		CurrencyCode:  "USD",
		Date:          date,
		Categories:    []string{"Shopping"},
	}
}

// Receipt builds a processed receipt for tests.
func Receipt(userID, id string, date time.Time, total string) api.Receipt {
	amount := decimal.RequireFromString(total)
	return api.Receipt{
		ReceiptID:       id,
		UserID:          userID,
		VendorName:      ptr("Corner Store"),
		TransactionDate: &date,
		TotalAmount:     &amount,
		CurrencyCode:    ptr("USD"),
		LineItems: []api.LineItem{
			{Description: "Milk", Quantity: 2, Price: decimal.RequireFromString("3.50"), Category: "Groceries > Dairy"},
		},
		Status:    api.ReceiptProcessed,
		CreatedAt: date,
	}
}

// Run executes the shared suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AccountLifecycle", func(t *testing.T) { testAccountLifecycle(t, newStore(t)) })
	t.Run("SaveSyncStatesMerges", func(t *testing.T) { testSaveSyncStatesMerges(t, newStore(t)) })
	t.Run("UpsertIdempotent", func(t *testing.T) { testUpsertIdempotent(t, newStore(t)) })
	t.Run("UpsertPreservesLink", func(t *testing.T) { testUpsertPreservesLink(t, newStore(t)) })
	t.Run("UpsertKeepsOwner", func(t *testing.T) { testUpsertKeepsOwner(t, newStore(t)) })
	t.Run("ListTransactionsFilter", func(t *testing.T) { testListTransactionsFilter(t, newStore(t)) })
	t.Run("LinkReceipt", func(t *testing.T) { testLinkReceipt(t, newStore(t)) })
	t.Run("LinkReceiptConflict", func(t *testing.T) { testLinkReceiptConflict(t, newStore(t)) })
	t.Run("ConcurrentLinkSingleWinner", func(t *testing.T) { testConcurrentLink(t, newStore(t)) })
	t.Run("ListReceipts", func(t *testing.T) { testListReceipts(t, newStore(t)) })
}

func testAccountLifecycle(t *testing.T, s api.Store) {
	ctx := context.Background()
	created := Day(2025, 4, 1)

	err := s.CreateAccount(ctx, api.LinkedAccount{
		UserID:          "user-1",
		ItemID:          "item-1",
		AccessToken:     "access-1",
		InstitutionName: ptr("First Platypus Bank"),
		Status:          api.StatusActive,
		CreatedAt:       created,
	})
	require.NoError(t, err)

	got, err := s.GetAccount(ctx, "user-1", "item-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Nil(t, got.SyncCursor)
	assert.Equal(t, api.StatusActive, got.Status)
	require.NotNil(t, got.InstitutionName)
	assert.Equal(t, "First Platypus Bank", *got.InstitutionName)

	_, err = s.GetAccount(ctx, "user-2", "item-1")
	assert.ErrorIs(t, err, api.ErrNotFound)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, users)

	require.NoError(t, s.DeleteAccount(ctx, "user-1", "item-1"))
	_, err = s.GetAccount(ctx, "user-1", "item-1")
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.ErrorIs(t, s.DeleteAccount(ctx, "user-1", "item-1"), api.ErrNotFound)
}

func testSaveSyncStatesMerges(t *testing.T, s api.Store) {
	ctx := context.Background()
	for _, id := range []string{"item-a", "item-b"} {
		require.NoError(t, s.CreateAccount(ctx, api.LinkedAccount{
			UserID: "user-1", ItemID: id, AccessToken: "token-" + id,
			Status: api.StatusActive, CreatedAt: Day(2025, 4, 1),
		}))
	}

	syncedAt := Day(2025, 4, 2)
	// Two independent writers each updating one account.
	require.NoError(t, s.SaveSyncStates(ctx, "user-1", []api.LinkedAccount{
		{ItemID: "item-a", SyncCursor: ptr("cursor-a"), LastSyncedAt: &syncedAt, Status: api.StatusActive},
	}))
	require.NoError(t, s.SaveSyncStates(ctx, "user-1", []api.LinkedAccount{
		{ItemID: "item-b", LastSyncedAt: &syncedAt, Status: api.StatusError, LastSyncError: ptr("boom")},
	}))

	accounts, err := s.ListAccounts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	byID := map[string]api.LinkedAccount{}
	for _, a := range accounts {
		byID[a.ItemID] = a
	}

	a := byID["item-a"]
	require.NotNil(t, a.SyncCursor)
	assert.Equal(t, "cursor-a", *a.SyncCursor)
	assert.Equal(t, api.StatusActive, a.Status)
	assert.Equal(t, "token-item-a", a.AccessToken, "credential untouched by sync state writes")

	b := byID["item-b"]
	assert.Nil(t, b.SyncCursor)
	assert.Equal(t, api.StatusError, b.Status)
	require.NotNil(t, b.LastSyncError)
	assert.Equal(t, "boom", *b.LastSyncError)
	require.NotNil(t, b.LastSyncedAt)
	assert.True(t, syncedAt.Equal(*b.LastSyncedAt))
}

func testUpsertIdempotent(t *testing.T, s api.Store) {
	ctx := context.Background()
	batch := []api.Transaction{
		Transaction("user-1", "txn-1", Day(2025, 4, 10), "12.50"),
		Transaction("user-1", "txn-2", Day(2025, 4, 11), "-100.00"),
	}

	require.NoError(t, s.UpsertBatch(ctx, batch))
	first, err := s.ListTransactions(ctx, "user-1", api.TransactionFilter{})
	require.NoError(t, err)

	require.NoError(t, s.UpsertBatch(ctx, batch))
	second, err := s.ListTransactions(ctx, "user-1", api.TransactionFilter{})
	require.NoError(t, err)

	require.Len(t, second, 2)
	assert.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].TransactionID, second[i].TransactionID)
		assert.True(t, first[i].Amount.Equal(second[i].Amount))
		assert.Equal(t, first[i].Categories, second[i].Categories)
	}
}

func testUpsertPreservesLink(t *testing.T, s api.Store) {
	ctx := context.Background()
	txn := Transaction("user-1", "txn-1", Day(2025, 4, 13), "15.80")
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{txn}))
	require.NoError(t, s.CreateReceipt(ctx, Receipt("user-1", "rcpt-1", Day(2025, 4, 12), "15.75")))
	require.NoError(t, s.LinkReceipt(ctx, "user-1", "rcpt-1", "txn-1"))

	txn.Name = "UPDATED NAME"
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{txn}))

	got, err := s.GetTransaction(ctx, "user-1", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "UPDATED NAME", got.Name)
	require.NotNil(t, got.LinkedReceiptID)
	assert.Equal(t, "rcpt-1", *got.LinkedReceiptID)
}

func testUpsertKeepsOwner(t *testing.T, s api.Store) {
	ctx := context.Background()
	txn := Transaction("user-1", "txn-1", Day(2025, 4, 13), "15.80")
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{txn}))
	require.NoError(t, s.CreateReceipt(ctx, Receipt("user-1", "rcpt-1", Day(2025, 4, 12), "15.75")))
	require.NoError(t, s.LinkReceipt(ctx, "user-1", "rcpt-1", "txn-1"))

	other := Transaction("user-2", "txn-1", Day(2025, 4, 14), "99.00")
	other.Name = "OTHER USER"
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{other}))

	got, err := s.GetTransaction(ctx, "user-1", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "MERCHANT txn-1", got.Name)
	assert.True(t, got.Amount.Equal(txn.Amount))
	require.NotNil(t, got.LinkedReceiptID)
	assert.Equal(t, "rcpt-1", *got.LinkedReceiptID)

	_, err = s.GetTransaction(ctx, "user-2", "txn-1")
	assert.ErrorIs(t, err, api.ErrNotFound)

	others, err := s.ListTransactions(ctx, "user-2", api.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, others)
}

func testListTransactionsFilter(t *testing.T, s api.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{
		Transaction("user-1", "txn-1", Day(2025, 4, 9), "1.00"),
		Transaction("user-1", "txn-2", Day(2025, 4, 10), "2.00"),
		Transaction("user-1", "txn-3", Day(2025, 4, 12), "3.00"),
		Transaction("user-1", "txn-4", Day(2025, 4, 13), "4.00"),
		Transaction("user-2", "txn-5", Day(2025, 4, 11), "5.00"),
	}))

	got, err := s.ListTransactions(ctx, "user-1", api.TransactionFilter{From: Day(2025, 4, 10), To: Day(2025, 4, 13)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "txn-3", got[0].TransactionID, "newest first")
	assert.Equal(t, "txn-2", got[1].TransactionID)

	limited, err := s.ListTransactions(ctx, "user-1", api.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "txn-4", limited[0].TransactionID)

	_, err = s.GetTransaction(ctx, "user-1", "txn-5")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func testLinkReceipt(t *testing.T, s api.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{Transaction("user-1", "txn-1", Day(2025, 4, 13), "15.80")}))
	require.NoError(t, s.CreateReceipt(ctx, Receipt("user-1", "rcpt-1", Day(2025, 4, 12), "15.75")))

	require.NoError(t, s.LinkReceipt(ctx, "user-1", "rcpt-1", "txn-1"))

	receipt, err := s.GetReceipt(ctx, "user-1", "rcpt-1")
	require.NoError(t, err)
	assert.Equal(t, api.ReceiptMatched, receipt.Status)
	require.NotNil(t, receipt.MatchedTransactionID)
	assert.Equal(t, "txn-1", *receipt.MatchedTransactionID)
	require.Len(t, receipt.LineItems, 1)
	assert.Equal(t, "Groceries > Dairy", receipt.LineItems[0].Category)

	unlinked, err := s.ListTransactions(ctx, "user-1", api.TransactionFilter{UnlinkedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unlinked)
}

func testLinkReceiptConflict(t *testing.T, s api.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{Transaction("user-1", "txn-1", Day(2025, 4, 13), "15.80")}))
	require.NoError(t, s.CreateReceipt(ctx, Receipt("user-1", "rcpt-1", Day(2025, 4, 12), "15.75")))
	require.NoError(t, s.CreateReceipt(ctx, Receipt("user-1", "rcpt-2", Day(2025, 4, 12), "15.75")))
	require.NoError(t, s.LinkReceipt(ctx, "user-1", "rcpt-1", "txn-1"))

	err := s.LinkReceipt(ctx, "user-1", "rcpt-2", "txn-1")
	assert.ErrorIs(t, err, api.ErrConflict)

	second, err := s.GetReceipt(ctx, "user-1", "rcpt-2")
	require.NoError(t, err)
	assert.Equal(t, api.ReceiptProcessed, second.Status, "losing receipt left untouched")
	assert.Nil(t, second.MatchedTransactionID)

	txn, err := s.GetTransaction(ctx, "user-1", "txn-1")
	require.NoError(t, err)
	require.NotNil(t, txn.LinkedReceiptID)
	assert.Equal(t, "rcpt-1", *txn.LinkedReceiptID)

	assert.ErrorIs(t, s.LinkReceipt(ctx, "user-1", "rcpt-missing", "txn-1"), api.ErrNotFound)
}

func testConcurrentLink(t *testing.T, s api.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertBatch(ctx, []api.Transaction{Transaction("user-1", "txn-1", Day(2025, 4, 13), "15.80")}))

	const n = 8
	for i := range n {
		require.NoError(t, s.CreateReceipt(ctx, Receipt("user-1", receiptID(i), Day(2025, 4, 12), "15.75")))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.LinkReceipt(ctx, "user-1", receiptID(i), "txn-1")
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, api.ErrConflict)
		}
	}
	assert.Equal(t, 1, winners)
}

func testListReceipts(t *testing.T, s api.Store) {
	ctx := context.Background()
	older := Receipt("user-1", "rcpt-1", Day(2025, 4, 1), "10.00")
	newer := Receipt("user-1", "rcpt-2", Day(2025, 4, 5), "20.00")
	newer.VendorName = ptr("Blue Bottle Coffee")
	require.NoError(t, s.CreateReceipt(ctx, older))
	require.NoError(t, s.CreateReceipt(ctx, newer))

	all, err := s.ListReceipts(ctx, "user-1", api.ReceiptFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "rcpt-2", all[0].ReceiptID)

	coffee, err := s.ListReceipts(ctx, "user-1", api.ReceiptFilter{Vendor: "bottle"})
	require.NoError(t, err)
	require.Len(t, coffee, 1)
	assert.Equal(t, "rcpt-2", coffee[0].ReceiptID)

	matched, err := s.ListReceipts(ctx, "user-1", api.ReceiptFilter{Status: api.ReceiptMatched})
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func receiptID(i int) string {
	return "rcpt-" + string(rune('a'+i))
}
