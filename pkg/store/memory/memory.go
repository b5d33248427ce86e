// Package memory provides an in-memory implementation of the finsync store.
// It is used by tests and by local development runs with FINSYNC_STORE=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ArionMiles/finsync/pkg/api"
)

type accountKey struct{ userID, itemID string }

// Store keeps every record in maps guarded by a single mutex. All reads
// and writes exchange copies so callers never share memory with the store.
type Store struct {
	mu           sync.RWMutex
	accounts     map[accountKey]api.LinkedAccount
	transactions map[string]api.Transaction
	receipts     map[string]api.Receipt

	// failWrites makes every mutating call fail, for exercising error paths.
	failWrites error
}

var _ api.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:     make(map[accountKey]api.LinkedAccount),
		transactions: make(map[string]api.Transaction),
		receipts:     make(map[string]api.Receipt),
	}
}

// FailWrites makes subsequent writes return err. Pass nil to restore.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

func (s *Store) writeErr() error {
	if s.failWrites != nil {
		return fmt.Errorf("%w: %w", api.ErrPersistence, s.failWrites)
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// CreateAccount inserts or replaces a linked account credential.
func (s *Store) CreateAccount(_ context.Context, account api.LinkedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}

	key := accountKey{account.UserID, account.ItemID}
	if existing, ok := s.accounts[key]; ok {
		existing.AccessToken = account.AccessToken
		existing.InstitutionID = account.InstitutionID
		existing.InstitutionName = account.InstitutionName
		existing.InstitutionLogo = account.InstitutionLogo
		existing.Status = account.Status
		existing.LastSyncError = nil
		s.accounts[key] = cloneAccount(existing)
		return nil
	}

	s.accounts[key] = cloneAccount(account)
	return nil
}

// GetAccount returns one linked account.
func (s *Store) GetAccount(_ context.Context, userID, itemID string) (*api.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountKey{userID, itemID}]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", itemID, api.ErrNotFound)
	}
	out := cloneAccount(account)
	return &out, nil
}

// ListAccounts returns a user's accounts ordered by creation time.
func (s *Store) ListAccounts(_ context.Context, userID string) ([]api.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.LinkedAccount
	for key, account := range s.accounts {
		if key.userID == userID {
			out = append(out, cloneAccount(account))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// ListUsers returns every user with at least one linked account.
func (s *Store) ListUsers(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for key := range s.accounts {
		if !seen[key.userID] {
			seen[key.userID] = true
			out = append(out, key.userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SaveSyncStates merges the sync fields of each account in one locked write.
// Accounts deleted in the meantime are skipped.
func (s *Store) SaveSyncStates(_ context.Context, userID string, accounts []api.LinkedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}

	for _, updated := range accounts {
		key := accountKey{userID, updated.ItemID}
		current, ok := s.accounts[key]
		if !ok {
			continue
		}
		current.SyncCursor = cloneString(updated.SyncCursor)
		current.LastSyncedAt = cloneTime(updated.LastSyncedAt)
		current.Status = updated.Status
		current.LastSyncError = cloneString(updated.LastSyncError)
		s.accounts[key] = current
	}
	return nil
}

// DeleteAccount removes a linked account. Its transactions are kept.
func (s *Store) DeleteAccount(_ context.Context, userID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}

	key := accountKey{userID, itemID}
	if _, ok := s.accounts[key]; !ok {
		return fmt.Errorf("account %s: %w", itemID, api.ErrNotFound)
	}
	delete(s.accounts, key)
	return nil
}

// UpsertBatch writes every transaction or none.
func (s *Store) UpsertBatch(_ context.Context, transactions []api.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}

	for _, txn := range transactions {
		if txn.TransactionID == "" {
			return fmt.Errorf("upserting transaction without id: %w", api.ErrInvalidArgument)
		}
	}

	for _, txn := range transactions {
		next := cloneTransaction(txn)
		if existing, ok := s.transactions[txn.TransactionID]; ok {
			// A transaction id owned by another user is left untouched.
			if existing.UserID != txn.UserID {
				continue
			}
			next.LinkedReceiptID = existing.LinkedReceiptID
		}
		s.transactions[txn.TransactionID] = next
	}
	return nil
}

// GetTransaction returns one transaction owned by userID.
func (s *Store) GetTransaction(_ context.Context, userID, transactionID string) (*api.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[transactionID]
	if !ok || txn.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, api.ErrNotFound)
	}
	out := cloneTransaction(txn)
	return &out, nil
}

// ListTransactions returns the user's transactions newest first.
func (s *Store) ListTransactions(_ context.Context, userID string, filter api.TransactionFilter) ([]api.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Transaction
	for _, txn := range s.transactions {
		if txn.UserID != userID || !filter.Contains(txn.Date) {
			continue
		}
		if filter.UnlinkedOnly && txn.LinkedReceiptID != nil {
			continue
		}
		out = append(out, cloneTransaction(txn))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].TransactionID < out[j].TransactionID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateReceipt inserts a new receipt.
func (s *Store) CreateReceipt(_ context.Context, receipt api.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}
	if _, ok := s.receipts[receipt.ReceiptID]; ok {
		return fmt.Errorf("receipt %s already exists: %w", receipt.ReceiptID, api.ErrConflict)
	}
	s.receipts[receipt.ReceiptID] = cloneReceipt(receipt)
	return nil
}

// GetReceipt returns one receipt owned by userID.
func (s *Store) GetReceipt(_ context.Context, userID, receiptID string) (*api.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[receiptID]
	if !ok || receipt.UserID != userID {
		return nil, fmt.Errorf("receipt %s: %w", receiptID, api.ErrNotFound)
	}
	out := cloneReceipt(receipt)
	return &out, nil
}

// ListReceipts returns the user's receipts newest first.
func (s *Store) ListReceipts(_ context.Context, userID string, filter api.ReceiptFilter) ([]api.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Receipt
	for _, receipt := range s.receipts {
		if receipt.UserID != userID {
			continue
		}
		if filter.Status != "" && receipt.Status != filter.Status {
			continue
		}
		if filter.Vendor != "" && (receipt.VendorName == nil || !strings.Contains(strings.ToLower(*receipt.VendorName), strings.ToLower(filter.Vendor))) {
			continue
		}
		out = append(out, cloneReceipt(receipt))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ReceiptID < out[j].ReceiptID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// LinkReceipt links a receipt and a transaction, or changes nothing.
func (s *Store) LinkReceipt(_ context.Context, userID, receiptID, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}

	receipt, ok := s.receipts[receiptID]
	if !ok || receipt.UserID != userID {
		return fmt.Errorf("receipt %s: %w", receiptID, api.ErrNotFound)
	}
	txn, ok := s.transactions[transactionID]
	if !ok || txn.UserID != userID {
		return fmt.Errorf("transaction %s: %w", transactionID, api.ErrNotFound)
	}
	if receipt.MatchedTransactionID != nil {
		return fmt.Errorf("receipt %s already matched: %w", receiptID, api.ErrConflict)
	}
	if txn.LinkedReceiptID != nil {
		return fmt.Errorf("transaction %s already linked: %w", transactionID, api.ErrConflict)
	}

	receipt.MatchedTransactionID = &transactionID
	receipt.Status = api.ReceiptMatched
	txn.LinkedReceiptID = &receiptID

	s.receipts[receiptID] = receipt
	s.transactions[transactionID] = txn
	return nil
}
