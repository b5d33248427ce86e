// Package syncer drives incremental transaction sync for linked accounts.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/finsync/pkg/aggregator"
	"github.com/ArionMiles/finsync/pkg/api"
)

// stateWriteTimeout bounds the final sync state write, which runs even
// after the caller's context has ended.
const stateWriteTimeout = 10 * time.Second

// Config tunes the engine.
type Config struct {
	// Concurrency bounds how many accounts sync at once. Defaults to 4.
	Concurrency int
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine pulls transaction pages from the aggregator and applies them to
// the transaction store. It owns the sync fields of every LinkedAccount.
type Engine struct {
	aggregator   aggregator.Client
	transactions api.TransactionStore
	accounts     api.AccountStore
	concurrency  int
	now          func() time.Time
	logger       *slog.Logger
}

// New creates a sync engine.
func New(agg aggregator.Client, transactions api.TransactionStore, accounts api.AccountStore, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		aggregator:   agg,
		transactions: transactions,
		accounts:     accounts,
		concurrency:  cfg.Concurrency,
		now:          cfg.Now,
		logger:       logger.With("component", "syncer"),
	}
}

// outcome is the in-memory result of one account's sync before its state
// is written back.
type outcome struct {
	result api.SyncResult
	// err is set when fetched transactions could not be persisted.
	err error
	// aborted is set when the context ended; the account keeps its stored state.
	aborted bool
}

// SyncAccount syncs one account and stores its new sync state. The
// returned error is non-nil only when the store failed or the context
// ended; aggregator failures are reported through the account status.
func (e *Engine) SyncAccount(ctx context.Context, account api.LinkedAccount) (api.SyncResult, error) {
	out := e.run(ctx, account)
	if out.aborted {
		return out.result, out.err
	}

	if err := e.saveStates(ctx, account.UserID, []api.LinkedAccount{out.result.Account}); err != nil {
		return out.result, fmt.Errorf("saving sync state: %w", err)
	}
	return out.result, out.err
}

// SyncAllAccounts syncs accounts of a single user concurrently and writes
// their sync states in one consolidated store call. A failing account
// never stops its siblings. The returned error joins every persistence
// failure; the aggregate is always populated.
func (e *Engine) SyncAllAccounts(ctx context.Context, userID string, accounts []api.LinkedAccount) (api.AggregateSyncResult, error) {
	outcomes := make([]outcome, len(accounts))

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, account := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = e.run(ctx, account)
		}()
	}
	wg.Wait()

	agg := api.AggregateSyncResult{
		Accounts: len(accounts),
		Results:  make([]api.SyncResult, 0, len(accounts)),
	}
	var (
		states []api.LinkedAccount
		errs   []error
	)
	for _, out := range outcomes {
		agg.Results = append(agg.Results, out.result)
		agg.TransactionsAdded += out.result.TransactionsAdded

		if out.err != nil || out.result.Account.Status != api.StatusActive {
			agg.Failed++
		} else {
			agg.Succeeded++
		}
		if out.err != nil {
			errs = append(errs, out.err)
		}
		if !out.aborted {
			states = append(states, out.result.Account)
		}
	}

	if len(states) > 0 {
		if err := e.saveStates(ctx, userID, states); err != nil {
			errs = append(errs, fmt.Errorf("saving sync states: %w", err))
		}
	}

	e.logger.Info("synced accounts",
		"user_id", userID,
		"accounts", agg.Accounts,
		"succeeded", agg.Succeeded,
		"failed", agg.Failed,
		"transactions_added", agg.TransactionsAdded,
	)

	return agg, errors.Join(errs...)
}

// saveStates writes sync states detached from ctx cancellation, so accounts
// that finished before a deadline keep their cursor and status.
func (e *Engine) saveStates(ctx context.Context, userID string, states []api.LinkedAccount) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
	defer cancel()
	return e.accounts.SaveSyncStates(ctx, userID, states)
}

// run paginates one account and persists what it fetched. Pagination is
// strictly sequential; the cursor advances after every received page.
func (e *Engine) run(ctx context.Context, account api.LinkedAccount) outcome {
	logger := e.logger.With("user_id", account.UserID, "item_id", account.ItemID)

	cursor := ""
	if account.SyncCursor != nil {
		cursor = *account.SyncCursor
	}

	var (
		pending  = newBatch()
		added    int
		modified int
		removed  int
		pages    int
		fetchErr error
	)

	for {
		page, err := e.aggregator.SyncPage(ctx, account.AccessToken, cursor)
		if err != nil {
			fetchErr = err
			break
		}
		pages++

		for _, raw := range page.Added {
			pending.put(Normalize(account, raw))
		}
		for _, raw := range page.Modified {
			pending.put(Normalize(account, raw))
		}
		added += len(page.Added)
		modified += len(page.Modified)
		removed += len(page.Removed)
		if len(page.Removed) > 0 {
			logger.Info("aggregator reported removed transactions", "count", len(page.Removed), "transaction_ids", page.Removed)
		}

		if page.HasMore && page.NextCursor == cursor {
			fetchErr = fmt.Errorf("aggregator returned more pages without advancing cursor %q: %w", cursor, api.ErrUpstream)
			break
		}
		cursor = page.NextCursor
		if !page.HasMore {
			break
		}
	}

	if ctx.Err() != nil {
		logger.Warn("sync interrupted, keeping stored state", "pages", pages, "error", ctx.Err())
		return outcome{
			result:  api.SyncResult{Account: account},
			err:     fmt.Errorf("syncing %s: %w", account.ItemID, ctx.Err()),
			aborted: true,
		}
	}

	now := e.now().UTC()
	updated := account
	updated.LastSyncedAt = &now
	if pages > 0 {
		next := cursor
		updated.SyncCursor = &next
	}

	var persistErr error
	if txns := pending.list(); len(txns) > 0 {
		if err := e.transactions.UpsertBatch(ctx, txns); err != nil {
			persistErr = fmt.Errorf("persisting transactions for %s: %w", account.ItemID, err)
			added, modified = 0, 0
		}
	}

	switch {
	case persistErr != nil:
		msg := persistErr.Error()
		updated.Status = api.StatusError
		updated.LastSyncError = &msg
		logger.Error("failed to persist synced transactions", "error", persistErr)
	case errors.Is(fetchErr, api.ErrLoginRequired):
		updated.Status = api.StatusLoginRequired
		updated.LastSyncError = nil
		logger.Warn("aggregator requires re-authentication", "pages", pages)
	case fetchErr != nil:
		msg := fetchErr.Error()
		updated.Status = api.StatusError
		updated.LastSyncError = &msg
		logger.Error("sync aborted by aggregator error", "pages", pages, "error", fetchErr)
	default:
		updated.Status = api.StatusActive
		updated.LastSyncError = nil
		logger.Info("sync completed", "pages", pages, "added", added, "modified", modified, "removed", removed)
	}

	return outcome{
		result: api.SyncResult{
			TransactionsAdded:    added,
			TransactionsModified: modified,
			TransactionsRemoved:  removed,
			Account:              updated,
		},
		err: persistErr,
	}
}

// batch collects transactions keyed by id, keeping the latest version and
// the order of first appearance.
type batch struct {
	order []string
	byID  map[string]api.Transaction
}

func newBatch() *batch {
	return &batch{byID: make(map[string]api.Transaction)}
}

func (b *batch) put(t api.Transaction) {
	if _, ok := b.byID[t.TransactionID]; !ok {
		b.order = append(b.order, t.TransactionID)
	}
	b.byID[t.TransactionID] = t
}

func (b *batch) list() []api.Transaction {
	out := make([]api.Transaction, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	return out
}
