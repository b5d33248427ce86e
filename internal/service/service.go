// Package service exposes the caller-facing finsync operations. Every
// operation returns a Result carrying either a payload or an error code.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ArionMiles/finsync/internal/matcher"
	"github.com/ArionMiles/finsync/internal/query"
	"github.com/ArionMiles/finsync/internal/syncer"
	"github.com/ArionMiles/finsync/pkg/aggregator"
	"github.com/ArionMiles/finsync/pkg/api"
	"github.com/ArionMiles/finsync/pkg/extractor"
	"github.com/ArionMiles/finsync/pkg/imagestore"
)

// ErrorBody describes a failed operation.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of one operation. Data may be set on failure when
// a partial payload is still meaningful, for example a sync whose state
// could not be saved.
type Result struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

func ok(data any) Result {
	return Result{Success: true, Data: data}
}

func fail(err error, data any) Result {
	return Result{Data: data, Error: &ErrorBody{Code: api.Code(err), Message: err.Error()}}
}

// Config tunes the service.
type Config struct {
	SyncConcurrency int
	// SyncTimeout bounds one sync operation. Zero means no limit.
	SyncTimeout time.Duration
	// MatchTimeout bounds one match operation. Zero means no limit.
	MatchTimeout time.Duration
	Now          func() time.Time
	NewID        func() string
}

// Deps are the collaborators the service drives. Extractor and Images are
// optional: without an extractor receipts are rejected, without an image
// store receipt images are not archived.
type Deps struct {
	Store      api.Store
	Aggregator aggregator.Client
	Extractor  extractor.Extractor
	Images     imagestore.Store
}

// Service implements linkAccount, syncAllAccounts, syncAccount,
// unlinkAccount, submitReceipt, matchReceipt and query.
type Service struct {
	store      api.Store
	aggregator aggregator.Client
	extractor  extractor.Extractor
	images     imagestore.Store

	syncer  *syncer.Engine
	matcher *matcher.Engine
	query   *query.Resolver

	cfg    Config
	logger *slog.Logger
}

// New wires the engines around deps.
func New(cfg Config, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}

	return &Service{
		store:      deps.Store,
		aggregator: deps.Aggregator,
		extractor:  deps.Extractor,
		images:     deps.Images,
		syncer: syncer.New(deps.Aggregator, deps.Store, deps.Store, syncer.Config{
			Concurrency: cfg.SyncConcurrency,
			Now:         cfg.Now,
		}, logger),
		matcher: matcher.New(deps.Store, logger),
		query:   query.New(deps.Store, logger, query.WithClock(cfg.Now)),
		cfg:     cfg,
		logger:  logger.With("component", "service"),
	}
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("missing user id: %w", api.ErrUnauthenticated)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// LinkAccount exchanges a public link token and stores the new account.
// Institution metadata is best effort.
func (s *Service) LinkAccount(ctx context.Context, userID, publicToken string) Result {
	if err := requireUser(userID); err != nil {
		return fail(err, nil)
	}
	if strings.TrimSpace(publicToken) == "" {
		return fail(fmt.Errorf("public token is required: %w", api.ErrInvalidArgument), nil)
	}

	exchange, err := s.aggregator.ExchangeToken(ctx, publicToken)
	if err != nil {
		s.logger.Error("token exchange failed", "user_id", userID, "error", err)
		return fail(fmt.Errorf("exchanging public token: %w", err), nil)
	}

	account := api.LinkedAccount{
		UserID:      userID,
		ItemID:      exchange.ItemID,
		AccessToken: exchange.AccessToken,
		Status:      api.StatusActive,
		CreatedAt:   s.cfg.Now().UTC(),
	}
	s.enrich(ctx, &account)

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return fail(fmt.Errorf("saving linked account: %w", err), nil)
	}

	s.logger.Info("account linked", "user_id", userID, "item_id", account.ItemID)
	return ok(account)
}

// enrich fills institution metadata, logging and skipping any failure.
func (s *Service) enrich(ctx context.Context, account *api.LinkedAccount) {
	logger := s.logger.With("user_id", account.UserID, "item_id", account.ItemID)

	item, err := s.aggregator.GetItem(ctx, account.AccessToken)
	if err != nil {
		logger.Warn("could not load item metadata", "error", err)
		return
	}
	if item.InstitutionID == "" {
		return
	}
	id := item.InstitutionID
	account.InstitutionID = &id

	inst, err := s.aggregator.GetInstitution(ctx, id)
	if err != nil {
		logger.Warn("could not load institution metadata", "institution_id", id, "error", err)
		return
	}
	if inst.Name != "" {
		name := inst.Name
		account.InstitutionName = &name
	}
	account.InstitutionLogo = inst.Logo
}

// Accounts lists the user's linked accounts.
func (s *Service) Accounts(ctx context.Context, userID string) Result {
	if err := requireUser(userID); err != nil {
		return fail(err, nil)
	}
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return fail(fmt.Errorf("listing accounts: %w", err), nil)
	}
	if accounts == nil {
		accounts = []api.LinkedAccount{}
	}
	return ok(accounts)
}

// SyncAllAccounts syncs every account of the user. Per-account failures
// are reported in the aggregate and in each account's status.
func (s *Service) SyncAllAccounts(ctx context.Context, userID string) Result {
	if err := requireUser(userID); err != nil {
		return fail(err, nil)
	}

	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return fail(fmt.Errorf("listing accounts: %w", err), nil)
	}

	ctx, cancel := withTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	agg, err := s.syncer.SyncAllAccounts(ctx, userID, accounts)
	if err != nil {
		return fail(err, agg)
	}
	return ok(agg)
}

// SyncAccount syncs one account. The call succeeds only when the account
// ends active; otherwise the error carries the account's failure.
func (s *Service) SyncAccount(ctx context.Context, userID, itemID string) Result {
	if err := requireUser(userID); err != nil {
		return fail(err, nil)
	}

	account, err := s.store.GetAccount(ctx, userID, itemID)
	if err != nil {
		return fail(fmt.Errorf("loading account: %w", err), nil)
	}

	ctx, cancel := withTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	result, err := s.syncer.SyncAccount(ctx, *account)
	if err != nil {
		return fail(err, result)
	}

	switch result.Account.Status {
	case api.StatusLoginRequired:
		return fail(fmt.Errorf("item %s: %w", itemID, api.ErrLoginRequired), result)
	case api.StatusError:
		msg := "sync failed"
		if result.Account.LastSyncError != nil {
			msg = *result.Account.LastSyncError
		}
		return fail(fmt.Errorf("%w: %s", api.ErrUpstream, msg), result)
	}
	return ok(result)
}

// UnlinkAccount revokes the item upstream and deletes the account. An item
// the aggregator no longer knows counts as already revoked. Synced
// transactions are kept.
func (s *Service) UnlinkAccount(ctx context.Context, userID, itemID string) Result {
	if err := requireUser(userID); err != nil {
		return fail(err, nil)
	}

	account, err := s.store.GetAccount(ctx, userID, itemID)
	if err != nil {
		return fail(fmt.Errorf("loading account: %w", err), nil)
	}

	if err := s.aggregator.RemoveItem(ctx, account.AccessToken); err != nil {
		if !errors.Is(err, aggregator.ErrItemGone) {
			return fail(fmt.Errorf("removing item upstream: %w", err), nil)
		}
		s.logger.Info("item already gone upstream", "user_id", userID, "item_id", itemID)
	}

	if err := s.store.DeleteAccount(ctx, userID, itemID); err != nil {
		return fail(fmt.Errorf("deleting account: %w", err), nil)
	}

	s.logger.Info("account unlinked", "user_id", userID, "item_id", itemID)
	return ok(map[string]string{"item_id": itemID})
}

// MatchReceipt reconciles one stored receipt.
func (s *Service) MatchReceipt(ctx context.Context, userID, receiptID string) Result {
	if err := requireUser(userID); err != nil {
		return fail(err, nil)
	}

	ctx, cancel := withTimeout(ctx, s.cfg.MatchTimeout)
	defer cancel()

	outcome, err := s.matcher.MatchByID(ctx, userID, receiptID)
	if err != nil {
		return fail(err, nil)
	}
	return ok(outcome)
}

// Answer is the payload of a query.
type Answer struct {
	Intent string `json:"intent"`
	Text   string `json:"text"`
}

// Query answers a classified question.
func (s *Service) Query(ctx context.Context, userID, intent string, entities map[string]any) Result {
	if err := requireUser(userID); err != nil {
		return fail(err, nil)
	}

	text, err := s.query.Resolve(ctx, userID, intent, query.Entities(entities))
	if err != nil {
		return fail(err, nil)
	}
	return ok(Answer{Intent: intent, Text: text})
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
