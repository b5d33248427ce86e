// Package daemon runs the scheduled re-sync of every user's linked accounts.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/ArionMiles/finsync/internal/service"
)

// UserLister lists every user with a linked account.
type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// Syncer syncs all accounts of one user.
type Syncer interface {
	SyncAllAccounts(ctx context.Context, userID string) service.Result
}

// Runner triggers a sync sweep on a fixed interval.
type Runner struct {
	users    UserLister
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger
}

// New creates a new daemon runner. A non-positive interval disables it.
func New(users UserLister, syncer Syncer, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		users:    users,
		syncer:   syncer,
		interval: interval,
		logger:   logger.With("component", "daemon"),
	}
}

// Run sweeps once immediately and then on every tick. It blocks until the
// context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.Info("scheduled sync disabled")
		return nil
	}

	r.logger.Info("scheduled sync started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduled sync stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep syncs every user once. A failing user does not stop the sweep.
func (r *Runner) Sweep(ctx context.Context) {
	start := time.Now()

	users, err := r.users.ListUsers(ctx)
	if err != nil {
		r.logger.Error("listing users for sync", "error", err)
		return
	}

	failed := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		res := r.syncer.SyncAllAccounts(ctx, userID)
		if !res.Success {
			failed++
			code := ""
			if res.Error != nil {
				code = res.Error.Code
			}
			r.logger.Warn("scheduled sync failed", "user_id", userID, "code", code)
		}
	}

	r.logger.Info("sync sweep finished", "users", len(users), "failed", failed, "duration", time.Since(start))
}
