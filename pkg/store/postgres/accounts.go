package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ArionMiles/finsync/pkg/api"
)

const accountColumns = `
	user_id, item_id, access_token, institution_id, institution_name, institution_logo,
	sync_cursor, last_synced_at, status, last_sync_error, created_at`

// CreateAccount inserts a linked account. Relinking an existing item
// replaces its credential and metadata but keeps the sync cursor.
func (s *Store) CreateAccount(ctx context.Context, account api.LinkedAccount) error {
	status := account.Status
	if status == "" {
		status = api.StatusActive
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO linked_accounts (
			user_id, item_id, access_token, institution_id, institution_name,
			institution_logo, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			institution_id = EXCLUDED.institution_id,
			institution_name = EXCLUDED.institution_name,
			institution_logo = EXCLUDED.institution_logo,
			status = EXCLUDED.status,
			last_sync_error = NULL,
			updated_at = NOW()
	`,
		account.UserID,
		account.ItemID,
		account.AccessToken,
		account.InstitutionID,
		account.InstitutionName,
		account.InstitutionLogo,
		string(status),
		account.CreatedAt,
	)
	if err != nil {
		return persistErr("inserting linked account", err)
	}
	return nil
}

// GetAccount returns one linked account.
func (s *Store) GetAccount(ctx context.Context, userID, itemID string) (*api.LinkedAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE user_id = $1 AND item_id = $2`,
		userID, itemID,
	)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", itemID, api.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("reading linked account", err)
	}
	return &account, nil
}

// ListAccounts returns a user's accounts ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]api.LinkedAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE user_id = $1 ORDER BY created_at, item_id`,
		userID,
	)
	if err != nil {
		return nil, persistErr("listing linked accounts", err)
	}
	defer rows.Close()

	var out []api.LinkedAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, persistErr("scanning linked account", err)
		}
		out = append(out, account)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterating linked accounts", err)
	}
	return out, nil
}

// ListUsers returns every user with at least one linked account.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM linked_accounts ORDER BY user_id`)
	if err != nil {
		return nil, persistErr("listing users", err)
	}

	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistErr("scanning users", err)
	}
	return users, nil
}

// SaveSyncStates writes the sync fields of several accounts in one
// transaction. Only the columns owned by the sync engine are touched, so
// concurrent writers of different items merge.
func (s *Store) SaveSyncStates(ctx context.Context, userID string, accounts []api.LinkedAccount) error {
	if len(accounts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistErr("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, account := range accounts {
		batch.Queue(`
			UPDATE linked_accounts SET
				sync_cursor = $3,
				last_synced_at = $4,
				status = $5,
				last_sync_error = $6,
				updated_at = NOW()
			WHERE user_id = $1 AND item_id = $2
		`,
			userID,
			account.ItemID,
			account.SyncCursor,
			account.LastSyncedAt,
			string(account.Status),
			account.LastSyncError,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, account := range accounts {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return persistErr("saving sync state of "+account.ItemID, err)
		}
		if tag.RowsAffected() == 0 {
			s.logger.Warn("sync state for unlinked account dropped", "user_id", userID, "item_id", account.ItemID)
		}
	}
	if err := results.Close(); err != nil {
		return persistErr("closing batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("committing transaction", err)
	}
	return nil
}

// DeleteAccount removes a linked account. Its transactions are kept.
func (s *Store) DeleteAccount(ctx context.Context, userID, itemID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM linked_accounts WHERE user_id = $1 AND item_id = $2`,
		userID, itemID,
	)
	if err != nil {
		return persistErr("deleting linked account", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", itemID, api.ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (api.LinkedAccount, error) {
	var (
		a      api.LinkedAccount
		status string
	)
	err := row.Scan(
		&a.UserID,
		&a.ItemID,
		&a.AccessToken,
		&a.InstitutionID,
		&a.InstitutionName,
		&a.InstitutionLogo,
		&a.SyncCursor,
		&a.LastSyncedAt,
		&status,
		&a.LastSyncError,
		&a.CreatedAt,
	)
	a.Status = api.AccountStatus(status)
	return a, err
}
