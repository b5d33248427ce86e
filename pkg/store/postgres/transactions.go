package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/finsync/pkg/api"
)

const transactionColumns = `
	transaction_id, user_id, item_id, account_id, name, merchant_name, amount::text,
	currency_code, date, authorized_date, pending, categories, payment_channel,
	transaction_type, linked_receipt_id`

// UpsertBatch writes every transaction in one database transaction.
// linked_receipt_id is never part of the update, so re-applying a synced
// transaction keeps its receipt link.
func (s *Store) UpsertBatch(ctx context.Context, transactions []api.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}
	for _, txn := range transactions {
		if txn.TransactionID == "" {
			return fmt.Errorf("upserting transaction without id: %w", api.ErrInvalidArgument)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistErr("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, txn := range transactions {
		categories := txn.Categories
		if categories == nil {
			categories = []string{}
		}

		batch.Queue(`
			INSERT INTO transactions (
				transaction_id, user_id, item_id, account_id, name, merchant_name,
				amount, currency_code, date, authorized_date, pending, categories,
				payment_channel, transaction_type
			) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (transaction_id) DO UPDATE SET
				item_id = EXCLUDED.item_id,
				account_id = EXCLUDED.account_id,
				name = EXCLUDED.name,
				merchant_name = EXCLUDED.merchant_name,
				amount = EXCLUDED.amount,
				currency_code = EXCLUDED.currency_code,
				date = EXCLUDED.date,
				authorized_date = EXCLUDED.authorized_date,
				pending = EXCLUDED.pending,
				categories = EXCLUDED.categories,
				payment_channel = EXCLUDED.payment_channel,
				transaction_type = EXCLUDED.transaction_type,
				updated_at = NOW()
			WHERE transactions.user_id = EXCLUDED.user_id
		`,
			txn.TransactionID,
			txn.UserID,
			txn.ItemID,
			txn.AccountID,
			txn.Name,
			txn.MerchantName,
			txn.Amount.String(),
			txn.CurrencyCode,
			txn.Date,
			txn.AuthorizedDate,
			txn.Pending,
			categories,
			txn.PaymentChannel,
			txn.TransactionType,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range transactions {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return persistErr(fmt.Sprintf("upserting transaction %d", i), err)
		}
	}
	if err := results.Close(); err != nil {
		return persistErr("closing batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("committing transaction", err)
	}

	s.logger.Debug("upserted transactions", "count", len(transactions))
	return nil
}

// GetTransaction returns one transaction owned by userID.
func (s *Store) GetTransaction(ctx context.Context, userID, transactionID string) (*api.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 AND transaction_id = $2`,
		userID, transactionID,
	)

	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, api.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("reading transaction", err)
	}
	return &txn, nil
}

// ListTransactions returns the user's transactions newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, filter api.TransactionFilter) ([]api.Transaction, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}

	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("date < $%d", len(args)))
	}
	if filter.UnlinkedOnly {
		conds = append(conds, "linked_receipt_id IS NULL")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY date DESC, transaction_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistErr("listing transactions", err)
	}
	defer rows.Close()

	var out []api.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, persistErr("scanning transaction", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterating transactions", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (api.Transaction, error) {
	var (
		t      api.Transaction
		amount string
	)
	err := row.Scan(
		&t.TransactionID,
		&t.UserID,
		&t.ItemID,
		&t.AccountID,
		&t.Name,
		&t.MerchantName,
		&amount,
		&t.CurrencyCode,
		&t.Date,
		&t.AuthorizedDate,
		&t.Pending,
		&t.Categories,
		&t.PaymentChannel,
		&t.TransactionType,
		&t.LinkedReceiptID,
	)
	if err != nil {
		return t, err
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return t, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	if t.Categories == nil {
		t.Categories = []string{}
	}
	return t, nil
}
