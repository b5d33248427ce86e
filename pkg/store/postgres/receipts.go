package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/finsync/pkg/api"
)

const receiptColumns = `
	receipt_id, user_id, vendor_name, transaction_date, total_amount::text,
	currency_code, line_items, status, matched_transaction_id, image_uri, created_at`

// CreateReceipt inserts a new receipt.
func (s *Store) CreateReceipt(ctx context.Context, receipt api.Receipt) error {
	items := receipt.LineItems
	if items == nil {
		items = []api.LineItem{}
	}
	lineItems, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding line items: %w", err)
	}

	var total *string
	if receipt.TotalAmount != nil {
		v := receipt.TotalAmount.String()
		total = &v
	}

	status := receipt.Status
	if status == "" {
		status = api.ReceiptProcessed
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO receipts (
			receipt_id, user_id, vendor_name, transaction_date, total_amount,
			currency_code, line_items, status, matched_transaction_id, image_uri, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)
	`,
		receipt.ReceiptID,
		receipt.UserID,
		receipt.VendorName,
		receipt.TransactionDate,
		total,
		receipt.CurrencyCode,
		lineItems,
		string(status),
		receipt.MatchedTransactionID,
		receipt.ImageURI,
		receipt.CreatedAt,
	)
	if err != nil {
		return persistErr("inserting receipt", err)
	}
	return nil
}

// GetReceipt returns one receipt owned by userID.
func (s *Store) GetReceipt(ctx context.Context, userID, receiptID string) (*api.Receipt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE user_id = $1 AND receipt_id = $2`,
		userID, receiptID,
	)

	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", receiptID, api.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("reading receipt", err)
	}
	return &receipt, nil
}

// ListReceipts returns the user's receipts newest first.
func (s *Store) ListReceipts(ctx context.Context, userID string, filter api.ReceiptFilter) ([]api.Receipt, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Vendor != "" {
		args = append(args, "%"+filter.Vendor+"%")
		conds = append(conds, fmt.Sprintf("vendor_name ILIKE $%d", len(args)))
	}

	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at DESC, receipt_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistErr("listing receipts", err)
	}
	defer rows.Close()

	var out []api.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, persistErr("scanning receipt", err)
		}
		out = append(out, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterating receipts", err)
	}
	return out, nil
}

// LinkReceipt sets both sides of the receipt to transaction link in one
// database transaction. Each update only applies to an unlinked row, so a
// concurrent link of either side makes this call fail with ErrConflict.
func (s *Store) LinkReceipt(ctx context.Context, userID, receiptID, transactionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistErr("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE receipts SET status = 'matched', matched_transaction_id = $3
		WHERE user_id = $1 AND receipt_id = $2 AND matched_transaction_id IS NULL
	`, userID, receiptID, transactionID)
	if err != nil {
		return persistErr("linking receipt", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissing(ctx, tx, "receipts", "receipt_id", userID, receiptID)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE transactions SET linked_receipt_id = $3, updated_at = NOW()
		WHERE user_id = $1 AND transaction_id = $2 AND linked_receipt_id IS NULL
	`, userID, transactionID, receiptID)
	if err != nil {
		return persistErr("linking transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissing(ctx, tx, "transactions", "transaction_id", userID, transactionID)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("committing link", err)
	}

	s.logger.Info("linked receipt to transaction",
		"receipt_id", receiptID,
		"transaction_id", transactionID,
	)
	return nil
}

// classifyMissing reports whether an update touched no row because the
// record does not exist or because it is already linked.
func (s *Store) classifyMissing(ctx context.Context, tx pgx.Tx, table, idColumn, userID, id string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = $1 AND %s = $2)`, table, idColumn)
	if err := tx.QueryRow(ctx, query, userID, id).Scan(&exists); err != nil {
		return persistErr("checking "+table, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, api.ErrNotFound)
	}
	return fmt.Errorf("%s %s already linked: %w", strings.TrimSuffix(table, "s"), id, api.ErrConflict)
}

func scanReceipt(row pgx.Row) (api.Receipt, error) {
	var (
		r         api.Receipt
		total     *string
		lineItems []byte
		status    string
	)
	err := row.Scan(
		&r.ReceiptID,
		&r.UserID,
		&r.VendorName,
		&r.TransactionDate,
		&total,
		&r.CurrencyCode,
		&lineItems,
		&status,
		&r.MatchedTransactionID,
		&r.ImageURI,
		&r.CreatedAt,
	)
	if err != nil {
		return r, err
	}

	r.Status = api.ReceiptStatus(status)
	if total != nil {
		amount, err := decimal.NewFromString(*total)
		if err != nil {
			return r, fmt.Errorf("parsing total %q: %w", *total, err)
		}
		r.TotalAmount = &amount
	}
	if err := json.Unmarshal(lineItems, &r.LineItems); err != nil {
		return r, fmt.Errorf("decoding line items: %w", err)
	}
	return r, nil
}
