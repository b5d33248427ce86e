// Package matcher reconciles extracted receipts with synced bank transactions.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/ArionMiles/finsync/pkg/api"
)

const (
	// DateToleranceDays is how many calendar days either side of the
	// receipt date a transaction may post.
	DateToleranceDays = 2
)

// AmountTolerance is the relative difference allowed between the receipt
// total and the transaction amount, inclusive.
var AmountTolerance = decimal.RequireFromString("0.05")

// Store is the subset of the repository the matcher reads and writes.
type Store interface {
	GetReceipt(ctx context.Context, userID, receiptID string) (*api.Receipt, error)
	ListTransactions(ctx context.Context, userID string, filter api.TransactionFilter) ([]api.Transaction, error)
	LinkReceipt(ctx context.Context, userID, receiptID, transactionID string) error
}

// Engine finds the unmatched transaction a receipt belongs to.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// New creates a matching engine.
func New(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger.With("component", "matcher")}
}

// MatchByID loads a receipt and matches it.
func (e *Engine) MatchByID(ctx context.Context, userID, receiptID string) (api.MatchOutcome, error) {
	receipt, err := e.store.GetReceipt(ctx, userID, receiptID)
	if err != nil {
		return api.MatchOutcome{}, fmt.Errorf("loading receipt: %w", err)
	}
	return e.Match(ctx, *receipt)
}

// Match looks for exactly one unmatched transaction inside the receipt's
// date and amount window and links the pair. Several qualifying
// transactions are reported as ambiguous and nothing is linked.
func (e *Engine) Match(ctx context.Context, receipt api.Receipt) (api.MatchOutcome, error) {
	logger := e.logger.With("user_id", receipt.UserID, "receipt_id", receipt.ReceiptID)

	if receipt.MatchedTransactionID != nil {
		return api.AlreadyMatched(*receipt.MatchedTransactionID), nil
	}
	if receipt.TransactionDate == nil || receipt.TotalAmount == nil {
		return api.MatchOutcome{}, fmt.Errorf("receipt %s needs a date and a total to match: %w", receipt.ReceiptID, api.ErrInvalidArgument)
	}

	from, to := DateWindow(*receipt.TransactionDate)
	transactions, err := e.store.ListTransactions(ctx, receipt.UserID, api.TransactionFilter{
		From:         from,
		To:           to,
		UnlinkedOnly: true,
	})
	if err != nil {
		return api.MatchOutcome{}, fmt.Errorf("listing candidate transactions: %w", err)
	}

	var candidates []api.Transaction
	for _, txn := range transactions {
		if txn.LinkedReceiptID == nil && WithinAmount(*receipt.TotalAmount, txn.Amount) {
			candidates = append(candidates, txn)
		}
	}

	if len(candidates) == 0 {
		logger.Info("no transaction matches receipt", "window_from", from, "window_to", to, "scanned", len(transactions))
		return api.NoMatch(), nil
	}
	if len(candidates) > 1 {
		ids := rankCandidates(receipt, candidates)
		logger.Warn("receipt matches several transactions, leaving unlinked", "candidates", ids)
		return api.Ambiguous(ids), nil
	}

	txnID := candidates[0].TransactionID
	if err := e.store.LinkReceipt(ctx, receipt.UserID, receipt.ReceiptID, txnID); err != nil {
		if errors.Is(err, api.ErrConflict) {
			logger.Warn("lost link race", "transaction_id", txnID)
		}
		return api.MatchOutcome{}, fmt.Errorf("linking receipt %s to %s: %w", receipt.ReceiptID, txnID, err)
	}

	logger.Info("receipt matched", "transaction_id", txnID)
	return api.Matched(txnID), nil
}

// DateWindow returns the half-open range [date-2d, date+3d) of calendar
// days, which covers date ± DateToleranceDays inclusive.
func DateWindow(date time.Time) (from, to time.Time) {
	day := calendarDay(date)
	return day.AddDate(0, 0, -DateToleranceDays), day.AddDate(0, 0, DateToleranceDays+1)
}

// WithinAmount reports whether |amount| lies within AmountTolerance of |total|.
func WithinAmount(total, amount decimal.Decimal) bool {
	want := total.Abs()
	got := amount.Abs()
	lo := want.Mul(decimal.NewFromInt(1).Sub(AmountTolerance))
	hi := want.Mul(decimal.NewFromInt(1).Add(AmountTolerance))
	return got.GreaterThanOrEqual(lo) && got.LessThanOrEqual(hi)
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type ranked struct {
	id       string
	distance float64
	days     int
}

// rankCandidates orders ambiguous candidates for a reviewer: closest
// merchant name to the receipt vendor first, then nearest date, then id.
func rankCandidates(receipt api.Receipt, candidates []api.Transaction) []string {
	vendor := ""
	if receipt.VendorName != nil {
		vendor = strings.ToLower(strings.TrimSpace(*receipt.VendorName))
	}
	day := calendarDay(*receipt.TransactionDate)

	out := make([]ranked, 0, len(candidates))
	for _, txn := range candidates {
		name := txn.MerchantName
		if name == "" {
			name = txn.Name
		}
		days := int(calendarDay(txn.Date).Sub(day).Hours() / 24)
		if days < 0 {
			days = -days
		}
		out = append(out, ranked{id: txn.TransactionID, distance: nameDistance(vendor, strings.ToLower(name)), days: days})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].distance != out[j].distance {
			return out[i].distance < out[j].distance
		}
		if out[i].days != out[j].days {
			return out[i].days < out[j].days
		}
		return out[i].id < out[j].id
	})

	ids := make([]string, len(out))
	for i, r := range out {
		ids[i] = r.id
	}
	return ids
}

// nameDistance is the Levenshtein distance scaled by the longer name, in [0, 1].
func nameDistance(a, b string) float64 {
	if a == "" || b == "" {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	d := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	return float64(d) / float64(longest)
}
