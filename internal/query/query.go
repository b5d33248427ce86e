// Package query answers structured spending questions from the stored
// transactions and matched receipts.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/ArionMiles/finsync/pkg/api"
)

// Intent names.
const (
	IntentRecentTransactions = "recent_transactions"
	IntentSpendingSummary    = "spending_summary"
	IntentByCategory         = "by_category"
	IntentByMerchant         = "by_merchant"
	IntentSummaryByCategory  = "summary_by_category"
	IntentSummaryByMerchant  = "summary_by_merchant"
	IntentReceiptDetails     = "receipt_details"
)

// Intents lists every supported intent.
var Intents = []string{
	IntentRecentTransactions,
	IntentSpendingSummary,
	IntentByCategory,
	IntentByMerchant,
	IntentSummaryByCategory,
	IntentSummaryByMerchant,
	IntentReceiptDetails,
}

const (
	defaultRecentLimit  = 5
	defaultSummaryLimit = 5
	maxLimit            = 50
)

// Store is the read side this package needs.
type Store interface {
	ListTransactions(ctx context.Context, userID string, filter api.TransactionFilter) ([]api.Transaction, error)
	ListReceipts(ctx context.Context, userID string, filter api.ReceiptFilter) ([]api.Receipt, error)
}

// Entities are the parameters extracted from a question by the intent
// classifier. Values are usually strings; limits may arrive as numbers.
type Entities map[string]any

// String returns the trimmed string value of key.
func (e Entities) String(key string) string {
	switch v := e[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int returns a positive integer entity or def.
func (e Entities) Int(key string, def int) int {
	var n int
	switch v := e[key].(type) {
	case int:
		n = v
	case float64:
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		n = parsed
	default:
		return def
	}
	if n <= 0 {
		return def
	}
	return min(n, maxLimit)
}

// Resolver renders answers as plain sentences.
type Resolver struct {
	store  Store
	now    func() time.Time
	format formatter
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used to resolve periods.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLanguage sets the language used to format numbers and money.
func WithLanguage(tag language.Tag) Option {
	return func(r *Resolver) { r.format = newFormatter(tag) }
}

// New creates a resolver.
func New(store Store, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:  store,
		now:    time.Now,
		format: newFormatter(language.AmericanEnglish),
		logger: logger.With("component", "query"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve answers one intent. Unknown intents and periods produce a
// fallback sentence; missing required entities return ErrInvalidArgument.
func (r *Resolver) Resolve(ctx context.Context, userID, intent string, entities Entities) (string, error) {
	intent = strings.ToLower(strings.TrimSpace(intent))
	r.logger.Debug("resolving query", "user_id", userID, "intent", intent)

	switch intent {
	case IntentRecentTransactions:
		return r.recent(ctx, userID, entities)
	case IntentReceiptDetails:
		return r.receiptDetails(ctx, userID, entities)
	case IntentSpendingSummary, IntentByCategory, IntentByMerchant, IntentSummaryByCategory, IntentSummaryByMerchant:
	default:
		return fmt.Sprintf("Sorry, I can't answer %q yet. Try asking about: %s.", intent, strings.Join(Intents, ", ")), nil
	}

	period, ok := ResolvePeriod(entities.String("period"), r.now())
	if !ok {
		return fmt.Sprintf("I don't recognise the period %q. Try one of: %s.", entities.String("period"), strings.Join(Periods, ", ")), nil
	}

	switch intent {
	case IntentSpendingSummary:
		return r.spendingSummary(ctx, userID, period)
	case IntentByCategory:
		category := entities.String("category")
		if category == "" {
			return "", fmt.Errorf("%s needs a category: %w", intent, api.ErrInvalidArgument)
		}
		return r.byCategory(ctx, userID, category, period)
	case IntentByMerchant:
		merchant := entities.String("merchant")
		if merchant == "" {
			return "", fmt.Errorf("%s needs a merchant: %w", intent, api.ErrInvalidArgument)
		}
		return r.byMerchant(ctx, userID, merchant, period)
	case IntentSummaryByCategory:
		return r.summaryBy(ctx, userID, period, "category", 0, func(t api.Transaction) string {
			return t.PrimaryCategory()
		})
	default:
		return r.summaryBy(ctx, userID, period, "merchant", entities.Int("limit", defaultSummaryLimit), merchantOf)
	}
}

func (r *Resolver) transactions(ctx context.Context, userID string, period Range, limit int) ([]api.Transaction, error) {
	txns, err := r.store.ListTransactions(ctx, userID, api.TransactionFilter{From: period.From, To: period.To, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return txns, nil
}

func (r *Resolver) recent(ctx context.Context, userID string, entities Entities) (string, error) {
	limit := entities.Int("limit", defaultRecentLimit)
	txns, err := r.transactions(ctx, userID, Range{}, limit)
	if err != nil {
		return "", err
	}
	if len(txns) == 0 {
		return "You have no transactions yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your %s:", r.format.count(len(txns), "most recent transaction", "most recent transactions"))
	for _, t := range txns {
		fmt.Fprintf(&b, "\n- %s %s %s", t.Date.Format("2006-01-02"), merchantOf(t), r.format.amount(t.CurrencyCode, t.Amount))
		if t.Pending {
			b.WriteString(" (pending)")
		}
	}
	return b.String(), nil
}

func (r *Resolver) spendingSummary(ctx context.Context, userID string, period Range) (string, error) {
	txns, err := r.transactions(ctx, userID, period, 0)
	if err != nil {
		return "", err
	}

	spent, received := money{}, money{}
	expenses := 0
	for _, t := range txns {
		switch {
		case t.Amount.IsPositive():
			spent.add(t.CurrencyCode, t.Amount)
			expenses++
		case t.Amount.IsNegative():
			received.add(t.CurrencyCode, t.Amount.Neg())
		}
	}

	if len(txns) == 0 {
		return fmt.Sprintf("You have no transactions for %s.", period.Label), nil
	}
	out := fmt.Sprintf("For %s you spent %s across %s.", period.Label, r.format.money(spent), r.format.count(expenses, "transaction", "transactions"))
	if len(received) > 0 {
		out += fmt.Sprintf(" You received %s.", r.format.money(received))
	}
	return out, nil
}

func (r *Resolver) byCategory(ctx context.Context, userID, category string, period Range) (string, error) {
	if api.IsGranularCategory(category) {
		return r.byLineItemCategory(ctx, userID, category, period)
	}

	txns, err := r.transactions(ctx, userID, period, 0)
	if err != nil {
		return "", err
	}

	spent := money{}
	n := 0
	for _, t := range txns {
		if !t.Amount.IsPositive() || !inCategory(t, category) {
			continue
		}
		spent.add(t.CurrencyCode, t.Amount)
		n++
	}
	if n == 0 {
		return fmt.Sprintf("You have no %s spending for %s.", category, period.Label), nil
	}
	return fmt.Sprintf("You spent %s on %s for %s across %s.", r.format.money(spent), category, period.Label, r.format.count(n, "transaction", "transactions")), nil
}

// byLineItemCategory sums matched receipt line items, the only records
// that carry subcategories.
func (r *Resolver) byLineItemCategory(ctx context.Context, userID, category string, period Range) (string, error) {
	receipts, err := r.store.ListReceipts(ctx, userID, api.ReceiptFilter{Status: api.ReceiptMatched})
	if err != nil {
		return "", fmt.Errorf("listing receipts: %w", err)
	}

	spent := money{}
	items := 0
	for _, rc := range receipts {
		if rc.TransactionDate == nil || !period.Contains(*rc.TransactionDate) {
			continue
		}
		code := "USD"
		if rc.CurrencyCode != nil {
			code = *rc.CurrencyCode
		}
		for _, li := range rc.LineItems {
			if api.CategoryWithin(li.Category, category) {
				spent.add(code, li.Total())
				items++
			}
		}
	}
	if items == 0 {
		return fmt.Sprintf("No matched receipt items in %s for %s.", category, period.Label), nil
	}
	return fmt.Sprintf("You spent %s on %s for %s across %s.", r.format.money(spent), category, period.Label, r.format.count(items, "receipt item", "receipt items")), nil
}

func (r *Resolver) byMerchant(ctx context.Context, userID, merchant string, period Range) (string, error) {
	txns, err := r.transactions(ctx, userID, period, 0)
	if err != nil {
		return "", err
	}

	want := strings.ToLower(merchant)
	spent := money{}
	n := 0
	for _, t := range txns {
		if !t.Amount.IsPositive() {
			continue
		}
		if !strings.Contains(strings.ToLower(t.MerchantName), want) && !strings.Contains(strings.ToLower(t.Name), want) {
			continue
		}
		spent.add(t.CurrencyCode, t.Amount)
		n++
	}
	if n == 0 {
		return fmt.Sprintf("You have no spending at %s for %s.", merchant, period.Label), nil
	}
	return fmt.Sprintf("You spent %s at %s for %s across %s.", r.format.money(spent), merchant, period.Label, r.format.count(n, "transaction", "transactions")), nil
}

type group struct {
	name  string
	spent money
	n     int
}

func (r *Resolver) summaryBy(ctx context.Context, userID string, period Range, noun string, limit int, key func(api.Transaction) string) (string, error) {
	txns, err := r.transactions(ctx, userID, period, 0)
	if err != nil {
		return "", err
	}

	byName := map[string]*group{}
	for _, t := range txns {
		if !t.Amount.IsPositive() {
			continue
		}
		name := key(t)
		g, ok := byName[name]
		if !ok {
			g = &group{name: name, spent: money{}}
			byName[name] = g
		}
		g.spent.add(t.CurrencyCode, t.Amount)
		g.n++
	}
	if len(byName) == 0 {
		return fmt.Sprintf("You have no spending for %s.", period.Label), nil
	}

	groups := make([]*group, 0, len(byName))
	for _, g := range byName {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].spent.total(), groups[j].spent.total()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return groups[i].name < groups[j].name
	})
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Spending by %s for %s:", noun, period.Label)
	for _, g := range groups {
		fmt.Fprintf(&b, "\n- %s: %s (%s)", g.name, r.format.money(g.spent), r.format.count(g.n, "transaction", "transactions"))
	}
	return b.String(), nil
}

func (r *Resolver) receiptDetails(ctx context.Context, userID string, entities Entities) (string, error) {
	vendor := entities.String("vendor")
	receipts, err := r.store.ListReceipts(ctx, userID, api.ReceiptFilter{Vendor: vendor, Limit: 1})
	if err != nil {
		return "", fmt.Errorf("listing receipts: %w", err)
	}
	if len(receipts) == 0 {
		if vendor != "" {
			return fmt.Sprintf("I couldn't find a receipt from %s.", vendor), nil
		}
		return "You haven't submitted any receipts yet.", nil
	}

	rc := receipts[0]
	code := "USD"
	if rc.CurrencyCode != nil {
		code = *rc.CurrencyCode
	}
	name := "an unknown vendor"
	if rc.VendorName != nil {
		name = *rc.VendorName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Receipt from %s", name)
	if rc.TransactionDate != nil {
		fmt.Fprintf(&b, " on %s", rc.TransactionDate.Format("2006-01-02"))
	}
	if rc.TotalAmount != nil {
		fmt.Fprintf(&b, ", total %s", r.format.amount(code, *rc.TotalAmount))
	}
	if rc.Status == api.ReceiptMatched {
		b.WriteString(", matched to a bank transaction")
	}
	b.WriteString(".")
	for _, li := range rc.LineItems {
		fmt.Fprintf(&b, "\n- %s x%d @ %s", li.Description, li.Quantity, r.format.amount(code, li.Price))
		if li.Category != "" {
			fmt.Fprintf(&b, " [%s]", li.Category)
		}
	}
	return b.String(), nil
}

func merchantOf(t api.Transaction) string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}

// inCategory checks the transaction's labels and the top-level parent of
// each, so "Dining" also covers "Dining > Coffee Shops".
func inCategory(t api.Transaction, category string) bool {
	if len(t.Categories) == 0 {
		return strings.EqualFold(t.PrimaryCategory(), category)
	}
	for _, c := range t.Categories {
		if api.CategoryWithin(c, category) {
			return true
		}
	}
	return false
}
