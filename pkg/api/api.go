// Package api defines the core interfaces and data structures for finsync.
package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the sync health of a linked account.
type AccountStatus string

const (
	StatusActive        AccountStatus = "active"
	StatusError         AccountStatus = "error"
	StatusLoginRequired AccountStatus = "login_required"
)

// LinkedAccount is one aggregator item (bank connection) owned by a user,
// together with its resumable sync state.
type LinkedAccount struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
	// AccessToken is the aggregator credential. It never leaves the sync path.
	AccessToken string `json:"-"`

	InstitutionID   *string `json:"institution_id,omitempty"`
	InstitutionName *string `json:"institution_name,omitempty"`
	InstitutionLogo *string `json:"institution_logo,omitempty"`

	// SyncCursor is nil until the first successful page; nil means full initial sync.
	SyncCursor    *string       `json:"-"`
	LastSyncedAt  *time.Time    `json:"last_synced_at,omitempty"`
	Status        AccountStatus `json:"status"`
	LastSyncError *string       `json:"last_sync_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Transaction is a normalized bank transaction. Amount is positive for
// expenses and negative for income.
type Transaction struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	ItemID        string `json:"item_id"`
	AccountID     string `json:"account_id"`

	Name         string `json:"name"`
	MerchantName string `json:"merchant_name"`

	Amount         decimal.Decimal `json:"amount"`
	CurrencyCode   string          `json:"currency_code"`
	Date           time.Time       `json:"date"`
	AuthorizedDate *time.Time      `json:"authorized_date,omitempty"`
	Pending        bool            `json:"pending"`

	// Categories is ordered; the first entry is the primary category.
	Categories      []string `json:"categories"`
	PaymentChannel  string   `json:"payment_channel,omitempty"`
	TransactionType string   `json:"transaction_type,omitempty"`

	LinkedReceiptID *string `json:"linked_receipt_id,omitempty"`
}

// PrimaryCategory returns the first category or "Uncategorized".
func (t Transaction) PrimaryCategory() string {
	if len(t.Categories) == 0 || t.Categories[0] == "" {
		return "Uncategorized"
	}
	return t.Categories[0]
}

// ReceiptStatus tracks whether a receipt has been reconciled.
type ReceiptStatus string

const (
	ReceiptProcessed ReceiptStatus = "processed"
	ReceiptMatched   ReceiptStatus = "matched"
)

// LineItem is one purchased item on a receipt.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
}

// Total returns price multiplied by quantity.
func (l LineItem) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Receipt is a structured record extracted from a receipt image.
// Status is ReceiptMatched exactly when MatchedTransactionID is set.
type Receipt struct {
	ReceiptID       string           `json:"receipt_id"`
	UserID          string           `json:"user_id"`
	VendorName      *string          `json:"vendor_name,omitempty"`
	TransactionDate *time.Time       `json:"transaction_date,omitempty"`
	TotalAmount     *decimal.Decimal `json:"total_amount,omitempty"`
	CurrencyCode    *string          `json:"currency_code,omitempty"`
	LineItems       []LineItem       `json:"line_items"`

	Status               ReceiptStatus `json:"status"`
	MatchedTransactionID *string       `json:"matched_transaction_id,omitempty"`

	ImageURI  string    `json:"image_uri,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchKind enumerates the possible results of matching a receipt.
type MatchKind string

const (
	MatchAlreadyMatched MatchKind = "already_matched"
	MatchNone           MatchKind = "no_match"
	MatchLinked         MatchKind = "matched"
	MatchAmbiguous      MatchKind = "ambiguous"
)

// MatchOutcome is the result of matching one receipt. TransactionID is set
// for MatchAlreadyMatched and MatchLinked; CandidateIDs only for MatchAmbiguous.
type MatchOutcome struct {
	Kind          MatchKind `json:"kind"`
	TransactionID string    `json:"transaction_id,omitempty"`
	CandidateIDs  []string  `json:"candidate_ids,omitempty"`
}

// AlreadyMatched reports a receipt that was linked before this call.
func AlreadyMatched(transactionID string) MatchOutcome {
	return MatchOutcome{Kind: MatchAlreadyMatched, TransactionID: transactionID}
}

// NoMatch reports that no unmatched transaction fell inside the window.
func NoMatch() MatchOutcome {
	return MatchOutcome{Kind: MatchNone}
}

// Matched reports a newly established link.
func Matched(transactionID string) MatchOutcome {
	return MatchOutcome{Kind: MatchLinked, TransactionID: transactionID}
}

// Ambiguous reports several qualifying candidates; nothing was linked.
func Ambiguous(candidateIDs []string) MatchOutcome {
	return MatchOutcome{Kind: MatchAmbiguous, CandidateIDs: candidateIDs}
}

// SyncResult describes the outcome of one account's sync attempt.
type SyncResult struct {
	TransactionsAdded    int           `json:"transactions_added"`
	TransactionsModified int           `json:"transactions_modified"`
	TransactionsRemoved  int           `json:"transactions_removed"`
	Account              LinkedAccount `json:"account"`
}

// AggregateSyncResult sums the outcome of syncing several accounts.
type AggregateSyncResult struct {
	TransactionsAdded int          `json:"transactions_added"`
	Accounts          int          `json:"accounts"`
	Succeeded         int          `json:"succeeded"`
	Failed            int          `json:"failed"`
	Results           []SyncResult `json:"results"`
}

// TransactionFilter narrows a transaction listing. From is inclusive and To
// is exclusive; zero values leave that side unbounded.
type TransactionFilter struct {
	From         time.Time
	To           time.Time
	Limit        int
	UnlinkedOnly bool
}

// Contains reports whether t falls inside the filter's date range.
func (f TransactionFilter) Contains(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.Before(f.To) {
		return false
	}
	return true
}

// ReceiptFilter narrows a receipt listing.
type ReceiptFilter struct {
	Status ReceiptStatus
	Vendor string
	Limit  int
}

// AccountStore persists linked accounts and their sync cursors.
type AccountStore interface {
	// CreateAccount inserts a linked account or replaces the credential of an existing one.
	CreateAccount(ctx context.Context, account LinkedAccount) error
	GetAccount(ctx context.Context, userID, itemID string) (*LinkedAccount, error)
	ListAccounts(ctx context.Context, userID string) ([]LinkedAccount, error)
	ListUsers(ctx context.Context) ([]string, error)
	// SaveSyncStates writes cursor, status, last sync time and error for the
	// given accounts of one user in a single write. Other fields are untouched.
	SaveSyncStates(ctx context.Context, userID string, accounts []LinkedAccount) error
	DeleteAccount(ctx context.Context, userID, itemID string) error
}

// TransactionStore persists normalized transactions.
type TransactionStore interface {
	// UpsertBatch writes all transactions or none. Re-applying a transaction
	// never clears its LinkedReceiptID.
	UpsertBatch(ctx context.Context, transactions []Transaction) error
	GetTransaction(ctx context.Context, userID, transactionID string) (*Transaction, error)
	// ListTransactions returns matching transactions newest first.
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error)
}

// ReceiptStore persists receipts and their link to a transaction.
type ReceiptStore interface {
	CreateReceipt(ctx context.Context, receipt Receipt) error
	GetReceipt(ctx context.Context, userID, receiptID string) (*Receipt, error)
	// ListReceipts returns matching receipts newest first.
	ListReceipts(ctx context.Context, userID string, filter ReceiptFilter) ([]Receipt, error)
	// LinkReceipt marks the receipt matched and sets the transaction's
	// LinkedReceiptID in one atomic write. It returns ErrConflict, writing
	// nothing, if either side is already linked.
	LinkReceipt(ctx context.Context, userID, receiptID, transactionID string) error
}

// Store is the full persistence boundary.
type Store interface {
	AccountStore
	TransactionStore
	ReceiptStore
	Ping(ctx context.Context) error
	Close()
}
