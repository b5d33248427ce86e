// Package aggregator defines the boundary to the bank-data aggregator.
package aggregator

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrItemGone is returned when the aggregator no longer knows an item or
// its credential, so there is nothing left to revoke upstream.
var ErrItemGone = errors.New("item no longer exists upstream")

// Exchange is the result of trading a public link token for a credential.
type Exchange struct {
	AccessToken string
	ItemID      string
}

// RawTransaction is a transaction as reported upstream. Amount uses the
// boundary sign convention: positive is money in, negative is money out.
// Adapters whose provider reports the opposite sign flip it while decoding.
type RawTransaction struct {
	TransactionID          string
	AccountID              string
	Name                   string
	MerchantName           *string
	Amount                 decimal.Decimal
	ISOCurrencyCode        *string
	UnofficialCurrencyCode *string
	Date                   time.Time
	AuthorizedDate         *time.Time
	Pending                bool
	Categories             []string
	PaymentChannel         string
	TransactionType        string
}

// SyncPage is one page of incremental transaction deltas.
type SyncPage struct {
	Added      []RawTransaction
	Modified   []RawTransaction
	Removed    []string
	HasMore    bool
	NextCursor string
}

// Item is the aggregator's view of a linked connection.
type Item struct {
	ItemID        string
	InstitutionID string
}

// Institution is display metadata for a bank.
type Institution struct {
	ID   string
	Name string
	// Logo is a base64 encoded PNG when the aggregator provides one.
	Logo *string
}

// Client is the set of aggregator calls finsync depends on.
//
//go:generate mockgen -destination=mocks/mock_aggregator.go -package=mocks -source=aggregator.go Client
type Client interface {
	ExchangeToken(ctx context.Context, publicToken string) (*Exchange, error)
	// SyncPage fetches the page after cursor. An empty cursor starts a full sync.
	SyncPage(ctx context.Context, accessToken, cursor string) (*SyncPage, error)
	RemoveItem(ctx context.Context, accessToken string) error
	GetItem(ctx context.Context, accessToken string) (*Item, error)
	GetInstitution(ctx context.Context, institutionID string) (*Institution, error)
}
