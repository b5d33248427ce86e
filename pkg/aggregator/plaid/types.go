package plaid

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/finsync/pkg/aggregator"
)

const dateLayout = "2006-01-02"

type errorResponse struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

type syncResponse struct {
	Added      []transaction        `json:"added"`
	Modified   []transaction        `json:"modified"`
	Removed    []removedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
	RequestID  string               `json:"request_id"`
}

type removedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

type personalFinanceCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

type transaction struct {
	TransactionID           string                   `json:"transaction_id"`
	AccountID               string                   `json:"account_id"`
	Amount                  decimal.Decimal          `json:"amount"`
	ISOCurrencyCode         *string                  `json:"iso_currency_code"`
	UnofficialCurrencyCode  *string                  `json:"unofficial_currency_code"`
	Date                    string                   `json:"date"`
	AuthorizedDate          *string                  `json:"authorized_date"`
	Name                    string                   `json:"name"`
	MerchantName            *string                  `json:"merchant_name"`
	Pending                 bool                     `json:"pending"`
	Category                []string                 `json:"category"`
	PaymentChannel          string                   `json:"payment_channel"`
	TransactionType         string                   `json:"transaction_type"`
	PersonalFinanceCategory *personalFinanceCategory `json:"personal_finance_category"`
}

type removeResponse struct {
	RequestID string `json:"request_id"`
}

type itemResponse struct {
	Item struct {
		ItemID        string  `json:"item_id"`
		InstitutionID *string `json:"institution_id"`
	} `json:"item"`
	RequestID string `json:"request_id"`
}

type institutionResponse struct {
	Institution struct {
		InstitutionID string  `json:"institution_id"`
		Name          string  `json:"name"`
		Logo          *string `json:"logo"`
	} `json:"institution"`
	RequestID string `json:"request_id"`
}

// toRaw validates and converts a wire transaction. Plaid reports outflows
// as positive amounts, so the sign is flipped to the boundary convention.
func (t transaction) toRaw() (aggregator.RawTransaction, error) {
	if t.TransactionID == "" {
		return aggregator.RawTransaction{}, fmt.Errorf("transaction without transaction_id")
	}

	date, err := time.ParseInLocation(dateLayout, t.Date, time.UTC)
	if err != nil {
		return aggregator.RawTransaction{}, fmt.Errorf("parsing date of %s: %w", t.TransactionID, err)
	}

	raw := aggregator.RawTransaction{
		TransactionID:          t.TransactionID,
		AccountID:              t.AccountID,
		Name:                   t.Name,
		MerchantName:           t.MerchantName,
		Amount:                 t.Amount.Neg(),
		ISOCurrencyCode:        t.ISOCurrencyCode,
		UnofficialCurrencyCode: t.UnofficialCurrencyCode,
		Date:                   date,
		Pending:                t.Pending,
		Categories:             t.categories(),
		PaymentChannel:         t.PaymentChannel,
		TransactionType:        t.TransactionType,
	}

	if t.AuthorizedDate != nil && *t.AuthorizedDate != "" {
		authorized, err := time.ParseInLocation(dateLayout, *t.AuthorizedDate, time.UTC)
		if err != nil {
			return aggregator.RawTransaction{}, fmt.Errorf("parsing authorized_date of %s: %w", t.TransactionID, err)
		}
		raw.AuthorizedDate = &authorized
	}

	return raw, nil
}

// categories prefers the legacy category hierarchy and falls back to the
// personal finance category.
func (t transaction) categories() []string {
	if len(t.Category) > 0 {
		return t.Category
	}
	if pfc := t.PersonalFinanceCategory; pfc != nil && pfc.Primary != "" {
		out := []string{pfc.Primary}
		if pfc.Detailed != "" && pfc.Detailed != pfc.Primary {
			out = append(out, pfc.Detailed)
		}
		return out
	}
	return nil
}

func convertAll(in []transaction) ([]aggregator.RawTransaction, error) {
	out := make([]aggregator.RawTransaction, 0, len(in))
	for _, t := range in {
		raw, err := t.toRaw()
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}
