package syncer

import (
	"strings"

	"github.com/ArionMiles/finsync/pkg/aggregator"
	"github.com/ArionMiles/finsync/pkg/api"
)

// DefaultCurrency is used when the aggregator reports no currency at all.
const DefaultCurrency = "USD"

// Normalize converts an upstream transaction into the stored form. The
// amount sign is inverted so that expenses are positive.
func Normalize(account api.LinkedAccount, raw aggregator.RawTransaction) api.Transaction {
	merchant := raw.Name
	if raw.MerchantName != nil && strings.TrimSpace(*raw.MerchantName) != "" {
		merchant = strings.TrimSpace(*raw.MerchantName)
	}

	categories := make([]string, 0, len(raw.Categories))
	for _, c := range raw.Categories {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}

	return api.Transaction{
		TransactionID:   raw.TransactionID,
		UserID:          account.UserID,
		ItemID:          account.ItemID,
		AccountID:       raw.AccountID,
		Name:            raw.Name,
		MerchantName:    merchant,
		Amount:          raw.Amount.Neg(),
		CurrencyCode:    currency(raw),
		Date:            raw.Date,
		AuthorizedDate:  raw.AuthorizedDate,
		Pending:         raw.Pending,
		Categories:      categories,
		PaymentChannel:  raw.PaymentChannel,
		TransactionType: raw.TransactionType,
	}
}

func currency(raw aggregator.RawTransaction) string {
	if raw.ISOCurrencyCode != nil && *raw.ISOCurrencyCode != "" {
		return strings.ToUpper(*raw.ISOCurrencyCode)
	}
	if raw.UnofficialCurrencyCode != nil && *raw.UnofficialCurrencyCode != "" {
		return strings.ToUpper(*raw.UnofficialCurrencyCode)
	}
	return DefaultCurrency
}
