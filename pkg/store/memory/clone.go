package memory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/finsync/pkg/api"
)

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneAccount(a api.LinkedAccount) api.LinkedAccount {
	a.InstitutionID = cloneString(a.InstitutionID)
	a.InstitutionName = cloneString(a.InstitutionName)
	a.InstitutionLogo = cloneString(a.InstitutionLogo)
	a.SyncCursor = cloneString(a.SyncCursor)
	a.LastSyncedAt = cloneTime(a.LastSyncedAt)
	a.LastSyncError = cloneString(a.LastSyncError)
	return a
}

func cloneTransaction(t api.Transaction) api.Transaction {
	t.AuthorizedDate = cloneTime(t.AuthorizedDate)
	t.LinkedReceiptID = cloneString(t.LinkedReceiptID)
	t.Categories = append([]string{}, t.Categories...)
	return t
}

func cloneReceipt(r api.Receipt) api.Receipt {
	r.VendorName = cloneString(r.VendorName)
	r.TransactionDate = cloneTime(r.TransactionDate)
	r.TotalAmount = cloneDecimal(r.TotalAmount)
	r.CurrencyCode = cloneString(r.CurrencyCode)
	r.MatchedTransactionID = cloneString(r.MatchedTransactionID)
	r.LineItems = append([]api.LineItem{}, r.LineItems...)
	return r
}
