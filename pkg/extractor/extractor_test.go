package extractor

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
		want  string
	}{
		{`12.5`, true, "12.5"},
		{`"$1,234.50"`, true, "1234.50"},
		{`" 3 "`, true, "3"},
		{`"€12.50"`, true, "12.50"},
		{`"£8.99"`, true, "8.99"},
		{`"¥1,200"`, true, "1200"},
		{`"12.50 €"`, true, "12.50"},
		{`null`, false, ""},
		{`""`, false, ""},
		{`"n/a"`, false, ""},
		{`true`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var n Number
			require.NoError(t, json.Unmarshal([]byte(tt.in), &n))
			assert.Equal(t, tt.valid, n.Valid)
			if tt.valid {
				assert.True(t, decimal.RequireFromString(tt.want).Equal(n.Value), "got %s", n.Value)
			}
		})
	}
}

func TestDecodeReceipt_MissingFields(t *testing.T) {
	out, err := DecodeReceipt(`Here you go: {"vendor_name": "", "transaction_date": "not a date", "total_amount": null, "line_items": [{"description": "Soap", "price": 2}]} thanks`)
	require.NoError(t, err)

	assert.Nil(t, out.VendorName)
	assert.Nil(t, out.TransactionDate)
	assert.Nil(t, out.TotalAmount)
	assert.Nil(t, out.CurrencyCode)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, 1, out.LineItems[0].Quantity)
	assert.Equal(t, "", out.LineItems[0].Category)
}

func TestDecodeReceipt_DateLayouts(t *testing.T) {
	for _, in := range []string{"2025-04-12", "04/12/2025", "Apr 12, 2025", "2025-04-12T18:30:00Z"} {
		out, err := DecodeReceipt(`{"transaction_date": "` + in + `"}`)
		require.NoError(t, err)
		require.NotNil(t, out.TransactionDate, in)
		assert.Equal(t, "2025-04-12", out.TransactionDate.Format("2006-01-02"), in)
	}
}

func TestDecodeReceipt_NotJSON(t *testing.T) {
	_, err := DecodeReceipt("no json here")
	assert.Error(t, err)
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, CleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanJSON("  {\"a\":1}  "))
}
