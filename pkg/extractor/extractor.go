// Package extractor defines the boundary to the receipt vision and
// categorization service, and the coercion applied to everything it returns.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/finsync/pkg/api"
)

// Extraction is a receipt as read from an image, already coerced into
// typed fields. Any field may be missing when the image was unreadable.
type Extraction struct {
	VendorName      *string
	TransactionDate *time.Time
	TotalAmount     *decimal.Decimal
	CurrencyCode    *string
	LineItems       []api.LineItem
}

// Extractor reads receipts and assigns line-item categories.
//
//go:generate mockgen -destination=mocks/mock_extractor.go -package=mocks -source=extractor.go Extractor
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (*Extraction, error)
	// Categorize returns a taxonomy label for one line-item description.
	Categorize(ctx context.Context, description string) (string, error)
}

// Number accepts a JSON number, a numeric string such as "$1,234.50" or
// "€12.50", or null. Currency symbols, spaces and thousands separators are
// dropped from strings.
type Number struct {
	Value decimal.Decimal
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("decoding number %s: %w", s, err)
		}
		s = strings.Map(func(r rune) rune {
			if r == ',' || unicode.Is(unicode.Sc, r) || unicode.IsSpace(r) {
				return -1
			}
			return r
		}, unq)
		if s == "" {
			*n = Number{}
			return nil
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		// Unparseable amounts are treated as missing.
		*n = Number{}
		return nil
	}
	*n = Number{Value: d, Valid: true}
	return nil
}

// WireReceipt is the loosely typed JSON a model returns for a receipt.
type WireReceipt struct {
	VendorName      *string        `json:"vendor_name"`
	TransactionDate *string        `json:"transaction_date"`
	TotalAmount     Number         `json:"total_amount"`
	Currency        *string        `json:"currency"`
	LineItems       []WireLineItem `json:"line_items"`
}

// WireLineItem is one loosely typed receipt line.
type WireLineItem struct {
	Description string `json:"description"`
	Quantity    Number `json:"quantity"`
	Price       Number `json:"price"`
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	time.RFC3339,
}

// Coerce turns a wire receipt into an Extraction: strings are trimmed and
// blank ones dropped, the currency is upper-cased, quantities are whole
// numbers of at least one, and lines without a description are skipped.
func Coerce(w WireReceipt) *Extraction {
	out := &Extraction{
		VendorName:   trimmed(w.VendorName),
		CurrencyCode: trimmed(w.Currency),
	}
	if out.CurrencyCode != nil {
		upper := strings.ToUpper(*out.CurrencyCode)
		out.CurrencyCode = &upper
	}

	if s := trimmed(w.TransactionDate); s != nil {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, *s); err == nil {
				y, m, d := t.Date()
				day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
				out.TransactionDate = &day
				break
			}
		}
	}

	if w.TotalAmount.Valid {
		total := w.TotalAmount.Value
		out.TotalAmount = &total
	}

	out.LineItems = make([]api.LineItem, 0, len(w.LineItems))
	for _, li := range w.LineItems {
		desc := strings.TrimSpace(li.Description)
		if desc == "" {
			continue
		}
		qty := 1
		if li.Quantity.Valid {
			if q := li.Quantity.Value.IntPart(); q >= 1 {
				qty = int(q)
			}
		}
		price := decimal.Zero
		if li.Price.Valid {
			price = li.Price.Value
		}
		out.LineItems = append(out.LineItems, api.LineItem{Description: desc, Quantity: qty, Price: price})
	}
	return out
}

// DecodeReceipt parses model output, tolerating Markdown fences and text
// around the JSON object.
func DecodeReceipt(raw string) (*Extraction, error) {
	var w WireReceipt
	if err := json.Unmarshal([]byte(CleanJSON(raw)), &w); err != nil {
		return nil, fmt.Errorf("decoding receipt JSON: %w", err)
	}
	return Coerce(w), nil
}

// CleanJSON strips code fences and keeps the outermost JSON object.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
