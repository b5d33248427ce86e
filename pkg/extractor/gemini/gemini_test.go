package gemini

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/ArionMiles/finsync/pkg/api"
)

type fakeModels struct {
	responses []string
	errs      []error
	calls     int
	lastParts []*genai.Part
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	if len(contents) > 0 {
		f.lastParts = contents[0].Parts
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := ""
	if i < len(f.responses) {
		text = f.responses[i]
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}}},
	}, nil
}

func newTestClient(f *fakeModels) *Client {
	return newClient(f, Config{RetryDelay: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestExtract(t *testing.T) {
	f := &fakeModels{responses: []string{"```json\n" + `{
		"vendor_name": " Corner Store ",
		"transaction_date": "2025-04-12",
		"total_amount": "15.75",
		"currency": "usd",
		"line_items": [
			{"description": "Milk", "quantity": 2, "price": 3.5},
			{"description": "Bread", "quantity": 0, "price": "8.75"},
			{"description": "  ", "quantity": 1, "price": 1}
		]
	}` + "\n```"}}

	out, err := newTestClient(f).Extract(context.Background(), []byte("\x89PNG\r\n\x1a\nimage"), "")
	require.NoError(t, err)

	require.NotNil(t, out.VendorName)
	assert.Equal(t, "Corner Store", *out.VendorName)
	require.NotNil(t, out.TransactionDate)
	assert.Equal(t, time.Date(2025, 4, 12, 0, 0, 0, 0, time.UTC), *out.TransactionDate)
	require.NotNil(t, out.TotalAmount)
	assert.True(t, decimal.RequireFromString("15.75").Equal(*out.TotalAmount))
	require.NotNil(t, out.CurrencyCode)
	assert.Equal(t, "USD", *out.CurrencyCode)

	require.Len(t, out.LineItems, 2)
	assert.Equal(t, 2, out.LineItems[0].Quantity)
	assert.Equal(t, 1, out.LineItems[1].Quantity, "quantity clamped to at least one")

	require.Len(t, f.lastParts, 2)
	require.NotNil(t, f.lastParts[1].InlineData)
	assert.Equal(t, "image/png", f.lastParts[1].InlineData.MIMEType)
}

func TestExtract_Malformed(t *testing.T) {
	f := &fakeModels{responses: []string{"sorry, I cannot read this"}}
	_, err := newTestClient(f).Extract(context.Background(), []byte("img"), "image/jpeg")
	assert.ErrorIs(t, err, api.ErrUpstream)
}

func TestExtract_EmptyImage(t *testing.T) {
	_, err := newTestClient(&fakeModels{}).Extract(context.Background(), nil, "image/jpeg")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestExtract_RetriesRateLimit(t *testing.T) {
	f := &fakeModels{
		errs:      []error{genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"}},
		responses: []string{"", `{"vendor_name":"A","line_items":[]}`},
	}
	out, err := newTestClient(f).Extract(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.Nil(t, out.TotalAmount)
}

func TestExtract_NoRetryOnClientError(t *testing.T) {
	f := &fakeModels{errs: []error{genai.APIError{Code: http.StatusBadRequest}}}
	_, err := newTestClient(f).Extract(context.Background(), []byte("img"), "image/jpeg")
	assert.ErrorIs(t, err, api.ErrUpstream)
	assert.Equal(t, 1, f.calls)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"granular label", "Groceries > Dairy", "Groceries > Dairy"},
		{"quoted and lower case", `"groceries > dairy".`, "Groceries > Dairy"},
		{"unknown child keeps parent", "Groceries > Caviar", "Groceries"},
		{"unknown label", "Spaceships", api.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeModels{responses: []string{tt.response}}
			got, err := newTestClient(f).Categorize(context.Background(), "2% milk")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategorize_BlankDescription(t *testing.T) {
	f := &fakeModels{}
	got, err := newTestClient(f).Categorize(context.Background(), " ")
	require.NoError(t, err)
	assert.Equal(t, api.CategoryOther, got)
	assert.Zero(t, f.calls)
}
