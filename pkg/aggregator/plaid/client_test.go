package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/finsync/pkg/aggregator"
	"github.com/ArionMiles/finsync/pkg/api"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		ClientID:      "client-id",
		Secret:        "secret",
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	c.SetBaseURL(srv.URL)
	return c
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func writePlaidError(w http.ResponseWriter, status int, errType, code string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error_type":    errType,
		"error_code":    code,
		"error_message": "test error",
		"request_id":    "req-1",
	})
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{ClientID: "id"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestExchangeToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/item/public_token/exchange", r.URL.Path)
		assert.Equal(t, apiVersion, r.Header.Get("Plaid-Version"))

		body := decodeBody(t, r)
		assert.Equal(t, "public-sandbox-1", body["public_token"])
		assert.Equal(t, "client-id", body["client_id"])
		assert.Equal(t, "secret", body["secret"])

		_, _ = io.WriteString(w, `{"access_token":"access-sandbox-1","item_id":"item-1","request_id":"r"}`)
	})

	ex, err := c.ExchangeToken(context.Background(), "public-sandbox-1")
	require.NoError(t, err)
	assert.Equal(t, "access-sandbox-1", ex.AccessToken)
	assert.Equal(t, "item-1", ex.ItemID)
}

func TestExchangeToken_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.ExchangeToken(context.Background(), "")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestExchangeToken_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writePlaidError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "RATE_LIMIT")
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"access","item_id":"item"}`)
	})

	_, err := c.ExchangeToken(context.Background(), "public")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSyncPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/sync", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "cursor-1", body["cursor"])
		assert.Equal(t, "access", body["access_token"])

		_, _ = io.WriteString(w, `{
			"added": [{
				"transaction_id": "txn-1",
				"account_id": "acc-1",
				"amount": 15.80,
				"iso_currency_code": "USD",
				"date": "2025-04-13",
				"authorized_date": "2025-04-12",
				"name": "COFFEE SHOP 123",
				"merchant_name": "Coffee Shop",
				"pending": false,
				"category": ["Food and Drink", "Coffee Shop"],
				"payment_channel": "in store",
				"transaction_type": "place"
			}],
			"modified": [{
				"transaction_id": "txn-2",
				"account_id": "acc-1",
				"amount": -500,
				"date": "2025-04-10",
				"name": "PAYROLL",
				"merchant_name": null,
				"personal_finance_category": {"primary": "INCOME", "detailed": "INCOME_WAGES"}
			}],
			"removed": [{"transaction_id": "txn-3"}],
			"next_cursor": "cursor-2",
			"has_more": true
		}`)
	})

	page, err := c.SyncPage(context.Background(), "access", "cursor-1")
	require.NoError(t, err)

	require.Len(t, page.Added, 1)
	added := page.Added[0]
	assert.Equal(t, "txn-1", added.TransactionID)
	assert.True(t, decimal.RequireFromString("-15.80").Equal(added.Amount), "outflow is negative at the boundary")
	assert.Equal(t, time.Date(2025, 4, 13, 0, 0, 0, 0, time.UTC), added.Date)
	require.NotNil(t, added.AuthorizedDate)
	assert.Equal(t, 12, added.AuthorizedDate.Day())
	require.NotNil(t, added.MerchantName)
	assert.Equal(t, "Coffee Shop", *added.MerchantName)
	assert.Equal(t, []string{"Food and Drink", "Coffee Shop"}, added.Categories)

	require.Len(t, page.Modified, 1)
	assert.Nil(t, page.Modified[0].MerchantName)
	assert.Equal(t, []string{"INCOME", "INCOME_WAGES"}, page.Modified[0].Categories)

	assert.Equal(t, []string{"txn-3"}, page.Removed)
	assert.True(t, page.HasMore)
	assert.Equal(t, "cursor-2", page.NextCursor)
}

func TestSyncPage_InitialOmitsCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		_, ok := body["cursor"]
		assert.False(t, ok, "initial sync must not send a cursor")
		_, _ = io.WriteString(w, `{"added":[],"modified":[],"removed":[],"next_cursor":"c1","has_more":false}`)
	})

	page, err := c.SyncPage(context.Background(), "access", "")
	require.NoError(t, err)
	assert.Equal(t, "c1", page.NextCursor)
}

func TestSyncPage_NotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writePlaidError(w, http.StatusInternalServerError, "API_ERROR", "INTERNAL_SERVER_ERROR")
	})

	_, err := c.SyncPage(context.Background(), "access", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, err, api.ErrUpstream)
}

func TestSyncPage_BadDate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"added":[{"transaction_id":"t","amount":1,"date":"13/04/2025"}],"next_cursor":"c","has_more":false}`)
	})

	_, err := c.SyncPage(context.Background(), "access", "")
	assert.ErrorIs(t, err, api.ErrUpstream)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		errType string
		code    string
		want    error
		apiWant error
	}{
		{"login required", http.StatusBadRequest, "ITEM_ERROR", "ITEM_LOGIN_REQUIRED", ErrItemLoginRequired, api.ErrLoginRequired},
		{"invalid token", http.StatusBadRequest, "INVALID_INPUT", "INVALID_ACCESS_TOKEN", ErrInvalidToken, api.ErrUpstream},
		{"item not found", http.StatusBadRequest, "ITEM_ERROR", "ITEM_NOT_FOUND", ErrItemNotFound, api.ErrUpstream},
		{"other", http.StatusBadRequest, "INVALID_REQUEST", "MISSING_FIELDS", ErrProviderError, api.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writePlaidError(w, tt.status, tt.errType, tt.code)
			})

			_, err := c.SyncPage(context.Background(), "access", "cursor")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.apiWant)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.code, apiErr.ErrorCode)
			assert.Equal(t, "req-1", apiErr.RequestID)
		})
	}
}

func TestLoginRequiredIsNotPlainProviderError(t *testing.T) {
	err := &APIError{StatusCode: http.StatusBadRequest, ErrorType: "ITEM_ERROR", ErrorCode: "ITEM_LOGIN_REQUIRED"}
	assert.NotErrorIs(t, err, ErrProviderError)
	assert.False(t, err.IsRetryable())
}

func TestRemoveItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/item/remove", r.URL.Path)
		assert.Equal(t, "access", decodeBody(t, r)["access_token"])
		_, _ = io.WriteString(w, `{"request_id":"r"}`)
	})

	assert.NoError(t, c.RemoveItem(context.Background(), "access"))
}

func TestGetItemAndInstitution(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/item/get":
			_, _ = io.WriteString(w, `{"item":{"item_id":"item-1","institution_id":"ins_109508"}}`)
		case "/institutions/get_by_id":
			body := decodeBody(t, r)
			assert.Equal(t, "ins_109508", body["institution_id"])
			assert.Equal(t, []any{"US"}, body["country_codes"])
			_, _ = io.WriteString(w, `{"institution":{"institution_id":"ins_109508","name":"First Platypus Bank","logo":"aGVsbG8="}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	item, err := c.GetItem(context.Background(), "access")
	require.NoError(t, err)
	assert.Equal(t, "ins_109508", item.InstitutionID)

	inst, err := c.GetInstitution(context.Background(), item.InstitutionID)
	require.NoError(t, err)
	assert.Equal(t, "First Platypus Bank", inst.Name)
	require.NotNil(t, inst.Logo)
	assert.Equal(t, "aGVsbG8=", *inst.Logo)
}

func TestItemGoneErrors(t *testing.T) {
	for _, code := range []string{"ITEM_NOT_FOUND", "INVALID_ACCESS_TOKEN"} {
		err := &APIError{StatusCode: http.StatusBadRequest, ErrorType: "ITEM_ERROR", ErrorCode: code}
		assert.ErrorIs(t, err, aggregator.ErrItemGone, code)
		assert.ErrorIs(t, err, api.ErrUpstream, code)
	}
	assert.NotErrorIs(t, ErrItemLoginRequired, aggregator.ErrItemGone)
}
