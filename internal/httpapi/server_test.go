package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/finsync/internal/service"
	"github.com/ArionMiles/finsync/pkg/api"
)

type call struct {
	op   string
	user string
	args []string
	body []byte
	ents map[string]any
}

type fakeOps struct {
	calls   []call
	result  service.Result
	pingErr error
	panics  bool
}

func (f *fakeOps) record(c call) service.Result {
	if f.panics {
		panic("boom")
	}
	f.calls = append(f.calls, c)
	if f.result.Success || f.result.Error != nil {
		return f.result
	}
	return service.Result{Success: true, Data: map[string]string{"op": c.op}}
}

func (f *fakeOps) LinkAccount(_ context.Context, userID, publicToken string) service.Result {
	return f.record(call{op: "link", user: userID, args: []string{publicToken}})
}

func (f *fakeOps) Accounts(_ context.Context, userID string) service.Result {
	return f.record(call{op: "accounts", user: userID})
}

func (f *fakeOps) SyncAllAccounts(_ context.Context, userID string) service.Result {
	return f.record(call{op: "syncAll", user: userID})
}

func (f *fakeOps) SyncAccount(_ context.Context, userID, itemID string) service.Result {
	return f.record(call{op: "sync", user: userID, args: []string{itemID}})
}

func (f *fakeOps) UnlinkAccount(_ context.Context, userID, itemID string) service.Result {
	return f.record(call{op: "unlink", user: userID, args: []string{itemID}})
}

func (f *fakeOps) SubmitReceipt(_ context.Context, userID string, image []byte, mimeType string) service.Result {
	return f.record(call{op: "submit", user: userID, args: []string{mimeType}, body: image})
}

func (f *fakeOps) MatchReceipt(_ context.Context, userID, receiptID string) service.Result {
	return f.record(call{op: "match", user: userID, args: []string{receiptID}})
}

func (f *fakeOps) Query(_ context.Context, userID, intent string, entities map[string]any) service.Result {
	return f.record(call{op: "query", user: userID, args: []string{intent}, ents: entities})
}

func (f *fakeOps) Ping(context.Context) error { return f.pingErr }

func do(t *testing.T, ops *fakeOps, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(ops, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func asUser(extra ...string) http.Header {
	h := http.Header{}
	h.Set(UserHeader, "user-1")
	for i := 0; i+1 < len(extra); i += 2 {
		h.Set(extra[i], extra[i+1])
	}
	return h
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestMissingUserHeader(t *testing.T) {
	ops := &fakeOps{}
	rec := do(t, ops, http.MethodPost, "/api/accounts/sync", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, api.CodeUnauthenticated, body["error"].(map[string]any)["code"])
	assert.Empty(t, ops.calls)
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   call
	}{
		{"link", http.MethodPost, "/api/accounts/link", `{"public_token":"public-1"}`, call{op: "link", user: "user-1", args: []string{"public-1"}}},
		{"list", http.MethodGet, "/api/accounts", "", call{op: "accounts", user: "user-1"}},
		{"sync all", http.MethodPost, "/api/accounts/sync", "", call{op: "syncAll", user: "user-1"}},
		{"sync one", http.MethodPost, "/api/accounts/item-9/sync", "", call{op: "sync", user: "user-1", args: []string{"item-9"}}},
		{"unlink", http.MethodDelete, "/api/accounts/item-9", "", call{op: "unlink", user: "user-1", args: []string{"item-9"}}},
		{"match", http.MethodPost, "/api/receipts/r-7/match", "", call{op: "match", user: "user-1", args: []string{"r-7"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := &fakeOps{}
			rec := do(t, ops, tt.method, tt.target, tt.body, asUser())

			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, ops.calls, 1)
			assert.Equal(t, tt.want, ops.calls[0])
			assert.Equal(t, true, decode(t, rec)["success"])
		})
	}
}

func TestSubmitReceipt(t *testing.T) {
	ops := &fakeOps{}
	rec := do(t, ops, http.MethodPost, "/api/receipts", "jpeg-bytes", asUser("Content-Type", "image/jpeg"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ops.calls, 1)
	assert.Equal(t, []byte("jpeg-bytes"), ops.calls[0].body)
	assert.Equal(t, []string{"image/jpeg"}, ops.calls[0].args)
}

func TestQuery(t *testing.T) {
	ops := &fakeOps{}
	rec := do(t, ops, http.MethodPost, "/api/query", `{"intent":"by_category","entities":{"category":"Dining","limit":3}}`, asUser())

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ops.calls, 1)
	assert.Equal(t, []string{"by_category"}, ops.calls[0].args)
	assert.Equal(t, "Dining", ops.calls[0].ents["category"])
	assert.Equal(t, float64(3), ops.calls[0].ents["limit"])
}

func TestBadJSON(t *testing.T) {
	ops := &fakeOps{}
	rec := do(t, ops, http.MethodPost, "/api/query", `{not json`, asUser())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ops.calls)
}

func TestErrorStatus(t *testing.T) {
	ops := &fakeOps{result: service.Result{Error: &service.ErrorBody{Code: api.CodeNotFound, Message: "account item-1: not found"}}}
	rec := do(t, ops, http.MethodPost, "/api/accounts/item-1/sync", "", asUser())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, api.CodeNotFound, body["error"].(map[string]any)["code"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(api.CodeInvalidArgument))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(api.CodeUnauthenticated))
	assert.Equal(t, http.StatusNotFound, StatusFor(api.CodeNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(api.CodeConflict))
	assert.Equal(t, http.StatusBadGateway, StatusFor(api.CodeUpstream))
	assert.Equal(t, http.StatusBadGateway, StatusFor(api.CodeLoginRequired))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(api.CodePersistence))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(api.CodeInternal))
}

func TestHealth(t *testing.T) {
	rec := do(t, &fakeOps{}, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = do(t, &fakeOps{pingErr: errors.New("db down")}, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecovery(t *testing.T) {
	rec := do(t, &fakeOps{panics: true}, http.MethodGet, "/api/accounts", "", asUser())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID(t *testing.T) {
	rec := do(t, &fakeOps{}, http.MethodGet, "/health", "", http.Header{"X-Request-Id": {"req-42"}})
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = do(t, &fakeOps{}, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, &fakeOps{}, http.MethodGet, "/api/accounts/sync", "", asUser())
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
