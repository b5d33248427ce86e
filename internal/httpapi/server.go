// Package httpapi serves the finsync operations as a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ArionMiles/finsync/internal/service"
	"github.com/ArionMiles/finsync/pkg/api"
)

// UserHeader carries the caller identity set by the upstream auth proxy.
const UserHeader = "X-User-ID"

// Operations is the service surface exposed over HTTP.
type Operations interface {
	LinkAccount(ctx context.Context, userID, publicToken string) service.Result
	Accounts(ctx context.Context, userID string) service.Result
	SyncAllAccounts(ctx context.Context, userID string) service.Result
	SyncAccount(ctx context.Context, userID, itemID string) service.Result
	UnlinkAccount(ctx context.Context, userID, itemID string) service.Result
	SubmitReceipt(ctx context.Context, userID string, image []byte, mimeType string) service.Result
	MatchReceipt(ctx context.Context, userID, receiptID string) service.Result
	Query(ctx context.Context, userID, intent string, entities map[string]any) service.Result
	Ping(ctx context.Context) error
}

type server struct {
	ops    Operations
	logger *slog.Logger
}

// NewHandler builds the routed handler with middleware applied.
func NewHandler(ops Operations, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	s := &server{ops: ops, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/accounts/link", s.withUser(s.linkAccount))
	mux.HandleFunc("GET /api/accounts", s.withUser(s.listAccounts))
	mux.HandleFunc("POST /api/accounts/sync", s.withUser(s.syncAll))
	mux.HandleFunc("POST /api/accounts/{itemId}/sync", s.withUser(s.syncAccount))
	mux.HandleFunc("DELETE /api/accounts/{itemId}", s.withUser(s.unlinkAccount))
	mux.HandleFunc("POST /api/receipts", s.withUser(s.submitReceipt))
	mux.HandleFunc("POST /api/receipts/{receiptId}/match", s.withUser(s.matchReceipt))
	mux.HandleFunc("POST /api/query", s.withUser(s.query))
	mux.HandleFunc("GET /health", s.health)

	return Recovery(logger)(
		RequestID(
			Logger(logger)(
				CORS(mux),
			),
		),
	)
}

// NewServer wraps the handler with the timeouts used in production.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *server) withUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			WriteError(w, http.StatusUnauthorized, api.CodeUnauthenticated, "missing "+UserHeader+" header")
			return
		}
		h(w, r, userID)
	}
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case api.CodeUnauthenticated:
		return http.StatusUnauthorized
	case api.CodeInvalidArgument:
		return http.StatusBadRequest
	case api.CodeNotFound:
		return http.StatusNotFound
	case api.CodeConflict:
		return http.StatusConflict
	case api.CodeUpstream, api.CodeLoginRequired:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeResult(w http.ResponseWriter, res service.Result) {
	status := http.StatusOK
	if !res.Success && res.Error != nil {
		status = StatusFor(res.Error.Code)
	}
	WriteJSON(w, status, res)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func (s *server) linkAccount(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		PublicToken string `json:"public_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, api.CodeInvalidArgument, "invalid request body")
		return
	}
	s.writeResult(w, s.ops.LinkAccount(r.Context(), userID, req.PublicToken))
}

func (s *server) listAccounts(w http.ResponseWriter, r *http.Request, userID string) {
	s.writeResult(w, s.ops.Accounts(r.Context(), userID))
}

func (s *server) syncAll(w http.ResponseWriter, r *http.Request, userID string) {
	s.writeResult(w, s.ops.SyncAllAccounts(r.Context(), userID))
}

func (s *server) syncAccount(w http.ResponseWriter, r *http.Request, userID string) {
	s.writeResult(w, s.ops.SyncAccount(r.Context(), userID, r.PathValue("itemId")))
}

func (s *server) unlinkAccount(w http.ResponseWriter, r *http.Request, userID string) {
	s.writeResult(w, s.ops.UnlinkAccount(r.Context(), userID, r.PathValue("itemId")))
}

func (s *server) submitReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	image, err := io.ReadAll(http.MaxBytesReader(w, r.Body, service.MaxReceiptBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, api.CodeInvalidArgument, "receipt image too large")
			return
		}
		WriteError(w, http.StatusBadRequest, api.CodeInvalidArgument, "could not read receipt image")
		return
	}

	mimeType := r.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	s.writeResult(w, s.ops.SubmitReceipt(r.Context(), userID, image, mimeType))
}

func (s *server) matchReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	s.writeResult(w, s.ops.MatchReceipt(r.Context(), userID, r.PathValue("receiptId")))
}

func (s *server) query(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Intent   string         `json:"intent"`
		Entities map[string]any `json:"entities"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, api.CodeInvalidArgument, "invalid request body")
		return
	}
	s.writeResult(w, s.ops.Query(r.Context(), userID, req.Intent, req.Entities))
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.ops.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
