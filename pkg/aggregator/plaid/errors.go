package plaid

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ArionMiles/finsync/pkg/aggregator"
	"github.com/ArionMiles/finsync/pkg/api"
)

// Provider-specific errors. Each wraps the matching api error.
var (
	// ErrNotConfigured is returned when Plaid credentials are not set.
	ErrNotConfigured = errors.New("plaid: provider not configured")

	// ErrItemLoginRequired is returned when the user needs to re-authenticate.
	ErrItemLoginRequired = fmt.Errorf("plaid: item requires user re-authentication: %w", api.ErrLoginRequired)

	// ErrInvalidToken is returned when the access token is invalid or expired.
	ErrInvalidToken = fmt.Errorf("plaid: invalid or expired access token: %w: %w", aggregator.ErrItemGone, api.ErrUpstream)

	// ErrItemNotFound is returned when the item no longer exists upstream.
	ErrItemNotFound = fmt.Errorf("plaid: item not found: %w: %w", aggregator.ErrItemGone, api.ErrUpstream)

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = fmt.Errorf("plaid: rate limit exceeded: %w", api.ErrUpstream)

	// ErrProviderError is returned for any other upstream Plaid error.
	ErrProviderError = fmt.Errorf("plaid: provider returned an error: %w", api.ErrUpstream)
)

// APIError represents an error from the Plaid API.
type APIError struct {
	StatusCode   int
	ErrorType    string
	ErrorCode    string
	ErrorMessage string
	RequestID    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plaid API error: %s (status=%d, type=%s, code=%s, request_id=%s)",
		e.ErrorMessage, e.StatusCode, e.ErrorType, e.ErrorCode, e.RequestID)
}

// Unwrap returns the sentinel error matching the error code.
func (e *APIError) Unwrap() error {
	switch {
	case e.ErrorCode == "ITEM_LOGIN_REQUIRED":
		return ErrItemLoginRequired
	case e.ErrorCode == "INVALID_ACCESS_TOKEN" || e.ErrorType == "INVALID_ACCESS_TOKEN":
		return ErrInvalidToken
	case e.ErrorCode == "ITEM_NOT_FOUND":
		return ErrItemNotFound
	case e.ErrorType == "RATE_LIMIT_EXCEEDED" || e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrProviderError
	}
}

// IsRetryable returns true if the error might succeed on retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// isRetryable reports whether err is an APIError worth retrying.
func isRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRetryable()
}
