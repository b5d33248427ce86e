// Package plaid implements the aggregator client on the Plaid REST API.
package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/ArionMiles/finsync/pkg/aggregator"
	"github.com/ArionMiles/finsync/pkg/api"
)

// Plaid API endpoints.
const (
	sandboxBaseURL     = "https://sandbox.plaid.com"
	developmentBaseURL = "https://development.plaid.com"
	productionBaseURL  = "https://production.plaid.com"
)

const apiVersion = "2020-09-14"

// DefaultPageSize is the number of transactions requested per sync page.
const DefaultPageSize = 250

// Config configures the Plaid client.
type Config struct {
	// Environment is "sandbox", "development", or "production".
	Environment string

	ClientID string
	// Secret is SENSITIVE and never logged.
	Secret string

	// CountryCodes scopes institution lookups.
	CountryCodes []string

	// PageSize is the count requested from /transactions/sync.
	PageSize int

	// HTTPClient is an optional custom HTTP client (for testing).
	HTTPClient *http.Client
	Timeout    time.Duration

	// RetryAttempts and RetryDelay bound retries of idempotent calls.
	RetryAttempts uint
	RetryDelay    time.Duration
}

// Client talks to Plaid. It holds no per-user state.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	clientID      string
	secret        string
	countryCodes  []string
	pageSize      int
	retryAttempts uint
	retryDelay    time.Duration
	logger        *slog.Logger
}

var _ aggregator.Client = (*Client)(nil)

// New creates a new Plaid client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}

	var baseURL string
	switch strings.ToLower(cfg.Environment) {
	case "production":
		baseURL = productionBaseURL
	case "development":
		baseURL = developmentBaseURL
	default:
		baseURL = sandboxBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	if len(cfg.CountryCodes) == 0 {
		cfg.CountryCodes = []string{"US"}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	return &Client{
		httpClient:    httpClient,
		baseURL:       baseURL,
		clientID:      cfg.ClientID,
		secret:        cfg.Secret,
		countryCodes:  cfg.CountryCodes,
		pageSize:      cfg.PageSize,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        logger,
	}, nil
}

// SetBaseURL sets the base URL for the client (for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimSuffix(url, "/")
}

// ExchangeToken exchanges a public link token for an access token.
func (c *Client) ExchangeToken(ctx context.Context, publicToken string) (*aggregator.Exchange, error) {
	if publicToken == "" {
		return nil, fmt.Errorf("public token is required: %w", api.ErrInvalidArgument)
	}

	var resp *exchangeResponse
	err := c.withRetry(ctx, "/item/public_token/exchange", func() error {
		var err error
		resp, err = doPost[exchangeResponse](ctx, c, "/item/public_token/exchange", map[string]any{
			"public_token": publicToken,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("exchanging public token: %w", err)
	}

	return &aggregator.Exchange{AccessToken: resp.AccessToken, ItemID: resp.ItemID}, nil
}

// SyncPage fetches one page of /transactions/sync. It is not retried: the
// caller treats a failed page as the end of that sync attempt.
func (c *Client) SyncPage(ctx context.Context, accessToken, cursor string) (*aggregator.SyncPage, error) {
	body := map[string]any{
		"access_token": accessToken,
		"count":        c.pageSize,
	}
	if cursor != "" {
		body["cursor"] = cursor
	}

	resp, err := doPost[syncResponse](ctx, c, "/transactions/sync", body)
	if err != nil {
		return nil, fmt.Errorf("syncing transactions: %w", err)
	}

	added, err := convertAll(resp.Added)
	if err != nil {
		return nil, fmt.Errorf("decoding added transactions: %w: %w", api.ErrUpstream, err)
	}
	modified, err := convertAll(resp.Modified)
	if err != nil {
		return nil, fmt.Errorf("decoding modified transactions: %w: %w", api.ErrUpstream, err)
	}

	removed := make([]string, 0, len(resp.Removed))
	for _, r := range resp.Removed {
		removed = append(removed, r.TransactionID)
	}

	c.logger.Debug("fetched sync page",
		"added", len(added),
		"modified", len(modified),
		"removed", len(removed),
		"has_more", resp.HasMore,
		"request_id", resp.RequestID,
	)

	return &aggregator.SyncPage{
		Added:      added,
		Modified:   modified,
		Removed:    removed,
		HasMore:    resp.HasMore,
		NextCursor: resp.NextCursor,
	}, nil
}

// RemoveItem invalidates the access token and removes the item upstream.
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	err := c.withRetry(ctx, "/item/remove", func() error {
		_, err := doPost[removeResponse](ctx, c, "/item/remove", map[string]any{
			"access_token": accessToken,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("removing item: %w", err)
	}
	return nil
}

// GetItem returns the item's institution linkage.
func (c *Client) GetItem(ctx context.Context, accessToken string) (*aggregator.Item, error) {
	var resp *itemResponse
	err := c.withRetry(ctx, "/item/get", func() error {
		var err error
		resp, err = doPost[itemResponse](ctx, c, "/item/get", map[string]any{
			"access_token": accessToken,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	item := &aggregator.Item{ItemID: resp.Item.ItemID}
	if resp.Item.InstitutionID != nil {
		item.InstitutionID = *resp.Item.InstitutionID
	}
	return item, nil
}

// GetInstitution fetches institution display metadata including the logo.
func (c *Client) GetInstitution(ctx context.Context, institutionID string) (*aggregator.Institution, error) {
	var resp *institutionResponse
	err := c.withRetry(ctx, "/institutions/get_by_id", func() error {
		var err error
		resp, err = doPost[institutionResponse](ctx, c, "/institutions/get_by_id", map[string]any{
			"institution_id": institutionID,
			"country_codes":  c.countryCodes,
			"options":        map[string]any{"include_optional_metadata": true},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting institution %s: %w", institutionID, err)
	}

	return &aggregator.Institution{
		ID:   resp.Institution.InstitutionID,
		Name: resp.Institution.Name,
		Logo: resp.Institution.Logo,
	}, nil
}

// withRetry retries fn on rate limiting and 5xx responses.
func (c *Client) withRetry(ctx context.Context, path string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			if isRetryable(err) {
				c.logger.Warn("plaid request failed, will retry", "path", path, "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
	)
}

// doPost performs a POST request with JSON body and decodes the response.
func doPost[Resp any](ctx context.Context, c *Client, path string, reqBody map[string]any) (*Resp, error) {
	reqBody["client_id"] = c.clientID
	reqBody["secret"] = c.secret

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Plaid-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w: %w", path, api.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var result Resp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w: %w", path, api.ErrUpstream, err)
	}

	return &result, nil
}

// parseError builds an APIError from a non-200 response.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.ErrorType != "" {
		apiErr.ErrorType = errResp.ErrorType
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.ErrorMessage = errResp.ErrorMessage
		apiErr.RequestID = errResp.RequestID
	} else {
		apiErr.ErrorMessage = strings.TrimSpace(string(body))
	}

	return apiErr
}
