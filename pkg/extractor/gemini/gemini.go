// Package gemini reads receipts and categorizes line items with Google's
// Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/genai"

	"github.com/ArionMiles/finsync/pkg/api"
	"github.com/ArionMiles/finsync/pkg/extractor"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("gemini: api key not configured")

// Config holds the model settings.
type Config struct {
	APIKey        string
	Model         string
	RetryAttempts uint
	RetryDelay    time.Duration
}

// generator is the part of the genai client used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements extractor.Extractor.
type Client struct {
	models generator
	model  string
	cfg    Config
	logger *slog.Logger
}

var _ extractor.Extractor = (*Client)(nil)

// New creates a Gemini client using the Gemini API backend.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return newClient(gc.Models, cfg, logger), nil
}

func newClient(models generator, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Client{
		models: models,
		model:  cfg.Model,
		cfg:    cfg,
		logger: logger.With("component", "gemini"),
	}
}

const extractPrompt = "You are a receipt parser.\n\n" +
	"Read the attached receipt image and output STRICT JSON only, a single object with these fields:\n" +
	"- \"vendor_name\": string or null\n" +
	"- \"transaction_date\": string in ISO format \"YYYY-MM-DD\", or null\n" +
	"- \"total_amount\": number or null (the final amount paid)\n" +
	"- \"currency\": ISO 4217 code such as \"USD\", or null\n" +
	"- \"line_items\": array of {\"description\": string, \"quantity\": integer, \"price\": number (unit price)}\n\n" +
	"Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n"

// Extract reads a receipt image.
func (c *Client) Extract(ctx context.Context, image []byte, mimeType string) (*extractor.Extraction, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty receipt image: %w", api.ErrInvalidArgument)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: extractPrompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
		},
	}}

	text, err := c.generate(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}

	out, err := extractor.DecodeReceipt(text)
	if err != nil {
		c.logger.Error("model returned malformed receipt", "error", err, "response", text)
		return nil, fmt.Errorf("%w: %w", api.ErrUpstream, err)
	}

	c.logger.Debug("receipt extracted", "line_items", len(out.LineItems), "has_total", out.TotalAmount != nil)
	return out, nil
}

// Categorize asks the model for one taxonomy label and normalizes the answer
// into the taxonomy.
func (c *Client) Categorize(ctx context.Context, description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return api.CategoryOther, nil
	}

	prompt := "Classify this receipt line item into exactly one category from the list below.\n" +
		"Prefer the most specific \"Parent > Child\" label. Answer with the label only.\n\n" +
		"Categories:\n- " + strings.Join(api.CategoryLabels(), "\n- ") + "\n\n" +
		"Item: " + description + "\n"

	text, err := c.generate(ctx, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)})
	if err != nil {
		return "", fmt.Errorf("categorizing %q: %w", description, err)
	}

	label := strings.Trim(strings.TrimSpace(text), "`\"'.")
	if i := strings.IndexByte(label, '\n'); i != -1 {
		label = strings.TrimSpace(label[:i])
	}
	return api.NormalizeCategory(label), nil
}

func (c *Client) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	var text string
	err := retry.Do(
		func() error {
			resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
				Temperature: genai.Ptr[float32](0),
			})
			if err != nil {
				return err
			}
			text = resp.Text()
			if strings.TrimSpace(text) == "" {
				return errors.New("empty response from model")
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.RetryAttempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying model call", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", api.ErrUpstream, err)
	}
	return text, nil
}

func isRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return false
}
