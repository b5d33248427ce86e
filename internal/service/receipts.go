package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ArionMiles/finsync/pkg/api"
)

// MaxReceiptBytes caps the size of a submitted receipt image.
const MaxReceiptBytes = 10 << 20

// ErrExtractionDisabled is returned when no extractor is configured.
var ErrExtractionDisabled = fmt.Errorf("receipt extraction is not configured: %w", api.ErrUpstream)

// Submission is the payload of SubmitReceipt. Match is nil when the
// receipt lacked a date or total, or when matching failed.
type Submission struct {
	Receipt api.Receipt       `json:"receipt"`
	Match   *api.MatchOutcome `json:"match,omitempty"`
}

// SubmitReceipt extracts a receipt from an image, categorizes its line
// items, stores it and tries to match it. A failed match never fails the
// submission.
func (s *Service) SubmitReceipt(ctx context.Context, userID string, image []byte, mimeType string) Result {
	if err := requireUser(userID); err != nil {
		return fail(err, nil)
	}
	if len(image) == 0 {
		return fail(fmt.Errorf("receipt image is empty: %w", api.ErrInvalidArgument), nil)
	}
	if len(image) > MaxReceiptBytes {
		return fail(fmt.Errorf("receipt image exceeds %d bytes: %w", MaxReceiptBytes, api.ErrInvalidArgument), nil)
	}
	if s.extractor == nil {
		return fail(ErrExtractionDisabled, nil)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	receiptID := s.cfg.NewID()
	logger := s.logger.With("user_id", userID, "receipt_id", receiptID)

	var imageURI string
	if s.images != nil {
		uri, err := s.images.Put(ctx, userID, receiptID, image, mimeType)
		if err != nil {
			logger.Warn("could not archive receipt image", "error", err)
		} else {
			imageURI = uri
		}
	}

	extraction, err := s.extractor.Extract(ctx, image, mimeType)
	if err != nil {
		logger.Error("receipt extraction failed", "error", err)
		if !errors.Is(err, api.ErrUpstream) && !errors.Is(err, api.ErrInvalidArgument) {
			err = fmt.Errorf("%w: %w", api.ErrUpstream, err)
		}
		return fail(fmt.Errorf("extracting receipt: %w", err), nil)
	}

	receipt := api.Receipt{
		ReceiptID:       receiptID,
		UserID:          userID,
		VendorName:      extraction.VendorName,
		TransactionDate: extraction.TransactionDate,
		TotalAmount:     extraction.TotalAmount,
		CurrencyCode:    extraction.CurrencyCode,
		LineItems:       s.categorize(ctx, extraction.LineItems),
		Status:          api.ReceiptProcessed,
		ImageURI:        imageURI,
		CreatedAt:       s.cfg.Now().UTC(),
	}
	if receipt.CurrencyCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*receipt.CurrencyCode))
		receipt.CurrencyCode = &code
	}

	if err := s.store.CreateReceipt(ctx, receipt); err != nil {
		return fail(fmt.Errorf("saving receipt: %w", err), nil)
	}
	logger.Info("receipt stored", "line_items", len(receipt.LineItems))

	out := Submission{Receipt: receipt}
	if receipt.TransactionDate == nil || receipt.TotalAmount == nil {
		logger.Info("receipt lacks date or total, skipping match")
		return ok(out)
	}

	mctx, cancel := withTimeout(ctx, s.cfg.MatchTimeout)
	defer cancel()

	outcome, err := s.matcher.Match(mctx, receipt)
	if err != nil {
		logger.Warn("matching submitted receipt failed", "error", err)
		return ok(out)
	}
	out.Match = &outcome
	if outcome.Kind == api.MatchLinked {
		txnID := outcome.TransactionID
		out.Receipt.Status = api.ReceiptMatched
		out.Receipt.MatchedTransactionID = &txnID
	}
	return ok(out)
}

// categorize assigns a taxonomy label to each line item. A failed call
// leaves that item as Other.
func (s *Service) categorize(ctx context.Context, items []api.LineItem) []api.LineItem {
	out := make([]api.LineItem, 0, len(items))
	for _, li := range items {
		desc := strings.TrimSpace(li.Description)
		if desc == "" {
			continue
		}
		qty := li.Quantity
		if qty < 1 {
			qty = 1
		}

		category, err := s.extractor.Categorize(ctx, desc)
		if err != nil {
			s.logger.Warn("categorizing line item failed", "description", desc, "error", err)
			category = api.CategoryOther
		}

		out = append(out, api.LineItem{
			Description: desc,
			Quantity:    qty,
			Price:       li.Price,
			Category:    api.NormalizeCategory(category),
		})
	}
	return out
}
