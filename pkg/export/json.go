package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/ArionMiles/finsync/pkg/api"
)

// JSONWriter keeps a JSON array file of transactions keyed by transaction
// id. Re-exporting a transaction replaces its earlier entry.
type JSONWriter struct {
	filePath     string
	transactions map[string]api.Transaction
	mu           sync.Mutex
	logger       *slog.Logger
}

// NewJSON creates a JSON writer, loading any transactions already in path.
func NewJSON(path string, logger *slog.Logger) (*JSONWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	w := &JSONWriter{
		filePath:     path,
		transactions: make(map[string]api.Transaction),
		logger:       logger,
	}

	if err := w.loadExisting(); err != nil {
		return nil, fmt.Errorf("loading existing export: %w", err)
	}

	return w, nil
}

func (w *JSONWriter) loadExisting() error {
	data, err := os.ReadFile(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if len(data) == 0 {
		return nil
	}

	var existing []api.Transaction
	if err := json.Unmarshal(data, &existing); err != nil {
		return err
	}
	for _, t := range existing {
		w.transactions[t.TransactionID] = t
	}
	return nil
}

// Write merges transactions and rewrites the file, newest first.
func (w *JSONWriter) Write(ctx context.Context, transactions []api.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range transactions {
		w.transactions[t.TransactionID] = t
	}

	out := make([]api.Transaction, 0, len(w.transactions))
	for _, t := range w.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].TransactionID < out[j].TransactionID
	})

	// JSON arrays cannot be appended to, so the whole file is rewritten.
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	if err := os.WriteFile(w.filePath, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}

	w.logger.Debug("wrote transactions to json",
		"batch_count", len(transactions),
		"total_count", len(out),
	)
	return nil
}

// Count returns the number of distinct transactions in the export.
func (w *JSONWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.transactions)
}

// Close is a no-op; every Write leaves the file complete.
func (w *JSONWriter) Close() error { return nil }
