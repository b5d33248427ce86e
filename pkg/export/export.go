// Package export writes synced transactions to local files.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ArionMiles/finsync/pkg/api"
)

// Output formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Writer writes a batch of transactions to its destination.
type Writer interface {
	Write(ctx context.Context, transactions []api.Transaction) error
	Close() error
}

// New creates a writer for format at path.
func New(format, path string, logger *slog.Logger) (Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("export path is required: %w", api.ErrInvalidArgument)
	}

	switch strings.ToLower(format) {
	case FormatCSV:
		return NewCSV(path, logger.With("component", "csv_export"))
	case FormatJSON:
		return NewJSON(path, logger.With("component", "json_export"))
	default:
		return nil, fmt.Errorf("unknown export format %q: %w", format, api.ErrInvalidArgument)
	}
}
