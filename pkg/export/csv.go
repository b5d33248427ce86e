package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ArionMiles/finsync/pkg/api"
)

var csvHeaders = []string{
	"TransactionID", "Date", "Merchant", "Amount", "Currency", "Category", "Pending", "ReceiptID",
}

// CSVWriter appends transactions to a CSV file.
type CSVWriter struct {
	filePath string
	file     *os.File
	writer   *csv.Writer
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewCSV opens path for appending and writes the header row if the file is empty.
func NewCSV(path string, logger *slog.Logger) (*CSVWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}

	w := &CSVWriter{
		filePath: path,
		file:     file,
		writer:   csv.NewWriter(file),
		logger:   logger,
	}

	stat, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return nil, fmt.Errorf("stat csv file: %w (close error: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	if stat.Size() == 0 {
		if err := w.writeRow(csvHeaders); err != nil {
			if closeErr := file.Close(); closeErr != nil {
				return nil, fmt.Errorf("writing headers: %w (close error: %w)", err, closeErr)
			}
			return nil, fmt.Errorf("writing headers: %w", err)
		}
	}

	return w, nil
}

func (w *CSVWriter) writeRow(row []string) error {
	if err := w.writer.Write(row); err != nil {
		return err
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Write appends one row per transaction.
func (w *CSVWriter) Write(ctx context.Context, transactions []api.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		receiptID := ""
		if t.LinkedReceiptID != nil {
			receiptID = *t.LinkedReceiptID
		}
		record := []string{
			t.TransactionID,
			t.Date.UTC().Format(time.DateOnly),
			t.MerchantName,
			t.Amount.StringFixed(2),
			t.CurrencyCode,
			t.PrimaryCategory(),
			strconv.FormatBool(t.Pending),
			receiptID,
		}
		if err := w.writer.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	w.logger.Debug("wrote transactions to csv", "count", len(transactions))
	return nil
}

// Close closes the CSV file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}

	w.logger.Info("csv export closed", "file", w.filePath)
	return nil
}
