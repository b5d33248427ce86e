package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/finsync/internal/query"
	"github.com/ArionMiles/finsync/pkg/api"
	"github.com/ArionMiles/finsync/pkg/export"
)

func newExportCmd(logger *slog.Logger) *cobra.Command {
	var userID, format, output, period string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's synced transactions to a CSV or JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, ok := query.ResolvePeriod(period, time.Now())
			if !ok {
				return fmt.Errorf("unknown period %q: %w", period, api.ErrInvalidArgument)
			}

			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			transactions, err := a.store.ListTransactions(cmd.Context(), userID, api.TransactionFilter{From: r.From, To: r.To})
			if err != nil {
				return fmt.Errorf("listing transactions: %w", err)
			}

			w, err := export.New(format, output, logger)
			if err != nil {
				return err
			}
			if err := w.Write(cmd.Context(), transactions); err != nil {
				_ = w.Close()
				return fmt.Errorf("exporting transactions: %w", err)
			}
			if err := w.Close(); err != nil {
				return err
			}

			logger.Info("transactions exported", "user_id", userID, "count", len(transactions), "file", output, "period", r.Label)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id whose transactions are exported")
	cmd.Flags().StringVar(&format, "format", export.FormatCSV, "csv or json")
	cmd.Flags().StringVar(&output, "output", "transactions.csv", "output file")
	cmd.Flags().StringVar(&period, "period", "all_time", "period name, for example last_month")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
