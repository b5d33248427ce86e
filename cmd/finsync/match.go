package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newMatchCmd(logger *slog.Logger) *cobra.Command {
	var userID, receiptID string

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match a stored receipt against synced transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return printResult(cmd.OutOrStdout(), a.service.MatchReceipt(cmd.Context(), userID, receiptID))
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner of the receipt")
	cmd.Flags().StringVar(&receiptID, "receipt", "", "receipt id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("receipt")

	return cmd
}
