package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newSyncCmd(logger *slog.Logger) *cobra.Command {
	var userID, itemID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one user's linked accounts once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if itemID != "" {
				return printResult(cmd.OutOrStdout(), a.service.SyncAccount(cmd.Context(), userID, itemID))
			}
			return printResult(cmd.OutOrStdout(), a.service.SyncAllAccounts(cmd.Context(), userID))
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id whose accounts are synced")
	cmd.Flags().StringVar(&itemID, "item", "", "sync only this item")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
