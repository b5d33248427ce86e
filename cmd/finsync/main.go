// Command finsync links bank accounts, syncs their transactions and
// reconciles receipts against them.
//
// Commands:
//
//	serve     Run the HTTP API and the scheduled sync
//	sync      Sync one user's accounts once
//	match     Match one stored receipt
//	status    Check configuration and store connectivity
//	export    Write synced transactions to a CSV or JSON file
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/finsync/pkg/logging"
)

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "finsync",
		Short:         "Bank transaction sync and receipt reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(logger),
		newSyncCmd(logger),
		newMatchCmd(logger),
		newStatusCmd(logger),
		newExportCmd(logger),
	)

	return root
}
