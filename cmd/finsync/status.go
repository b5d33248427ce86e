package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/ArionMiles/finsync/pkg/config"
)

func newStatusCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration and store connectivity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), configPath(), logger)
		},
	}
}

// runStatus prints one line per check and fails if any check failed.
func runStatus(ctx context.Context, w io.Writer, path string, logger *slog.Logger) error {
	fmt.Fprintln(w, "=== Finsync Status ===")
	fmt.Fprintln(w)

	allGood := true

	cfg, err := config.Load(koanf.New("."), path)
	if err != nil {
		fmt.Fprintf(w, "Configuration: ✗ %v\n", err)
		return printFinalStatus(w, false)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "Configuration: ✗ %v\n", err)
		allGood = false
	} else {
		fmt.Fprintln(w, "Configuration: ✓ Valid")
	}

	fmt.Fprintf(w, "Store (%s): ", cfg.Store)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, closeStore, err := openStore(pingCtx, cfg, logger)
	if err != nil {
		fmt.Fprintf(w, "✗ %v\n", err)
		allGood = false
	} else {
		if err := store.Ping(pingCtx); err != nil {
			fmt.Fprintf(w, "✗ %v\n", err)
			allGood = false
		} else {
			fmt.Fprintln(w, "✓ Reachable")
		}
		closeStore()
	}

	fmt.Fprintf(w, "Receipt extraction: %s\n", enabled(cfg.GeminiAPIKey != ""))
	fmt.Fprintf(w, "Receipt archive: %s\n", enabled(cfg.ReceiptsBucket != ""))
	if cfg.SyncIntervalSeconds > 0 {
		fmt.Fprintf(w, "Scheduled sync: every %s\n", cfg.SyncInterval())
	} else {
		fmt.Fprintln(w, "Scheduled sync: disabled")
	}

	return printFinalStatus(w, allGood)
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func printFinalStatus(w io.Writer, allGood bool) error {
	fmt.Fprintln(w)
	if !allGood {
		fmt.Fprintln(w, "=== Issues Found ===")
		return fmt.Errorf("status checks failed")
	}
	fmt.Fprintln(w, "=== All Checks Passed ===")
	return nil
}
