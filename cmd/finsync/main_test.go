package main

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/finsync/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, service.Result{Success: true, Data: map[string]int{"added": 2}}))
	assert.Contains(t, buf.String(), `"success": true`)
	assert.Contains(t, buf.String(), `"added": 2`)

	buf.Reset()
	err := printResult(&buf, service.Result{Error: &service.ErrorBody{Code: "not_found", Message: "receipt r1: not found"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, buf.String(), `"code": "not_found"`)
}

func TestRunStatus_MemoryStore(t *testing.T) {
	t.Setenv("FINSYNC_STORE", "memory")
	t.Setenv("PLAID_CLIENT_ID", "client")
	t.Setenv("PLAID_SECRET", "secret")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("RECEIPTS_BUCKET", "")
	t.Setenv("SYNC_INTERVAL_SECONDS", "300")

	var buf bytes.Buffer
	require.NoError(t, runStatus(t.Context(), &buf, "", quietLogger()))

	out := buf.String()
	assert.Contains(t, out, "Configuration: ✓ Valid")
	assert.Contains(t, out, "Store (memory): ✓ Reachable")
	assert.Contains(t, out, "Receipt extraction: disabled")
	assert.Contains(t, out, "Scheduled sync: every 5m0s")
	assert.Contains(t, out, "All Checks Passed")
}

func TestRunStatus_InvalidConfig(t *testing.T) {
	t.Setenv("FINSYNC_STORE", "memory")
	t.Setenv("PLAID_CLIENT_ID", "")
	t.Setenv("PLAID_SECRET", "")

	var buf bytes.Buffer
	err := runStatus(t.Context(), &buf, "", quietLogger())
	require.Error(t, err)
	assert.Contains(t, buf.String(), "PLAID_CLIENT_ID and PLAID_SECRET are required")
	assert.Contains(t, buf.String(), "Issues Found")
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd(quietLogger())

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "sync", "match", "status", "export"})
}
