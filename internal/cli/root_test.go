package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/store"
	"github.com/meridianlabs/meridian/internal/testutil"
)

// runCommand executes the CLI with the given args and captures output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a minimal valid config into dir and returns its
// path. The RPC endpoints point nowhere; read-only commands never dial
// them.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := fmt.Sprintf(`database_path: %s
source_rpc_url: http://127.0.0.1:8545
source_chain_id: 8453
destination_rpc_url: http://127.0.0.1:8090
signer_url: http://127.0.0.1:9090
token_contract: TEkxiTehnzSmSe2XqrBj4w32RUN966rdz8
relayer_keys: "%s"
`, filepath.Join(dir, "meridian.db"), testutil.DeterministicKeys(1)[0])

	path := filepath.Join(dir, "meridian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// seedRecord inserts one settlement record into the configured database.
func seedRecord(t *testing.T, dir, orderID string) {
	t.Helper()
	st, err := store.Open(filepath.Join(dir, "meridian.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Upsert(context.Background(), model.RecordPatch{
		OrderID:          orderID,
		SourceToken:      model.Ptr("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		Amount:           model.Ptr(decimal.NewFromInt(250)),
		RecipientAddress: model.Ptr("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
		SourceTxHash:     model.Ptr("0xsrc-" + orderID),
	})
	require.NoError(t, err)
}

// TestRoot_InvalidFormat rejects unknown output formats before any
// command logic runs.
func TestRoot_InvalidFormat(t *testing.T) {
	_, err := runCommand(t, "--format", "xml", "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

// TestStatus_NotFound exits with the failure code and an error envelope
// for unknown orders.
func TestStatus_NotFound(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out, err := runCommand(t, "--config", cfg, "--format", "json", "status", "order-missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "order-missing", resp.Error.OrderID)
}

// TestStatus_ShowsRecord renders the seeded record in text form.
func TestStatus_ShowsRecord(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	seedRecord(t, dir, "order-1")

	out, err := runCommand(t, "--config", cfg, "status", "order-1")
	require.NoError(t, err)
	assert.Contains(t, out, "order-1")
	assert.Contains(t, out, "relaying")
	assert.Contains(t, out, "250")
}

// TestOrders_ListsIDs returns the seeded ids in the JSON envelope.
func TestOrders_ListsIDs(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	seedRecord(t, dir, "order-b")
	seedRecord(t, dir, "order-a")

	out, err := runCommand(t, "--config", cfg, "--format", "json", "orders")
	require.NoError(t, err)

	var resp struct {
		Status string   `json:"status"`
		Data   []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"order-a", "order-b"}, resp.Data)
}

// TestReservations_Empty reports an empty pool in text form.
func TestReservations_Empty(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out, err := runCommand(t, "--config", cfg, "reservations")
	require.NoError(t, err)
	assert.Contains(t, out, "no active reservations")
}

// TestSettle_BadSummaryPath exits with the command-error code before
// touching config or network.
func TestSettle_BadSummaryPath(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	_, err := runCommand(t, "--config", cfg, "settle", filepath.Join(dir, "nope.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// TestSettle_RejectsSummaryWithoutOrderID validates the summary shape
// before wiring anything up.
func TestSettle_RejectsSummaryWithoutOrderID(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	path := filepath.Join(dir, "summary.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"amount":"100"}`), 0o600))

	_, err := runCommand(t, "--config", cfg, "settle", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "order_id")
}
