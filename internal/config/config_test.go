package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
database_path: /var/lib/meridian/meridian.db
source_rpc_url: https://mainnet.example.org
source_chain_id: 1
destination_rpc_url: https://api.trongrid.io
signer_url: http://signer.internal:8200
token_contract: TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t
relayer_keys: "aa11,bb22"
balance_cache_ttl: 10s
mutex_ttl: 45s
retry:
  attempts: 7
  base_delay: 250ms
  max_delay: 4s
  timeout: 2m
reserve_attempts: 5
reserve_backoff: 150ms
large_amount_threshold: "100000000000"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meridian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad_Valid tests a fully specified file.
func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/meridian/meridian.db", cfg.DatabasePath)
	assert.Equal(t, int64(1), cfg.SourceChainID)
	assert.Equal(t, 10*time.Second, cfg.BalanceCacheTTL.Std())
	assert.Equal(t, 45*time.Second, cfg.MutexTTL.Std())
	assert.Equal(t, 7, cfg.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, 2*time.Minute, cfg.Retry.Timeout.Std())
	assert.Equal(t, 5, cfg.ReserveAttempts)
	assert.Equal(t, []string{"aa11", "bb22"}, cfg.RelayerKeyList())

	threshold, ok := cfg.LargeThreshold()
	require.True(t, ok)
	assert.Equal(t, "100000000000", threshold.String())
}

// TestLoad_Defaults tests that unset optional settings get documented
// defaults.
func TestLoad_Defaults(t *testing.T) {
	minimal := `
database_path: ./m.db
source_rpc_url: https://rpc.example.org
source_chain_id: 8453
destination_rpc_url: https://api.trongrid.io
signer_url: http://signer:8200
token_contract: TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t
relayer_keys: "aa11"
`
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, DefaultMinConfirmations, cfg.MinConfirmations)
	assert.Equal(t, DefaultBalanceCacheTTL, cfg.BalanceCacheTTL.Std())
	assert.Equal(t, DefaultMutexTTL, cfg.MutexTTL.Std())
	assert.Equal(t, DefaultReserveAttempts, cfg.ReserveAttempts)
	assert.Equal(t, DefaultReserveBackoff, cfg.ReserveBackoff.Std())

	_, ok := cfg.LargeThreshold()
	assert.False(t, ok, "threshold disabled when unset")
}

// TestLoad_MissingRequired tests fail-fast on each required setting.
func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		setting string
		yaml    string
	}{
		{"database_path", `
source_rpc_url: https://rpc.example.org
source_chain_id: 1
destination_rpc_url: https://api.trongrid.io
signer_url: http://signer:8200
token_contract: TContract
relayer_keys: "aa"
`},
		{"relayer_keys", `
database_path: ./m.db
source_rpc_url: https://rpc.example.org
source_chain_id: 1
destination_rpc_url: https://api.trongrid.io
signer_url: http://signer:8200
token_contract: TContract
`},
	}

	for _, tt := range tests {
		t.Run(tt.setting, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)

			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.setting, ce.Setting)
		})
	}
}

// TestLoad_EnvOverridesKeys tests that the env var wins over the file.
func TestLoad_EnvOverridesKeys(t *testing.T) {
	t.Setenv(EnvRelayerKeys, "cc33, dd44")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"cc33", "dd44"}, cfg.RelayerKeyList())
}

// TestLoad_BadDuration tests duration parse errors.
func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
database_path: ./m.db
source_rpc_url: https://rpc.example.org
source_chain_id: 1
destination_rpc_url: https://api.trongrid.io
signer_url: http://signer:8200
token_contract: TContract
relayer_keys: "aa"
mutex_ttl: not-a-duration
`))
	require.Error(t, err)
	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

// TestLoad_MissingFile tests the file-not-found path.
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
}

// TestLoad_BadThreshold tests large_amount_threshold validation.
func TestLoad_BadThreshold(t *testing.T) {
	_, err := Load(writeConfig(t, `
database_path: ./m.db
source_rpc_url: https://rpc.example.org
source_chain_id: 1
destination_rpc_url: https://api.trongrid.io
signer_url: http://signer:8200
token_contract: TContract
relayer_keys: "aa"
large_amount_threshold: "lots"
`))
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "large_amount_threshold", ce.Setting)
}
