package testutil

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/chain"
)

// DeterministicKeys returns n well-known secp256k1 private keys in hex.
// The scalars 1..n are all valid curve points, which keeps the derived
// addresses stable across runs.
func DeterministicKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%064x", i+1)
	}
	return keys
}

// TronAddress derives the base58check Tron address for a hex private key.
func TronAddress(t *testing.T, hexKey string) string {
	t.Helper()
	key, err := crypto.HexToECDSA(hexKey)
	require.NoError(t, err)
	return chain.TronAddressFromKey(key)
}
