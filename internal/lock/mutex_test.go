package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/store"
)

func createTestMutex(t *testing.T) *StoreMutex {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "lock-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewStoreMutex(s)
}

// TestStoreMutex_AcquireRelease tests the token round-trip.
func TestStoreMutex_AcquireRelease(t *testing.T) {
	m := createTestMutex(t)
	ctx := context.Background()

	token, ok, err := m.Acquire(ctx, RelayerKey("TAlpha"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// Second acquire is contention, not an error.
	other, ok, err := m.Acquire(ctx, RelayerKey("TAlpha"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, other)

	released, err := m.Release(ctx, RelayerKey("TAlpha"), token)
	require.NoError(t, err)
	assert.True(t, released)

	_, ok, err = m.Acquire(ctx, RelayerKey("TAlpha"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestStoreMutex_TokensAreUnique tests that every acquisition gets a fresh
// owner token.
func TestStoreMutex_TokensAreUnique(t *testing.T) {
	m := createTestMutex(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		token, ok, err := m.Acquire(ctx, RelayerKey("TBeta"), time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, seen[token], "token reused: %s", token)
		seen[token] = true

		_, err = m.Release(ctx, RelayerKey("TBeta"), token)
		require.NoError(t, err)
	}
}

func TestRelayerKey(t *testing.T) {
	assert.Equal(t, "relayer:TAlpha", RelayerKey("TAlpha"))
}
