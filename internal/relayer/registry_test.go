package relayer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/config"
)

// Well-formed secp256k1 test keys (throwaway, never funded).
var testKeys = []string{
	"0000000000000000000000000000000000000000000000000000000000000001",
	"0000000000000000000000000000000000000000000000000000000000000002",
}

// stubFetcher returns configurable balances and counts calls.
type stubFetcher struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	err      error
	calls    atomic.Int32
	block    chan struct{} // when set, GetBalance waits until closed
}

func (f *stubFetcher) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.err
}

func (f *stubFetcher) set(balance decimal.Decimal, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance, f.err = balance, err
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *tickClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestCredentials_DerivedOnceAndCached tests lazy one-time derivation.
func TestCredentials_DerivedOnceAndCached(t *testing.T) {
	r := NewRegistry(testKeys, &stubFetcher{}, time.Second)

	first, err := r.Credentials()
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "relayer-1", first[0].Label)
	assert.Equal(t, "T", first[0].Address[:1])
	assert.NotEqual(t, first[0].Address, first[1].Address)

	second, err := r.Credentials()
	require.NoError(t, err)
	// Same backing slice - derivation happened once.
	assert.Equal(t, &first[0], &second[0])
}

// TestCredentials_BadKeyFailsFast tests that an unparseable key fails the
// whole call instead of being silently skipped.
func TestCredentials_BadKeyFailsFast(t *testing.T) {
	r := NewRegistry([]string{testKeys[0], "not-a-key"}, &stubFetcher{}, time.Second)

	_, err := r.Credentials()
	require.Error(t, err)

	var ce *config.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "key 2")
}

// TestCredentials_EmptyConfig tests the no-keys configuration error.
func TestCredentials_EmptyConfig(t *testing.T) {
	r := NewRegistry(nil, &stubFetcher{}, time.Second)

	_, err := r.Credentials()
	var ce *config.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

// TestBalances_TTLCache tests that calls within the TTL window are served
// from cache without network I/O.
func TestBalances_TTLCache(t *testing.T) {
	clock := &tickClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{}
	fetcher.set(decimal.NewFromInt(1000), nil)

	r := NewRegistry(testKeys, fetcher, 5*time.Second, WithRegistryClock(clock.Now))
	ctx := context.Background()

	snaps, err := r.Balances(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, int32(2), fetcher.calls.Load(), "one fetch per relayer")

	// Inside the TTL: cache hit, no new calls.
	clock.Advance(4 * time.Second)
	_, err = r.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())

	// Past the TTL: refresh.
	clock.Advance(2 * time.Second)
	_, err = r.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(4), fetcher.calls.Load())
}

// TestBalances_SingleFlight tests that concurrent callers share one
// refresh instead of fanning out redundant RPC.
func TestBalances_SingleFlight(t *testing.T) {
	fetcher := &stubFetcher{block: make(chan struct{})}
	fetcher.set(decimal.NewFromInt(500), nil)

	r := NewRegistry(testKeys, fetcher, time.Minute)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = r.Balances(ctx)
		}(i)
	}

	// Let the goroutines pile up on the in-flight refresh, then unblock.
	time.Sleep(20 * time.Millisecond)
	close(fetcher.block)
	wg.Wait()

	for i, err := range results {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(2), fetcher.calls.Load(), "exactly one fan-out for all callers")
}

// TestBalances_FailedRefreshPropagatesAndClears tests that a failed
// refresh reaches all waiters, keeps the prior snapshot, and clears the
// in-flight marker so the next call retries.
func TestBalances_FailedRefreshPropagatesAndClears(t *testing.T) {
	clock := &tickClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{}
	fetcher.set(decimal.NewFromInt(900), nil)

	r := NewRegistry(testKeys, fetcher, time.Second, WithRegistryClock(clock.Now))
	ctx := context.Background()

	_, err := r.Balances(ctx)
	require.NoError(t, err)

	// Expire the cache and make the next refresh fail.
	clock.Advance(2 * time.Second)
	boom := errors.New("node unreachable")
	fetcher.set(decimal.Zero, boom)

	_, err = r.Balances(ctx)
	require.ErrorIs(t, err, boom)

	// Previous snapshot survives for fallback.
	cached, ok := r.CachedBalances()
	require.True(t, ok)
	assert.True(t, cached[0].Balance.Equal(decimal.NewFromInt(900)))

	// In-flight marker cleared: a recovered fetcher succeeds.
	fetcher.set(decimal.NewFromInt(901), nil)
	snaps, err := r.Balances(ctx)
	require.NoError(t, err)
	assert.True(t, snaps[0].Balance.Equal(decimal.NewFromInt(901)))
}

// TestInvalidate_DropsBothCaches tests wholesale invalidation.
func TestInvalidate_DropsBothCaches(t *testing.T) {
	fetcher := &stubFetcher{}
	fetcher.set(decimal.NewFromInt(1), nil)

	r := NewRegistry(testKeys, fetcher, time.Minute)
	ctx := context.Background()

	_, err := r.Balances(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), fetcher.calls.Load())

	r.Invalidate()

	_, ok := r.CachedBalances()
	assert.False(t, ok)

	_, err = r.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(4), fetcher.calls.Load(), "invalidate forces a refetch")
}
