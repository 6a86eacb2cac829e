// Package relayer manages the pool of destination-ledger payout accounts:
// their credentials, a TTL-bounded view of their on-ledger balances, the
// reservation ledger that turns raw balances into available balances, and
// the pure selection function that picks a relayer for a settlement.
package relayer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/chain"
	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/model"
)

// BalanceFetcher is the one destination-ledger call the registry needs.
// chain.DestinationClient satisfies it.
type BalanceFetcher interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// refresh is one in-flight balance fetch, shared by every caller that
// arrives while it runs.
type refresh struct {
	done  chan struct{}
	snaps []model.BalanceSnapshot
	err   error
}

// Registry derives relayer credentials from configured private keys and
// caches their on-ledger balances.
//
// Credentials are derived lazily once and held for the process lifetime;
// Invalidate drops both caches wholesale. Balance refreshes are
// single-flight: concurrent callers inside a refresh await and share it
// instead of issuing redundant RPC, and the in-flight marker clears even
// when the refresh fails so the next caller can retry.
type Registry struct {
	keys    []string
	fetcher BalanceFetcher
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	creds     []model.RelayerCredential
	snapshot  []model.BalanceSnapshot
	fetchedAt time.Time
	pending   *refresh
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the wall clock used for TTL checks.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry over the configured hex private keys.
// Keys are not parsed until first use.
func NewRegistry(keys []string, fetcher BalanceFetcher, ttl time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		keys:    keys,
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Credentials returns all configured relayer credentials, deriving and
// caching them on first call. A key that cannot be parsed into a valid
// destination-ledger identity fails the whole call with a
// ConfigurationError - bad credentials are never silently skipped.
func (r *Registry) Credentials() ([]model.RelayerCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.creds != nil {
		return r.creds, nil
	}
	if len(r.keys) == 0 {
		return nil, &config.ConfigurationError{Setting: "relayer_keys", Message: "no relayer keys configured"}
	}

	creds := make([]model.RelayerCredential, 0, len(r.keys))
	for i, hexKey := range r.keys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, &config.ConfigurationError{
				Setting: "relayer_keys",
				Message: fmt.Sprintf("key %d is not a valid secp256k1 private key", i+1),
				Err:     err,
			}
		}
		creds = append(creds, model.RelayerCredential{
			Address:    chain.TronAddressFromKey(key),
			Label:      fmt.Sprintf("relayer-%d", i+1),
			PrivateKey: key,
		})
	}

	r.creds = creds
	return creds, nil
}

// CredentialByAddress finds the credential for a relayer address.
func (r *Registry) CredentialByAddress(address string) (model.RelayerCredential, error) {
	creds, err := r.Credentials()
	if err != nil {
		return model.RelayerCredential{}, err
	}
	for _, c := range creds {
		if c.Address == address {
			return c, nil
		}
	}
	return model.RelayerCredential{}, &config.ConfigurationError{
		Setting: "relayer_keys",
		Message: fmt.Sprintf("no credential for relayer %s", address),
	}
}

// Balances returns a balance snapshot per relayer.
//
// A snapshot younger than the TTL is served from cache with no network
// I/O. Otherwise one fan-out fetch runs; callers arriving during it share
// its outcome. A failed refresh propagates its error to all waiters and
// leaves the previous snapshot untouched for CachedBalances fallback.
func (r *Registry) Balances(ctx context.Context) ([]model.BalanceSnapshot, error) {
	creds, err := r.Credentials()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.snapshot != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		snaps := r.snapshot
		r.mu.Unlock()
		return snaps, nil
	}
	if r.pending != nil {
		call := r.pending
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.snaps, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refresh{done: make(chan struct{})}
	r.pending = call
	r.mu.Unlock()

	snaps, err := r.fetchAll(ctx, creds)

	r.mu.Lock()
	r.pending = nil // cleared on failure too, so the next call retries
	if err == nil {
		r.snapshot = snaps
		r.fetchedAt = r.now()
	}
	r.mu.Unlock()

	call.snaps, call.err = snaps, err
	close(call.done)
	return snaps, err
}

// CachedBalances returns the last successful snapshot regardless of age.
// Callers decide whether a stale view is acceptable.
func (r *Registry) CachedBalances() ([]model.BalanceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot, r.snapshot != nil
}

// Invalidate drops the credential and balance caches wholesale. Called
// when configuration changes; caches rebuild on next use.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds = nil
	r.snapshot = nil
	r.fetchedAt = time.Time{}
}

// fetchAll fans out one balance fetch per relayer. The first error fails
// the whole refresh - a partial snapshot would silently hide relayers from
// selection.
func (r *Registry) fetchAll(ctx context.Context, creds []model.RelayerCredential) ([]model.BalanceSnapshot, error) {
	snaps := make([]model.BalanceSnapshot, len(creds))
	errs := make([]error, len(creds))

	var wg sync.WaitGroup
	for i, cred := range creds {
		wg.Add(1)
		go func(i int, cred model.RelayerCredential) {
			defer wg.Done()
			balance, err := r.fetcher.GetBalance(ctx, cred.Address)
			if err != nil {
				errs[i] = fmt.Errorf("balance of %s (%s): %w", cred.Label, cred.Address, err)
				return
			}
			snaps[i] = model.BalanceSnapshot{
				Address:   cred.Address,
				Label:     cred.Label,
				Balance:   balance,
				FetchedAt: r.now(),
			}
		}(i, cred)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return snaps, nil
}
