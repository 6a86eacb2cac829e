// Package lock provides the distributed per-relayer mutex that serializes
// the balance-check-then-reserve critical section across concurrent
// settlement attempts.
//
// The mutex is deliberately thin: all atomicity lives in the backing
// store's single-statement acquire (set-if-absent, with takeover of
// expired entries) and compare-and-delete release. This package adds owner
// token generation and the key naming convention.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mutex is a per-resource exclusive lock with TTL-bounded exposure.
//
// Acquire returns an opaque owner token; only that token can release the
// lock. A holder that crashes simply stops renewing - after the TTL the
// entry becomes acquirable again, which bounds how long a dead holder can
// stall other settlements.
type Mutex interface {
	// Acquire attempts to take the lock for key, expiring after ttl.
	// Returns (token, true) on success or ("", false) when the key is
	// already held. Contention is not an error.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release deletes the lock only if still owned by token. Releasing
	// with a stale token, or after expiry and re-acquisition by another
	// owner, is a no-op. Returns whether an entry was removed.
	Release(ctx context.Context, key, token string) (bool, error)
}

// LockStore is the storage contract the mutex needs: atomic
// set-if-absent-or-expired and compare-and-delete. *store.Store satisfies
// it.
type LockStore interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

// StoreMutex implements Mutex over a LockStore with UUIDv7 owner tokens.
type StoreMutex struct {
	store LockStore
}

// NewStoreMutex creates a mutex backed by the given store.
func NewStoreMutex(s LockStore) *StoreMutex {
	return &StoreMutex{store: s}
}

// Acquire implements Mutex.
func (m *StoreMutex) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.Must(uuid.NewV7()).String()
	ok, err := m.store.AcquireLock(ctx, key, token, ttl)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release implements Mutex.
func (m *StoreMutex) Release(ctx context.Context, key, token string) (bool, error) {
	return m.store.ReleaseLock(ctx, key, token)
}

// RelayerKey names the lock resource for one relayer address.
func RelayerKey(address string) string {
	return "relayer:" + address
}
