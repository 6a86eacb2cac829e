package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock attempts to take the lock entry for key with the supplied
// owner token, expiring after ttl.
//
// The whole attempt is a single atomic statement: insert-if-absent, with a
// conditional takeover of an expired entry. Two concurrent callers can
// never both succeed against a live lock - SQLite executes the statement
// under its own write lock, so there is no read-then-write window.
//
// Returns true if the lock is now held by token.
func (s *Store) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (key, token, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE
		SET token = excluded.token, expires_at = excluded.expires_at
		WHERE locks.expires_at <= ?
	`,
		key,
		token,
		now.Add(ttl).UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: rows affected: %w", key, err)
	}
	return affected > 0, nil
}

// ReleaseLock deletes the lock entry for key only if it is still owned by
// token (compare-and-delete in one statement). Releasing with a stale or
// mismatched token is a no-op, so an expired-and-reacquired lock can never
// be removed by its previous holder.
//
// Returns true if an entry was deleted.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE key = ? AND token = ?`, key, token)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock %s: rows affected: %w", key, err)
	}
	return affected > 0, nil
}
