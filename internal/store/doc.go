// Package store provides SQLite-backed durable storage for settlement
// state. It is the single source of truth the orchestrator, the reservation
// ledger and the admin surfaces all read from.
//
// The store holds four things:
//   - Settlement records: one row per order id, created once, merged
//     monotonically, never deleted (audit trail)
//   - The settlement_ids set: every order id ever seen, for enumeration
//   - The active_reservations index: order ids that may hold an unreleased
//     liquidity reservation (re-validated against the record on read)
//   - The locks table: atomic set-if-absent / compare-and-delete entries
//     backing the distributed per-relayer mutex
//
// # Merge discipline
//
// All record mutation goes through Upsert/TransitionStatus. Unset patch
// fields keep their previous values, CreatedAt is preserved, UpdatedAt is
// always refreshed, and a terminal status (completed/failed) is sticky:
// TransitionStatus silently drops the status field of a patch against a
// terminal record while still merging the remaining fields.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The connection pool is limited to a single connection so SQLite's one
// writer rule cannot surface as SQLITE_BUSY mid-transaction.
package store
