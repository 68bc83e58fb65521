// Package store provides persistent storage for the gateway using SQLite.
//
// # Overview
//
// The store tracks one session per (user_id, device_id) identity pair,
// keyed by the composite user_id + "_" + device_id, plus an append-only
// event log per session. SQLiteStore is the only implementation, built on
// modernc.org/sqlite (pure Go, no CGO).
//
// # Sessions
//
// CreateOrReactivateSession enforces the single-active-session invariant:
// activating a session deactivates any other active session for the same
// identity pair, inside one transaction serialized per pair. Reconnects
// reactivate the existing row and preserve created_at.
//
// # Events
//
// AppendEvent assigns a server-side UTC timestamp and an AUTOINCREMENT ID.
// ListEvents orders by (timestamp, id), which matches insertion order even
// when timestamps collide.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 TEXT. The schema is created
// automatically on first open.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore with a t.TempDir() path for integration tests with
// real SQLite.
package store
