// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/event persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Per-identity-pair write serialization. Two handshakes for the same
	// (user, device) pair must not interleave their deactivate+upsert
	// sequences, or both rows could end up active.
	pairMu sync.Mutex
	pairs  map[string]*sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		pairs:  make(map[string]*sync.Mutex),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			key               TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			device_id         TEXT NOT NULL,
			workspace_id      TEXT NOT NULL,
			workspace_path    TEXT NOT NULL,
			is_active         INTEGER NOT NULL DEFAULT 1,
			created_at        TEXT NOT NULL,
			last_activated_at TEXT NOT NULL,
			deactivated_at    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_device
			ON sessions(device_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_sessions_pair_active
			ON sessions(user_id, device_id, is_active);

		CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			device_id   TEXT NOT NULL,
			timestamp   TEXT NOT NULL,
			type        TEXT NOT NULL,
			payload     TEXT NOT NULL,

			FOREIGN KEY (session_key) REFERENCES sessions(key)
		);

		CREATE INDEX IF NOT EXISTS idx_events_session
			ON events(session_key, timestamp, id);

		CREATE INDEX IF NOT EXISTS idx_events_session_type
			ON events(session_key, type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// pairLock returns the mutex serializing writes for one (user, device) pair
func (s *SQLiteStore) pairLock(userID, deviceID string) *sync.Mutex {
	key := userID + "\x00" + deviceID
	s.pairMu.Lock()
	defer s.pairMu.Unlock()

	mu, ok := s.pairs[key]
	if !ok {
		mu = &sync.Mutex{}
		s.pairs[key] = mu
	}
	return mu
}

// CreateOrReactivateSession activates the given session, deactivating any
// other active session for the same (user_id, device_id) pair. If a session
// with the same key already exists its created_at is preserved; otherwise a
// new row is inserted. The whole sequence runs under a per-pair lock inside
// one transaction, so at most one session per pair is active at any instant.
// Idempotent: re-running for the same session refreshes last_activated_at.
func (s *SQLiteStore) CreateOrReactivateSession(ctx context.Context, sess *Session) error {
	mu := s.pairLock(sess.UserID, sess.DeviceID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	// Deactivate every other active session for this identity pair
	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = 0, deactivated_at = ?
		WHERE user_id = ? AND device_id = ? AND key != ? AND is_active = 1
	`, now, sess.UserID, sess.DeviceID, sess.Key)
	if err != nil {
		return fmt.Errorf("deactivating sibling sessions: %w", err)
	}

	// Upsert the session itself: insert sets created_at, conflict preserves it
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (key, user_id, device_id, workspace_id, workspace_path,
			is_active, created_at, last_activated_at, deactivated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, NULL)
		ON CONFLICT(key) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			workspace_path = excluded.workspace_path,
			is_active = 1,
			last_activated_at = excluded.last_activated_at,
			deactivated_at = NULL
	`, sess.Key, sess.UserID, sess.DeviceID, sess.WorkspaceID, sess.WorkspacePath, now, now)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session activation: %w", err)
	}

	s.logger.Debug("activated session", "key", sess.Key, "user_id", sess.UserID, "device_id", sess.DeviceID)
	return nil
}

// GetSession retrieves a session by its composite key.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*Session, error) {
	query := `
		SELECT key, user_id, device_id, workspace_id, workspace_path,
			is_active, created_at, last_activated_at, deactivated_at
		FROM sessions
		WHERE key = ?
	`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	return sess, nil
}

// ListSessionsByDevice retrieves every session for a device, newest first
func (s *SQLiteStore) ListSessionsByDevice(ctx context.Context, deviceID string) ([]*Session, error) {
	query := `
		SELECT key, user_id, device_id, workspace_id, workspace_path,
			is_active, created_at, last_activated_at, deactivated_at
		FROM sessions
		WHERE device_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions by device: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// scanner covers both sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanSession reads one session row in column order
func scanSession(row scanner) (*Session, error) {
	var sess Session
	var isActive int
	var createdAtStr, lastActivatedAtStr string
	var deactivatedAtStr sql.NullString

	err := row.Scan(
		&sess.Key,
		&sess.UserID,
		&sess.DeviceID,
		&sess.WorkspaceID,
		&sess.WorkspacePath,
		&isActive,
		&createdAtStr,
		&lastActivatedAtStr,
		&deactivatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	sess.IsActive = isActive != 0

	sess.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	sess.LastActivatedAt, err = time.Parse(time.RFC3339, lastActivatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activated_at: %w", err)
	}

	if deactivatedAtStr.Valid {
		t, err := time.Parse(time.RFC3339, deactivatedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing deactivated_at: %w", err)
		}
		sess.DeactivatedAt = &t
	}

	return &sess, nil
}

// AppendEvent appends an event to the session's log and returns the
// assigned event ID. The timestamp is server-assigned at insert time
// unless the event already carries one.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *Event) (int64, error) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
		INSERT INTO events (session_key, user_id, device_id, timestamp, type, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		ev.SessionKey,
		ev.UserID,
		ev.DeviceID,
		ts.UTC().Format(time.RFC3339Nano),
		ev.Type,
		ev.Payload,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting event id: %w", err)
	}

	ev.ID = id
	ev.Timestamp = ts
	s.logger.Debug("appended event", "id", id, "session_key", ev.SessionKey, "type", ev.Type)
	return id, nil
}

// ListEvents retrieves a session's events ordered by timestamp then ID,
// which matches insertion order. Options control direction, type filter,
// and limit (0 = unbounded).
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionKey string, opts ListEventsOptions) ([]*Event, error) {
	query := `
		SELECT id, session_key, user_id, device_id, timestamp, type, payload
		FROM events
		WHERE session_key = ?
	`
	args := []any{sessionKey}

	if opts.Type != "" {
		query += " AND type = ?"
		args = append(args, opts.Type)
	}

	if opts.Descending {
		query += " ORDER BY timestamp DESC, id DESC"
	} else {
		query += " ORDER BY timestamp ASC, id ASC"
	}

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var tsStr string

		if err := rows.Scan(
			&ev.ID,
			&ev.SessionKey,
			&ev.UserID,
			&ev.DeviceID,
			&tsStr,
			&ev.Type,
			&ev.Payload,
		); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		ev.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}

		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}
