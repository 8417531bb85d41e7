/*
 * internal/syncstate/syncstate.go
 *
 * Sync State Log: one row per registered kind, recording when it
 * last synced, how long that took, and whether it succeeded. Deliberately a
 * separate engine and driver from the document Store (SQLite via
 * mattn/go-sqlite3, rather than Postgres), so the startup decision rule can
 * still run even when the document store is unreachable.
 */

package syncstate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Status is one of the four states a sync state entry can be in.
type Status string

const (
	StatusNever      Status = "never"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is one row of the Sync State Log.
type Entry struct {
	Kind                  string    `db:"kind"`
	LastSyncTime          time.Time `db:"last_sync_time"`
	LastSyncDurationMs    int64     `db:"last_sync_duration_ms"`
	LastSyncCount         int       `db:"last_sync_count"`
	ResourceVersionCursor string    `db:"resource_version_cursor"`
	Status                Status    `db:"status"`
	LastError             string    `db:"last_error"`
	ReconnectCount        int       `db:"reconnect_count"`
}

// Patch is a partial update applied by Upsert; nil fields are left
// unchanged on an existing row, and on a newly created one they take the
// defaults (status never, every other field zero-valued).
type Patch struct {
	ResourceVersionCursor *string
	Status                *Status
	LastError             *string
	ReconnectCount        *int
}

// Log is the Sync State Log contract.
type Log interface {
	GetAll(ctx context.Context) ([]Entry, error)
	Upsert(ctx context.Context, kind string, patch Patch) error
	MarkInProgress(ctx context.Context, kind string) error
	MarkCompleted(ctx context.Context, kind string, durationMs int64, count int, cursor string) error
	MarkFailed(ctx context.Context, kind string, syncErr error) error
}

// SQLiteLog is the relational driver backing Log.
type SQLiteLog struct {
	db *sqlx.DB
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sync_state (
	kind                     TEXT PRIMARY KEY,
	last_sync_time           TIMESTAMP,
	last_sync_duration_ms    INTEGER NOT NULL DEFAULT 0,
	last_sync_count          INTEGER NOT NULL DEFAULT 0,
	resource_version_cursor  TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL DEFAULT 'never',
	last_error               TEXT NOT NULL DEFAULT '',
	reconnect_count          INTEGER NOT NULL DEFAULT 0
);
`

// Open creates (if absent) and opens the SQLite file at path, ensuring the
// sync_state table exists.
func Open(ctx context.Context, path string) (*SQLiteLog, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("syncstate: open %q: %w", path, err)
	}
	// Sync State must survive a document-store outage, but a single SQLite
	// file does not tolerate concurrent writers well; one connection keeps
	// every write serialized through the driver's own mutex.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("syncstate: create schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Close releases the underlying SQLite connection.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

// GetAll returns every Sync State entry, used by the Hybrid Controller's
// startup decision rule.
func (l *SQLiteLog) GetAll(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := l.db.SelectContext(ctx, &entries, `SELECT * FROM sync_state`); err != nil {
		return nil, fmt.Errorf("syncstate: get all: %w", err)
	}
	return entries, nil
}

func (l *SQLiteLog) get(ctx context.Context, kind string) (Entry, bool, error) {
	var e Entry
	err := l.db.GetContext(ctx, &e, `SELECT * FROM sync_state WHERE kind = ?`, kind)
	if err == sql.ErrNoRows {
		return Entry{Kind: kind, Status: StatusNever}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (l *SQLiteLog) save(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO sync_state (kind, last_sync_time, last_sync_duration_ms, last_sync_count, resource_version_cursor, status, last_error, reconnect_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(kind) DO UPDATE SET
	last_sync_time = excluded.last_sync_time,
	last_sync_duration_ms = excluded.last_sync_duration_ms,
	last_sync_count = excluded.last_sync_count,
	resource_version_cursor = excluded.resource_version_cursor,
	status = excluded.status,
	last_error = excluded.last_error,
	reconnect_count = excluded.reconnect_count
`, e.Kind, e.LastSyncTime, e.LastSyncDurationMs, e.LastSyncCount, e.ResourceVersionCursor, e.Status, e.LastError, e.ReconnectCount)
	return err
}

// Upsert applies a partial update, creating the row if it does not yet
// exist.
func (l *SQLiteLog) Upsert(ctx context.Context, kind string, patch Patch) error {
	e, _, err := l.get(ctx, kind)
	if err != nil {
		return fmt.Errorf("syncstate: upsert %q: %w", kind, err)
	}
	if patch.ResourceVersionCursor != nil {
		e.ResourceVersionCursor = *patch.ResourceVersionCursor
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.LastError != nil {
		e.LastError = *patch.LastError
	}
	if patch.ReconnectCount != nil {
		e.ReconnectCount = *patch.ReconnectCount
	}
	return l.save(ctx, e)
}

// MarkInProgress transitions kind's entry to in_progress. Valid prior
// states are never, completed, and failed.
func (l *SQLiteLog) MarkInProgress(ctx context.Context, kind string) error {
	e, _, err := l.get(ctx, kind)
	if err != nil {
		return fmt.Errorf("syncstate: mark in-progress %q: %w", kind, err)
	}
	e.Status = StatusInProgress
	return l.save(ctx, e)
}

// MarkCompleted records a successful sync and its cursor.
func (l *SQLiteLog) MarkCompleted(ctx context.Context, kind string, durationMs int64, count int, cursor string) error {
	e, _, err := l.get(ctx, kind)
	if err != nil {
		return fmt.Errorf("syncstate: mark completed %q: %w", kind, err)
	}
	e.LastSyncTime = time.Now().UTC()
	e.LastSyncDurationMs = durationMs
	e.LastSyncCount = count
	e.ResourceVersionCursor = cursor
	e.Status = StatusCompleted
	e.LastError = ""
	return l.save(ctx, e)
}

// MarkFailed records a failed sync with its error message.
func (l *SQLiteLog) MarkFailed(ctx context.Context, kind string, syncErr error) error {
	e, _, err := l.get(ctx, kind)
	if err != nil {
		return fmt.Errorf("syncstate: mark failed %q: %w", kind, err)
	}
	e.LastSyncTime = time.Now().UTC()
	e.Status = StatusFailed
	if syncErr != nil {
		e.LastError = syncErr.Error()
	}
	return l.save(ctx, e)
}
