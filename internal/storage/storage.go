// Package storage provides the SQLite storage layer for Kenkyū.
//
// It is the single source of truth for session, agent, and artifact state,
// plus an append-only audit log of hook executions. The store is embedded
// (modernc.org/sqlite, no CGO) so the core runs without any server process.
//
// Every multi-statement operation executes inside a transaction that commits
// on success and rolls back completely on error: a partial failure leaves
// the store unchanged. SQLite serializes writers; the busy timeout set at
// open keeps concurrent sessions from failing fast on lock contention.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS research_sessions (
    id         TEXT PRIMARY KEY,
    problem    TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    plan       TEXT,
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_states (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    agent_name  TEXT NOT NULL,
    focus_area  TEXT,
    status      TEXT NOT NULL DEFAULT 'pending',
    result_path TEXT,
    state_data  TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    FOREIGN KEY (session_id) REFERENCES research_sessions(id)
);

CREATE TABLE IF NOT EXISTS research_artifacts (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    agent_id      TEXT,
    artifact_type TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    content_hash  TEXT,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL,
    FOREIGN KEY (session_id) REFERENCES research_sessions(id),
    FOREIGN KEY (agent_id) REFERENCES agent_states(id)
);

CREATE TABLE IF NOT EXISTS hooks_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT,
    hook_name   TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    payload     TEXT,
    result      TEXT,
    executed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_states_session ON agent_states(session_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_session ON research_artifacts(session_id);
CREATE INDEX IF NOT EXISTS idx_hooks_session ON hooks_log(session_id);
`

// DB wraps the SQLite handle and owns the schema.
type DB struct {
	sql    *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and ensures the schema
// exists. Use ":memory:" for an ephemeral store in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// SQLite allows one writer at a time; a single pooled connection avoids
	// spurious SQLITE_BUSY between this process's own goroutines and keeps
	// in-memory databases on one shared handle.
	handle.SetMaxOpenConns(1)

	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}

	if _, err := handle.ExecContext(ctx, schema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &DB{sql: handle, logger: logger}, nil
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Close shuts down the database handle.
func (db *DB) Close() error {
	return db.sql.Close()
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. This is the store's central correctness guarantee: on any
// failure the store is left unchanged.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Warn("storage: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// now returns the current UTC time truncated to the precision we persist.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// timeLayout is RFC 3339 in UTC with a fixed-width microsecond fraction.
// The width matters: with a trimmed fraction (RFC3339Nano) "10:00:00.1Z"
// sorts after "10:00:00.123456Z", inverting ORDER BY for rows created in
// the same second. Fixed width keeps lexicographic order chronological.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// marshalMeta serializes an open key-value map for a TEXT column.
// The core imposes no schema on these maps beyond JSON round-tripping.
func marshalMeta(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("storage: marshal metadata: %w", err)
	}
	return string(raw), nil
}

func unmarshalMeta(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("storage: unmarshal metadata: %w", err)
	}
	return m, nil
}
