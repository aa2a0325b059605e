package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/kenkyu/hooks"
)

// LogHook appends one hook execution to the audit log. The table is
// append-only and never read back by the core.
func (db *DB) LogHook(ctx context.Context, sessionID *string, hookName, eventType string, payload, result *string) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO hooks_log (session_id, hook_name, event_type, payload, result, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, hookName, eventType, payload, result, fmtTime(now()),
	)
	if err != nil {
		return fmt.Errorf("storage: log hook: %w", err)
	}
	return nil
}

// HookSink adapts the DB into a hooks.Sink so the registry's audit trail
// lands in the hooks_log table. Persistence failures are logged and
// swallowed: the audit trail is diagnostic, never load-bearing.
type HookSink struct {
	db     *DB
	logger *slog.Logger
}

// NewHookSink creates a durable audit sink backed by this store.
func NewHookSink(db *DB, logger *slog.Logger) *HookSink {
	return &HookSink{db: db, logger: logger}
}

// LogHook implements hooks.Sink.
func (s *HookSink) LogHook(ctx context.Context, entry hooks.LogEntry) {
	var sessionID *string
	if entry.SessionID != "" {
		sessionID = &entry.SessionID
	}
	var payload *string
	if entry.Payload != "" {
		payload = &entry.Payload
	}
	var result *string
	if entry.Result != "" {
		result = &entry.Result
	}

	eventType := fmt.Sprintf("%s:%s", entry.Event, entry.Phase)
	if err := s.db.LogHook(ctx, sessionID, entry.HookName, eventType, payload, result); err != nil {
		s.logger.Warn("storage: hook audit write failed", "hook", entry.HookName, "error", err)
	}
}
