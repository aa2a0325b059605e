package storage

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kenkyu/hooks"
)

func TestHookSink_WritesPayloadAndResultColumns(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	db, err := Open(ctx, filepath.Join(t.TempDir(), "kenkyu.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := hooks.NewRegistry(logger)
	reg.SetSink(NewHookSink(db, logger))

	_, err = reg.Register(hooks.EventSearch, func(ctx context.Context, data any, meta map[string]any) (any, error) {
		return nil, errors.New("nope")
	}, hooks.PhasePre, "audited", 0)
	require.NoError(t, err)

	reg.ExecutePre(ctx, hooks.EventSearch,
		map[string]any{"query": "sky"}, map[string]any{"session_id": "s1"})

	var sessionID, eventType, payload, result string
	err = db.sql.QueryRowContext(ctx,
		`SELECT session_id, event_type, payload, result FROM hooks_log WHERE hook_name = 'audited'`,
	).Scan(&sessionID, &eventType, &payload, &result)
	require.NoError(t, err, "payload and result must be non-NULL")

	assert.Equal(t, "s1", sessionID)
	assert.Equal(t, "search:pre", eventType)
	assert.JSONEq(t, `{"query":"sky"}`, payload)
	assert.JSONEq(t, `{"success":false,"error":"nope"}`, result)
}
