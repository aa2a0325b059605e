package storage_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kenkyu/hooks"
	"github.com/ashita-ai/kenkyu/internal/model"
	"github.com/ashita-ai/kenkyu/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "kenkyu.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateAndGetSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := db.CreateSession(ctx, "s1", "why is the sky blue", map[string]any{"origin": "test"})
	require.NoError(t, err)

	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "why is the sky blue", s.Problem)
	assert.Equal(t, model.SessionActive, s.Status)
	assert.Nil(t, s.Plan)
	assert.Equal(t, map[string]any{"origin": "test"}, s.Metadata)
	assert.False(t, s.CreatedAt.IsZero())
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)

	got, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestGetSession_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateSession_DuplicateLeavesOriginalUnchanged(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateSession(ctx, "s1", "p", nil)
	require.NoError(t, err)

	_, err = db.CreateSession(ctx, "s1", "p2", nil)
	require.ErrorIs(t, err, storage.ErrDuplicateID)

	got, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "p", got.Problem, "failed insert must not touch the original row")
}

func TestUpdateSession_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.CreateSession(ctx, "s1", "p", map[string]any{"k": "v"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	status := model.SessionCompleted
	err = db.UpdateSession(ctx, "s1", model.SessionPatch{Status: &status})
	require.NoError(t, err)

	got, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
	assert.Equal(t, created.Problem, got.Problem, "unpatched fields unchanged")
	assert.Equal(t, created.Metadata, got.Metadata)
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt), "updated_at refreshed")
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
}

func TestUpdateSession_EmptyPatchIsNoOp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.CreateSession(ctx, "s1", "p", nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.UpdateSession(ctx, "s1", model.SessionPatch{}))

	got, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, created.UpdatedAt, got.UpdatedAt, "no-op patch must not refresh updated_at")
}

func TestUpdateSession_Plan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateSession(ctx, "s1", "p", nil)
	require.NoError(t, err)

	plan := "# Research Plan\n\n1. look things up"
	require.NoError(t, db.UpdateSession(ctx, "s1", model.SessionPatch{Plan: &plan}))

	got, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Plan)
	assert.Equal(t, plan, *got.Plan)
}

func TestUpdateSession_NotFound(t *testing.T) {
	db := newTestDB(t)

	status := model.SessionFailed
	err := db.UpdateSession(context.Background(), "missing", model.SessionPatch{Status: &status})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListSessions_OrderAndFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := db.CreateSession(ctx, id, "p-"+id, nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	status := model.SessionCompleted
	require.NoError(t, db.UpdateSession(ctx, "b", model.SessionPatch{Status: &status}))

	all, err := db.ListSessions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "a", all[2].ID)

	completed, err := db.ListSessions(ctx, &status)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "b", completed[0].ID)
}

func TestAgentStateLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateSession(ctx, "s1", "p", nil)
	require.NoError(t, err)

	focus := "market analysis"
	a, err := db.CreateAgentState(ctx, "a1", "s1", "market-analyst", &focus, map[string]any{"tools": []any{"internet_search"}})
	require.NoError(t, err)
	assert.Equal(t, model.AgentPending, a.Status)
	assert.Equal(t, &focus, a.FocusArea)
	assert.Nil(t, a.ResultPath)

	_, err = db.CreateAgentState(ctx, "a1", "s1", "other", nil, nil)
	assert.ErrorIs(t, err, storage.ErrDuplicateID)

	status := model.AgentCompleted
	resultPath := "out/s1/market-analyst/findings.md"
	require.NoError(t, db.UpdateAgentState(ctx, "a1", model.AgentStatePatch{
		Status:     &status,
		ResultPath: &resultPath,
	}))

	got, err := db.GetAgentState(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentCompleted, got.Status)
	require.NotNil(t, got.ResultPath)
	assert.Equal(t, resultPath, *got.ResultPath)
	assert.Equal(t, a.StateData, got.StateData)
}

func TestListSessionAgents_OrderedOldestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateSession(ctx, "s1", "p", nil)
	require.NoError(t, err)

	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := db.CreateAgentState(ctx, id, "s1", "agent-"+id, nil, nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	// An agent in another session must not appear.
	_, err = db.CreateSession(ctx, "s2", "p", nil)
	require.NoError(t, err)
	_, err = db.CreateAgentState(ctx, "other", "s2", "other", nil, nil)
	require.NoError(t, err)

	agents, err := db.ListSessionAgents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, "a1", agents[0].ID)
	assert.Equal(t, "a3", agents[2].ID)
}

func TestArtifacts_AppendOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateSession(ctx, "s1", "p", nil)
	require.NoError(t, err)

	hash := "sha256:abc"
	a, err := db.CreateArtifact(ctx, storage.CreateArtifactRequest{
		ID:           "art1",
		SessionID:    "s1",
		ArtifactType: "plan",
		FilePath:     "out/s1/RESEARCH_PLAN.md",
		ContentHash:  &hash,
	})
	require.NoError(t, err)
	assert.Equal(t, "plan", a.ArtifactType)

	_, err = db.CreateArtifact(ctx, storage.CreateArtifactRequest{ID: "art1", SessionID: "s1", ArtifactType: "plan", FilePath: "x"})
	assert.ErrorIs(t, err, storage.ErrDuplicateID)

	time.Sleep(5 * time.Millisecond)
	_, err = db.CreateArtifact(ctx, storage.CreateArtifactRequest{
		ID:           "art2",
		SessionID:    "s1",
		ArtifactType: "report",
		FilePath:     "out/s1/FINAL_REPORT.md",
	})
	require.NoError(t, err)

	artifacts, err := db.ListSessionArtifacts(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "art1", artifacts[0].ID, "oldest first")
	assert.Equal(t, "art2", artifacts[1].ID)
	require.NotNil(t, artifacts[0].ContentHash)
	assert.Equal(t, hash, *artifacts[0].ContentHash)
}

func TestHookSink_PersistsAuditEntries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	reg := hooks.NewRegistry(logger)
	reg.SetSink(storage.NewHookSink(db, logger))

	_, err := reg.Register(hooks.EventSearch, func(ctx context.Context, data any, meta map[string]any) (any, error) {
		return nil, nil
	}, hooks.PhasePre, "telemetry", 0)
	require.NoError(t, err)

	reg.ExecutePre(ctx, hooks.EventSearch, "query", map[string]any{"session_id": "s1"})

	// The sink is fire-and-forget; verify via a direct append as well.
	sid := "s1"
	require.NoError(t, db.LogHook(ctx, &sid, "manual", "search:pre", nil, nil))
}
