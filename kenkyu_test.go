package kenkyu_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kenkyu "github.com/ashita-ai/kenkyu"
	"github.com/ashita-ai/kenkyu/hooks"
)

// fakeMemStore records Add calls and serves canned Search results.
type fakeMemStore struct {
	added   []fakeMemEntry
	results []kenkyu.MemoryRecord
}

type fakeMemEntry struct {
	id       string
	content  string
	metadata map[string]string
}

func (f *fakeMemStore) Add(_ context.Context, id, content string, metadata map[string]string) (string, error) {
	f.added = append(f.added, fakeMemEntry{id: id, content: content, metadata: metadata})
	return id, nil
}

func (f *fakeMemStore) Search(_ context.Context, _ string, _ int, _ map[string]string) ([]kenkyu.MemoryRecord, error) {
	return f.results, nil
}

func newTestApp(t *testing.T, opts ...kenkyu.Option) *kenkyu.App {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("KENKYU_EMBEDDING_PROVIDER", "noop")
	t.Setenv("KENKYU_MEMORY_PATH", filepath.Join(dir, "mem"))

	base := []kenkyu.Option{
		kenkyu.WithDatabasePath(filepath.Join(dir, "kenkyu.db")),
		kenkyu.WithOutputDir(filepath.Join(dir, "out")),
		kenkyu.WithLogger(slog.New(slog.DiscardHandler)),
	}
	app, err := kenkyu.New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestSessionFlow(t *testing.T) {
	ctx := context.Background()
	mem := &fakeMemStore{}
	app := newTestApp(t, kenkyu.WithMemoryStore(mem), kenkyu.WithVersion("1.2.3"))

	assert.Equal(t, "1.2.3", app.Version())
	require.NoError(t, app.Healthy(ctx))

	s, err := app.StartSession(ctx, "sess-1", "why is the sky blue", map[string]any{"origin": "test"})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID())

	// Plan: mirrored to RESEARCH_PLAN.md and the session record, cached
	// as an insight.
	plan, err := s.GeneratePlan(ctx, map[string]any{"problem": "why is the sky blue"},
		func(_ context.Context, _ map[string]any) (string, error) {
			return "# Plan\n1. search", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n1. search", plan)

	planPath := filepath.Join(app.OutputDir(), "sess-1", "RESEARCH_PLAN.md")
	raw, err := os.ReadFile(planPath)
	require.NoError(t, err)
	assert.Equal(t, plan, string(raw))

	sess, err := app.Session(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess.Plan)
	assert.Equal(t, plan, *sess.Plan)
	require.NotEmpty(t, mem.added)
	assert.Contains(t, mem.added[0].content, "Research Plan:")

	// Spawn records the agent state.
	agentID, err := s.SpawnAgent(ctx,
		map[string]any{"name": "explorer", "focus_area": "optics"},
		func(_ context.Context, _ map[string]any) (string, error) { return "", nil })
	require.NoError(t, err)
	require.NotEmpty(t, agentID)

	agents, err := app.SessionAgents(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "explorer", agents[0].AgentName)
	require.NotNil(t, agents[0].FocusArea)
	assert.Equal(t, "optics", *agents[0].FocusArea)

	// Searches feed the gate and cache a summary.
	results, err := s.Search(ctx, map[string]any{"query": "rayleigh scattering"},
		func(_ context.Context, _ map[string]any) ([]any, error) {
			return []any{"r1", "r2"}, nil
		})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// Write feeds the gate and the research memory.
	content := "Scattering explains it https://example.com/sky with high confidence"
	path, err := s.WriteResearch(ctx,
		map[string]any{"content": content, "agent_name": "explorer"},
		func(_ context.Context, data map[string]any) (string, error) {
			c, _ := data["content"].(string)
			return s.WriteAgentResult("explorer", "phase1_initial_research.md", c)
		})
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = s.CompleteAgent(ctx,
		map[string]any{"agent_id": agentID, "agent_name": "explorer", "result_path": path}, nil)
	require.NoError(t, err)

	agents, err = app.SessionAgents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", agents[0].Status)

	report, err := s.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, report.MaxScore)
	assert.Equal(t, 1, report.Metrics.SearchCount)
	assert.Equal(t, 1, report.Metrics.CitationCount)
	assert.Equal(t, []string{"phase1"}, report.Metrics.PhasesCompleted)

	// QUALITY_REPORT.json persisted in the session dir, artifact recorded,
	// metadata updated.
	reportPath := filepath.Join(app.OutputDir(), "sess-1", "QUALITY_REPORT.json")
	raw, err = os.ReadFile(reportPath)
	require.NoError(t, err)
	var onDisk kenkyu.QualityReport
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, report.Score, onDisk.Score)
	assert.Equal(t, report.Grade, onDisk.Grade)

	artifacts, err := app.SessionArtifacts(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "quality_report", artifacts[0].ArtifactType)
	assert.NotNil(t, artifacts[0].ContentHash)

	sess, err = app.Session(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", sess.Status)
	assert.EqualValues(t, report.Score, sess.Metadata["quality_score"])
	assert.Equal(t, report.Grade, sess.Metadata["quality_grade"])
	assert.Equal(t, "test", sess.Metadata["origin"])
}

func TestStartSessionVeto(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)

	_, err := app.Hooks().Register(hooks.EventSessionStart,
		func(_ context.Context, _ any, _ map[string]any) (any, error) {
			return &hooks.Result{Success: true, ShouldAbort: true}, nil
		}, hooks.PhasePre, "block-all", 0)
	require.NoError(t, err)

	_, err = app.StartSession(ctx, "blocked", "p", nil)
	require.ErrorIs(t, err, kenkyu.ErrAborted)

	// The vetoed session was never created.
	_, err = app.Session(ctx, "blocked")
	require.Error(t, err)
}

func TestSpawnAgentVeto(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)

	s, err := app.StartSession(ctx, "", "p", nil)
	require.NoError(t, err)

	_, err = app.Hooks().Register(hooks.EventAgentSpawn,
		func(_ context.Context, _ any, _ map[string]any) (any, error) {
			return &hooks.Result{Success: true, ShouldAbort: true}, nil
		}, hooks.PhasePre, "no-spawns", 0)
	require.NoError(t, err)

	spawned := false
	_, err = s.SpawnAgent(ctx, map[string]any{"name": "x"},
		func(_ context.Context, _ map[string]any) (string, error) {
			spawned = true
			return "", nil
		})
	require.ErrorIs(t, err, kenkyu.ErrAborted)
	assert.False(t, spawned, "engine step must not run after a veto")
}

func TestFailSession(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)

	s, err := app.StartSession(ctx, "doomed", "p", nil)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, errors.New("engine crashed")))

	sess, err := app.Session(ctx, "doomed")
	require.NoError(t, err)
	assert.Equal(t, "failed", sess.Status)
	assert.Equal(t, "engine crashed", sess.Metadata["failure_reason"])

	// No quality report for failed sessions.
	assert.NoFileExists(t, filepath.Join(app.OutputDir(), "doomed", "QUALITY_REPORT.json"))
}

func TestResumeSession(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)

	s, err := app.StartSession(ctx, "resume-me", "p", nil)
	require.NoError(t, err)
	_, err = s.Search(ctx, map[string]any{"query": "q"},
		func(_ context.Context, _ map[string]any) ([]any, error) { return nil, nil })
	require.NoError(t, err)

	resumed, err := app.ResumeSession(ctx, "resume-me")
	require.NoError(t, err)
	assert.Equal(t, "resume-me", resumed.ID())

	_, err = app.ResumeSession(ctx, "never-existed")
	require.Error(t, err)
}

func TestValidatePhase(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, kenkyu.WithThresholds(kenkyu.Thresholds{
		MinSearchesPhase1:        1,
		MinSearchesTotal:         2,
		MinCitationsPerPhase:     1,
		RequireConfidenceRatings: false,
	}))

	s, err := app.StartSession(ctx, "phased", "p", nil)
	require.NoError(t, err)

	ok, issues := s.ValidatePhase("phase1", "phase2")
	assert.False(t, ok)
	assert.NotEmpty(t, issues)

	_, err = s.Search(ctx, map[string]any{"query": "q"},
		func(_ context.Context, _ map[string]any) ([]any, error) { return nil, nil })
	require.NoError(t, err)

	ok, issues = s.ValidatePhase("phase1", "phase2")
	assert.True(t, ok)
	assert.Empty(t, issues)
}

func TestMemoryRoundTripThroughApp(t *testing.T) {
	ctx := context.Background()
	mem := &fakeMemStore{results: []kenkyu.MemoryRecord{
		{ID: "m1", Content: "cached", Similarity: 0.9},
	}}
	app := newTestApp(t, kenkyu.WithMemoryStore(mem))

	s, err := app.StartSession(ctx, "memful", "p", nil)
	require.NoError(t, err)

	id, err := s.RememberInsight(ctx, "an insight", "test")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, mem.added, 1)
	assert.Equal(t, "insight", mem.added[0].metadata["type"])
	assert.Equal(t, "memful", mem.added[0].metadata["session_id"])

	records, err := s.Recall(ctx, "insight", 3)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cached", records[0].Content)
}

func TestSubagentCatalog(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "subagents.jsonl")
	line := `{"name":"literature-researcher","description":"Finds academic literature","system_prompt":"You research literature.","focus_areas":["literature"]}` + "\n"
	require.NoError(t, os.WriteFile(catalog, []byte(line), 0o644))

	app := newTestApp(t, kenkyu.WithSubagentsPath(catalog))

	all := app.SubagentCatalog()
	require.Len(t, all, 1)
	assert.Equal(t, "literature-researcher", all[0].Name)

	c, ok := app.Subagent("literature-researcher")
	require.True(t, ok)
	assert.Equal(t, 2, c.MaxDepth)

	matches := app.MatchSubagents("literature on consensus protocols")
	require.Len(t, matches, 1)

	dyn := kenkyu.NewDynamicSubagent("explorer", "quantum radar", "Base.")
	assert.Contains(t, dyn.SystemPrompt, "quantum radar")
	app.RegisterSubagent(dyn)
	_, ok = app.Subagent("explorer")
	assert.True(t, ok)
}

func TestSessionsListing(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)

	s1, err := app.StartSession(ctx, "a", "p1", nil)
	require.NoError(t, err)
	_, err = app.StartSession(ctx, "b", "p2", nil)
	require.NoError(t, err)
	_, err = s1.Complete(ctx)
	require.NoError(t, err)

	all, err := app.Sessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := app.Sessions(ctx, "active")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)
}
