// Package kenkyu is the public embedding API for the research session
// core: hook registry, session store, persistence facade, quality gate,
// lifecycle middleware, semantic memory and sub-agent catalog, wired
// together behind one App.
//
// Layering rule: this package imports internal/* subsystems and adapts
// them to public types. Internal packages never import this package —
// extension interfaces (EmbeddingProvider, MemoryStore) are defined here
// and adapted inward, keeping the dependency graph acyclic.
//
// The agent-execution engine is deliberately out of scope: callers bring
// their own loop and thread each engine step through a ResearchSession's
// middleware-backed operations.
package kenkyu

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kenkyu/hooks"
	"github.com/ashita-ai/kenkyu/internal/config"
	"github.com/ashita-ai/kenkyu/internal/lifecycle"
	"github.com/ashita-ai/kenkyu/internal/mcp"
	"github.com/ashita-ai/kenkyu/internal/memory"
	"github.com/ashita-ai/kenkyu/internal/model"
	"github.com/ashita-ai/kenkyu/internal/service/embedding"
	"github.com/ashita-ai/kenkyu/internal/service/quality"
	"github.com/ashita-ai/kenkyu/internal/storage"
	"github.com/ashita-ai/kenkyu/internal/subagent"
	"github.com/ashita-ai/kenkyu/internal/telemetry"
	"github.com/ashita-ai/kenkyu/internal/workspace"
)

// ErrAborted is returned by session operations when a PRE hook vetoed
// them. Test with errors.Is.
var ErrAborted = lifecycle.ErrAborted

// App is the assembled research coordination core.
type App struct {
	cfg          config.Config
	thresholds   quality.Thresholds
	db           *storage.DB
	workspace    *workspace.Manager
	hooks        *hooks.Registry
	memory       *memory.Manager
	qdrant       *memory.QdrantStore // non-nil only for the qdrant backend
	subagents    *subagent.Registry
	metrics      *quality.MetricsStore
	mcpSrv       *mcp.Server
	scoreHist    metric.Int64Histogram
	tracer       trace.Tracer
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New creates a fully-wired App. Configuration comes from environment
// variables (a .env file is honored if present), overridden by options.
func New(opts ...Option) (*App, error) {
	o := &resolvedOptions{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env if present (dev convenience; ignored when absent).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if o.databasePath != "" {
		cfg.DatabasePath = o.databasePath
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.subagentsPath != "" {
		cfg.SubagentsPath = o.subagentsPath
	}

	thresholds := quality.Thresholds{
		MinSearchesPhase1:        cfg.MinSearchesPhase1,
		MinSearchesTotal:         cfg.MinSearchesTotal,
		MinCitationsPerPhase:     cfg.MinCitationsPerPhase,
		RequireConfidenceRatings: cfg.RequireConfidenceRatings,
	}
	if o.thresholds != nil {
		thresholds = quality.Thresholds{
			MinSearchesPhase1:        o.thresholds.MinSearchesPhase1,
			MinSearchesTotal:         o.thresholds.MinSearchesTotal,
			MinCitationsPerPhase:     o.thresholds.MinCitationsPerPhase,
			RequireConfidenceRatings: o.thresholds.RequireConfidenceRatings,
		}
	}

	version := o.version
	if version == "" {
		version = "dev"
	}

	// OTEL (no-op when no endpoint configured).
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Session store.
	db, err := storage.Open(context.Background(), cfg.DatabasePath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Persistence facade over the output tree.
	ws, err := workspace.NewManager(cfg.OutputDir, db, logger)
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("workspace: %w", err)
	}

	// Hook registry with the audit sink, counted via the global meter
	// (no-op unless OTEL is configured).
	meter := telemetry.Meter("kenkyu")
	reg := hooks.NewRegistry(logger)
	var sink hooks.Sink = storage.NewHookSink(db, logger)
	if hookCount, merr := meter.Int64Counter("kenkyu.hooks.executions",
		metric.WithDescription("Hook executions by event, phase and outcome"),
	); merr != nil {
		logger.Warn("hook counter init failed", "error", merr)
	} else {
		sink = &meteredSink{inner: sink, counter: hookCount}
	}
	reg.SetSink(sink)

	scoreHist, merr := meter.Int64Histogram("kenkyu.session.quality_score",
		metric.WithDescription("Final quality score per completed session"),
	)
	if merr != nil {
		logger.Warn("quality score histogram init failed", "error", merr)
	}

	// Embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = o.embeddingProvider
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Memory backend.
	var (
		store  memory.Store
		qdrant *memory.QdrantStore
	)
	switch {
	case o.memoryStore != nil:
		store = &memoryStoreAdapter{s: o.memoryStore}
	case cfg.MemoryBackend == "qdrant":
		qdrant, err = memory.NewQdrantStore(memory.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.MemoryCollection,
			Dims:       uint64(embedder.Dimensions()), //nolint:gosec // providers report positive dims
		}, embedder, logger)
		if err != nil {
			_ = db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := qdrant.EnsureCollection(context.Background()); err != nil {
			_ = qdrant.Close()
			_ = db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		store = qdrant
		logger.Info("memory backend: qdrant", "collection", cfg.MemoryCollection)
	default:
		chromem, err := memory.NewChromemStore(cfg.MemoryPath, cfg.MemoryCollection, embedding.Func(embedder), logger)
		if err != nil {
			_ = db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("chromem: %w", err)
		}
		store = chromem
		logger.Info("memory backend: chromem", "path", cfg.MemoryPath, "collection", cfg.MemoryCollection)
	}
	mem := memory.NewManager(store, reg, logger)

	// Sub-agent catalog.
	subagents, err := subagent.NewRegistry(cfg.SubagentsPath, logger)
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("subagent: %w", err)
	}

	metrics := quality.NewMetricsStore()

	// MCP server for MCP-compatible agent frontends.
	mcpSrv := mcp.New(db, mem, metrics, thresholds, logger, version)

	logger.Info("kenkyu initialized",
		"version", version,
		"db", cfg.DatabasePath,
		"output_dir", cfg.OutputDir,
	)

	return &App{
		cfg:          cfg,
		thresholds:   thresholds,
		db:           db,
		workspace:    ws,
		hooks:        reg,
		memory:       mem,
		qdrant:       qdrant,
		subagents:    subagents,
		metrics:      metrics,
		mcpSrv:       mcpSrv,
		scoreHist:    scoreHist,
		tracer:       telemetry.Tracer("kenkyu"),
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Hooks exposes the registry so callers can register lifecycle hooks.
func (a *App) Hooks() *hooks.Registry { return a.hooks }

// Version returns the version string the App was built with.
func (a *App) Version() string { return a.version }

// OutputDir returns the root of the research output tree.
func (a *App) OutputDir() string { return a.workspace.Base() }

// MCPServer returns the embedded MCP server for transport setup, e.g.
// mcpserver.ServeStdio.
func (a *App) MCPServer() *mcpserver.MCPServer { return a.mcpSrv.MCPServer() }

// Healthy checks the session store and, when configured, the Qdrant
// memory backend.
func (a *App) Healthy(ctx context.Context) error {
	if err := a.db.Ping(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if a.qdrant != nil {
		if err := a.qdrant.Healthy(ctx); err != nil {
			return fmt.Errorf("memory: %w", err)
		}
	}
	return nil
}

// Close releases all resources. The App is unusable afterwards.
func (a *App) Close(ctx context.Context) error {
	if a.qdrant != nil {
		_ = a.qdrant.Close()
	}
	err := a.db.Close()
	_ = a.otelShutdown(ctx)
	a.logger.Info("kenkyu stopped")
	return err
}

// ── Session queries ────────────────────────────────────────────────────────────

// Session returns one session by id.
func (a *App) Session(ctx context.Context, id string) (Session, error) {
	s, err := a.db.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return toPublicSession(s), nil
}

// Sessions lists sessions, newest first. An empty status lists all.
func (a *App) Sessions(ctx context.Context, status string) ([]Session, error) {
	var filter *model.SessionStatus
	if status != "" {
		st := model.SessionStatus(status)
		filter = &st
	}
	sessions, err := a.db.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Session, len(sessions))
	for i, s := range sessions {
		out[i] = toPublicSession(s)
	}
	return out, nil
}

// SessionAgents lists the sub-agents spawned in a session, oldest first.
func (a *App) SessionAgents(ctx context.Context, sessionID string) ([]AgentState, error) {
	agents, err := a.db.ListSessionAgents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]AgentState, len(agents))
	for i, ag := range agents {
		out[i] = toPublicAgentState(ag)
	}
	return out, nil
}

// SessionArtifacts lists the artifacts recorded in a session, oldest first.
func (a *App) SessionArtifacts(ctx context.Context, sessionID string) ([]Artifact, error) {
	artifacts, err := a.db.ListSessionArtifacts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Artifact, len(artifacts))
	for i, art := range artifacts {
		out[i] = toPublicArtifact(art)
	}
	return out, nil
}

// ── Memory ─────────────────────────────────────────────────────────────────────

// RecallByType searches memories of one type ("research" or "insight")
// across all sessions.
func (a *App) RecallByType(ctx context.Context, memoryType, query string, n int) ([]MemoryRecord, error) {
	records, err := a.memory.RecallByType(ctx, memoryType, query, n)
	if err != nil {
		return nil, err
	}
	return toPublicRecords(records), nil
}

// Recall searches all memories, optionally scoped to a session.
func (a *App) Recall(ctx context.Context, query string, n int, sessionID string) ([]MemoryRecord, error) {
	records, err := a.memory.RecallRelevant(ctx, query, n, sessionID)
	if err != nil {
		return nil, err
	}
	return toPublicRecords(records), nil
}

// ── Sub-agent catalog ──────────────────────────────────────────────────────────

// SubagentCatalog returns all catalog entries in catalog order.
func (a *App) SubagentCatalog() []SubagentConfig {
	return toPublicSubagents(a.subagents.All())
}

// Subagent returns one catalog entry by name.
func (a *App) Subagent(name string) (SubagentConfig, bool) {
	c, ok := a.subagents.Get(name)
	if !ok {
		return SubagentConfig{}, false
	}
	return toPublicSubagent(c), true
}

// MatchSubagents returns catalog entries suited to a focus area.
func (a *App) MatchSubagents(focusArea string) []SubagentConfig {
	matches := a.subagents.MatchForFocus(focusArea)
	if len(matches) == 0 {
		return nil
	}
	return toPublicSubagents(matches)
}

// RegisterSubagent adds or replaces a catalog entry in memory.
// Call SaveSubagents to persist.
func (a *App) RegisterSubagent(c SubagentConfig) {
	a.subagents.Register(fromPublicSubagent(c))
}

// SaveSubagents writes the catalog back to its file, if one is configured.
func (a *App) SaveSubagents() error {
	return a.subagents.Save()
}

// NewDynamicSubagent builds a one-off research agent definition for a
// focus area no catalog entry covers.
func NewDynamicSubagent(name, focusArea, basePrompt string) SubagentConfig {
	return toPublicSubagent(subagent.NewDynamic(name, focusArea, basePrompt))
}

// ── Session lifecycle ──────────────────────────────────────────────────────────

// ResearchSession is the driver handle for one active session. Each
// operation wraps a caller-supplied engine step in the matching lifecycle
// middleware: PRE hooks run first (and may rewrite or veto the request),
// the step runs, then the side effects and POST hooks fire.
type ResearchSession struct {
	app  *App
	id   string
	gate *quality.Gate

	plan       *lifecycle.PlanCreation
	spawn      *lifecycle.AgentSpawn
	write      *lifecycle.ResearchWrite
	search     *lifecycle.Search
	completion *lifecycle.AgentCompletion
}

// StartSession creates a session record and its middleware chain.
// An empty id gets a generated UUID. PRE session_start hooks may veto the
// start; the session is not created in that case.
func (a *App) StartSession(ctx context.Context, id, problem string, metadata map[string]any) (*ResearchSession, error) {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, span := a.tracer.Start(ctx, "kenkyu.session.start",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	meta := map[string]any{"session_id": id}
	_, results := a.hooks.ExecutePre(ctx, hooks.EventSessionStart,
		map[string]any{"session_id": id, "problem": problem}, meta)
	for _, r := range results {
		if r.ShouldAbort {
			return nil, fmt.Errorf("%w: session start", ErrAborted)
		}
	}

	if _, err := a.db.CreateSession(ctx, id, problem, metadata); err != nil {
		return nil, err
	}
	if _, err := a.workspace.SessionDir(id); err != nil {
		return nil, err
	}

	a.hooks.ExecutePost(ctx, hooks.EventSessionStart,
		map[string]any{"session_id": id, "problem": problem}, meta)

	a.logger.Info("session started", "session_id", id)
	return a.sessionHandle(id), nil
}

// ResumeSession rebuilds the driver handle for an existing session, e.g.
// after a restart. Quality metrics restart from zero — they live in
// memory only.
func (a *App) ResumeSession(ctx context.Context, id string) (*ResearchSession, error) {
	if _, err := a.db.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return a.sessionHandle(id), nil
}

func (a *App) sessionHandle(id string) *ResearchSession {
	gate := quality.NewGate(id, a.metrics, a.thresholds, a.logger)
	lc := &lifecycle.Context{
		SessionID: id,
		Hooks:     a.hooks,
		Store:     a.db,
		Workspace: a.workspace,
		Memory:    a.memory,
		Gate:      gate,
		Logger:    a.logger,
	}
	return &ResearchSession{
		app:        a,
		id:         id,
		gate:       gate,
		plan:       lifecycle.NewPlanCreation(lc),
		spawn:      lifecycle.NewAgentSpawn(lc),
		write:      lifecycle.NewResearchWrite(lc),
		search:     lifecycle.NewSearch(lc),
		completion: lifecycle.NewAgentCompletion(lc),
	}
}

// ID returns the session id.
func (s *ResearchSession) ID() string { return s.id }

// GeneratePlan runs the plan-creation step: PRE hooks over planData (may
// veto), generate renders the plan text, then the plan is mirrored to
// RESEARCH_PLAN.md and the session record, POST hooks run (and may
// rewrite the text) and the plan is cached as a memory insight.
func (s *ResearchSession) GeneratePlan(ctx context.Context, planData map[string]any, generate func(context.Context, map[string]any) (string, error)) (string, error) {
	data, err := s.plan.Before(ctx, planData)
	if err != nil {
		return "", err
	}
	content, err := generate(ctx, data)
	if err != nil {
		return "", err
	}
	return s.plan.After(ctx, content)
}

// SpawnAgent runs the agent-spawn step: PRE hooks over the config (may
// veto), spawn starts the agent in the caller's engine and returns its id
// (empty gets a generated UUID), then the agent is recorded in the store
// with the config snapshotted into state_data.
func (s *ResearchSession) SpawnAgent(ctx context.Context, agentConfig map[string]any, spawn func(context.Context, map[string]any) (string, error)) (string, error) {
	cfg, err := s.spawn.Before(ctx, agentConfig)
	if err != nil {
		return "", err
	}
	agentID, err := spawn(ctx, cfg)
	if err != nil {
		return "", err
	}
	if agentID == "" {
		agentID = uuid.NewString()
	}
	return s.spawn.After(ctx, cfg, agentID)
}

// WriteResearch runs the research-write step: PRE hooks may rewrite the
// request but not veto it, write persists the content in the caller's
// engine and returns the file path, then the quality gate and research
// memory are fed.
func (s *ResearchSession) WriteResearch(ctx context.Context, writeData map[string]any, write func(context.Context, map[string]any) (string, error)) (string, error) {
	data, err := s.write.Before(ctx, writeData)
	if err != nil {
		return "", err
	}
	path, err := write(ctx, data)
	if err != nil {
		return "", err
	}
	return s.write.After(ctx, data, path)
}

// Search runs the web-search step: PRE hooks may rewrite the query, run
// executes the search, then the gate counts it, POST hooks may rewrite
// the result list and a one-line summary is cached as an insight.
func (s *ResearchSession) Search(ctx context.Context, searchQuery map[string]any, run func(context.Context, map[string]any) ([]any, error)) ([]any, error) {
	query, err := s.search.Before(ctx, searchQuery)
	if err != nil {
		return nil, err
	}
	results, err := run(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.search.After(ctx, query, results)
}

// CompleteAgent runs the agent-completion step. finish may be nil when
// the engine has no teardown to run; the agent referenced by
// completionData["agent_id"] is marked completed either way.
func (s *ResearchSession) CompleteAgent(ctx context.Context, completionData map[string]any, finish func(context.Context, map[string]any) (any, error)) (any, error) {
	data, err := s.completion.Before(ctx, completionData)
	if err != nil {
		return nil, err
	}
	var result any
	if finish != nil {
		result, err = finish(ctx, data)
		if err != nil {
			return nil, err
		}
	}
	return s.completion.After(ctx, data, result)
}

// WriteAgentResult writes content under the agent's directory in the
// session output tree and returns the absolute path.
func (s *ResearchSession) WriteAgentResult(agentName, filename, content string) (string, error) {
	return s.app.workspace.WriteAgentResult(s.id, agentName, filename, content)
}

// ValidatePhase checks whether the session may move between research
// phases. Issues accumulate in the session's metrics and surface in the
// final report.
func (s *ResearchSession) ValidatePhase(fromPhase, toPhase string) (bool, []string) {
	return s.gate.ValidatePhaseTransition(fromPhase, toPhase)
}

// QualityReport computes the current quality assessment without ending
// the session.
func (s *ResearchSession) QualityReport() QualityReport {
	return toPublicReport(s.gate.Report())
}

// RememberInsight caches an insight in the semantic memory.
func (s *ResearchSession) RememberInsight(ctx context.Context, content, source string) (string, error) {
	return s.app.memory.RememberInsight(ctx, s.id, content, source)
}

// RememberResearch caches a research finding in the semantic memory.
func (s *ResearchSession) RememberResearch(ctx context.Context, agentName, content, focusArea string, tags []string) (string, error) {
	return s.app.memory.RememberResearch(ctx, s.id, agentName, content, focusArea, tags)
}

// Recall searches this session's memories.
func (s *ResearchSession) Recall(ctx context.Context, query string, n int) ([]MemoryRecord, error) {
	return s.app.Recall(ctx, query, n, s.id)
}

// Memories returns up to limit memories cached for this session.
func (s *ResearchSession) Memories(ctx context.Context, limit int) ([]MemoryRecord, error) {
	records, err := s.app.memory.SessionMemories(ctx, s.id, limit)
	if err != nil {
		return nil, err
	}
	return toPublicRecords(records), nil
}

// Complete ends the session: the quality report is computed, persisted as
// QUALITY_REPORT.json in the session directory and recorded as an
// artifact, the session is marked completed with quality_score and
// quality_grade in its metadata, session_end hooks fire and the session's
// in-memory metrics are evicted.
func (s *ResearchSession) Complete(ctx context.Context) (QualityReport, error) {
	ctx, span := s.app.tracer.Start(ctx, "kenkyu.session.complete",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	report := s.gate.Report()
	span.SetAttributes(
		attribute.Int("quality.score", report.Score),
		attribute.String("quality.grade", report.Grade),
	)
	meta := map[string]any{"session_id": s.id}

	s.app.hooks.ExecutePre(ctx, hooks.EventSessionEnd,
		map[string]any{"session_id": s.id, "score": report.Score, "grade": report.Grade}, meta)

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return QualityReport{}, fmt.Errorf("kenkyu: marshal quality report: %w", err)
	}
	path, err := s.app.workspace.WriteSessionFile(s.id, "QUALITY_REPORT.json", string(raw))
	if err != nil {
		return QualityReport{}, err
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	if _, err := s.app.db.CreateArtifact(ctx, storage.CreateArtifactRequest{
		ID:           uuid.NewString(),
		SessionID:    s.id,
		ArtifactType: "quality_report",
		FilePath:     path,
		ContentHash:  &hash,
		Metadata:     map[string]any{"score": report.Score, "grade": report.Grade},
	}); err != nil {
		return QualityReport{}, err
	}

	if err := s.finishSession(ctx, model.SessionCompleted, map[string]any{
		"quality_score": report.Score,
		"quality_grade": report.Grade,
	}); err != nil {
		return QualityReport{}, err
	}

	s.app.hooks.ExecutePost(ctx, hooks.EventSessionEnd,
		map[string]any{"session_id": s.id, "score": report.Score, "grade": report.Grade, "report_path": path}, meta)
	s.app.metrics.Evict(s.id)

	if s.app.scoreHist != nil {
		s.app.scoreHist.Record(ctx, int64(report.Score),
			metric.WithAttributes(attribute.String("grade", report.Grade)))
	}

	s.app.logger.Info("session completed",
		"session_id", s.id, "score", report.Score, "grade", report.Grade)
	return toPublicReport(report), nil
}

// Fail ends the session in the failed state. session_end hooks still fire
// and metrics are evicted; no quality report is written.
func (s *ResearchSession) Fail(ctx context.Context, cause error) error {
	meta := map[string]any{"session_id": s.id}
	data := map[string]any{"session_id": s.id, "failed": true}
	if cause != nil {
		data["error"] = cause.Error()
	}
	s.app.hooks.ExecutePre(ctx, hooks.EventSessionEnd, data, meta)

	extra := map[string]any{}
	if cause != nil {
		extra["failure_reason"] = cause.Error()
	}
	if err := s.finishSession(ctx, model.SessionFailed, extra); err != nil {
		return err
	}

	s.app.hooks.ExecutePost(ctx, hooks.EventSessionEnd, data, meta)
	s.app.metrics.Evict(s.id)

	s.app.logger.Warn("session failed", "session_id", s.id, "error", cause)
	return nil
}

// finishSession merges extra keys into the session metadata and sets the
// terminal status.
func (s *ResearchSession) finishSession(ctx context.Context, status model.SessionStatus, extra map[string]any) error {
	sess, err := s.app.db.GetSession(ctx, s.id)
	if err != nil {
		return err
	}
	merged := sess.Metadata
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range extra {
		merged[k] = v
	}
	return s.app.db.UpdateSession(ctx, s.id, model.SessionPatch{
		Status:   &status,
		Metadata: merged,
	})
}

// ── Adapters and helpers ───────────────────────────────────────────────────────

// meteredSink counts hook executions before delegating to the durable
// audit sink.
type meteredSink struct {
	inner   hooks.Sink
	counter metric.Int64Counter
}

func (s *meteredSink) LogHook(ctx context.Context, entry hooks.LogEntry) {
	s.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(entry.Event)),
		attribute.String("phase", string(entry.Phase)),
		attribute.Bool("success", entry.Success),
	))
	s.inner.LogHook(ctx, entry)
}

// memoryStoreAdapter wraps a public MemoryStore to satisfy memory.Store.
type memoryStoreAdapter struct {
	s MemoryStore
}

func (a *memoryStoreAdapter) Add(ctx context.Context, id, content string, metadata map[string]string) (string, error) {
	return a.s.Add(ctx, id, content, metadata)
}

func (a *memoryStoreAdapter) Search(ctx context.Context, query string, n int, where map[string]string) ([]memory.Record, error) {
	records, err := a.s.Search(ctx, query, n, where)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Record, len(records))
	for i, r := range records {
		out[i] = memory.Record{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KENKYU_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (semantic memory degraded)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		}
		logger.Warn("no embedding provider available, using noop (semantic memory degraded)")
		return embedding.NewNoopProvider(dims)
	}
}

func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
