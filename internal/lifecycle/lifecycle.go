// Package lifecycle provides the thin adapters between agent-loop events
// and the durable side effects they trigger. Each middleware follows the
// same shape: Before runs PRE hooks (and may abort), After performs exactly
// one persistence or memory side effect and then runs POST hooks.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/kenkyu/hooks"
	"github.com/ashita-ai/kenkyu/internal/model"
	"github.com/ashita-ai/kenkyu/internal/service/quality"
)

// ErrAborted is returned by Before when a PRE hook set ShouldAbort.
var ErrAborted = errors.New("lifecycle: operation aborted by hook")

// Store is the slice of the session store the middlewares write to.
type Store interface {
	CreateAgentState(ctx context.Context, id, sessionID, agentName string, focusArea *string, stateData map[string]any) (model.AgentState, error)
	UpdateAgentState(ctx context.Context, id string, patch model.AgentStatePatch) error
}

// Workspace mirrors plan content into the output tree and the store.
type Workspace interface {
	WritePlan(ctx context.Context, sessionID, content string) (string, error)
}

// Memory is the semantic cache the middlewares feed. Optional: a nil
// Memory in the Context disables the memory side effects.
type Memory interface {
	RememberResearch(ctx context.Context, sessionID, agentName, content, focusArea string, tags []string) (string, error)
	RememberInsight(ctx context.Context, sessionID, content, source string) (string, error)
}

// Context carries the shared collaborators for one session's middleware
// chain. Memory and Gate are optional.
type Context struct {
	SessionID string
	Hooks     *hooks.Registry
	Store     Store
	Workspace Workspace
	Memory    Memory
	Gate      *quality.Gate
	Logger    *slog.Logger
}

func (c *Context) meta() map[string]any {
	return map[string]any{"session_id": c.SessionID}
}

// rememberInsight feeds the semantic cache, logging failures instead of
// failing the pipeline: the cache is advisory, never load-bearing.
func (c *Context) rememberInsight(ctx context.Context, content, source string) {
	if c.Memory == nil {
		return
	}
	if _, err := c.Memory.RememberInsight(ctx, c.SessionID, content, source); err != nil {
		c.Logger.Warn("lifecycle: memory insight write failed", "session_id", c.SessionID, "source", source, "error", err)
	}
}

// asMap returns data as a map when a hook rewrote it to one, else the
// fallback.
func asMap(data any, fallback map[string]any) map[string]any {
	if m, ok := data.(map[string]any); ok {
		return m
	}
	return fallback
}

func abortRequested(results []hooks.Result) bool {
	for _, r := range results {
		if r.ShouldAbort {
			return true
		}
	}
	return false
}

// PlanCreation guards the research-plan generation step.
type PlanCreation struct {
	ctx *Context
}

// NewPlanCreation builds the plan-creation middleware.
func NewPlanCreation(c *Context) *PlanCreation { return &PlanCreation{ctx: c} }

// Before runs PRE hooks over the plan request. An aborting hook fails the
// whole operation.
func (m *PlanCreation) Before(ctx context.Context, planData map[string]any) (map[string]any, error) {
	data, results := m.ctx.Hooks.ExecutePre(ctx, hooks.EventPlanCreation, planData, m.ctx.meta())
	if abortRequested(results) {
		return nil, fmt.Errorf("%w: plan creation", ErrAborted)
	}
	return asMap(data, planData), nil
}

// After persists the rendered plan, runs POST hooks (which may rewrite the
// plan text) and caches the plan as a memory insight.
func (m *PlanCreation) After(ctx context.Context, planContent string) (string, error) {
	path, err := m.ctx.Workspace.WritePlan(ctx, m.ctx.SessionID, planContent)
	if err != nil {
		return "", err
	}

	data, _ := m.ctx.Hooks.ExecutePost(ctx, hooks.EventPlanCreation,
		map[string]any{"plan": planContent, "path": path}, m.ctx.meta())

	m.ctx.rememberInsight(ctx, "Research Plan:\n"+planContent, "plan_creation")

	m.ctx.Logger.Info("lifecycle: plan created", "session_id", m.ctx.SessionID, "path", path)

	if out := asMap(data, nil); out != nil {
		if plan, ok := out["plan"].(string); ok {
			return plan, nil
		}
	}
	return planContent, nil
}

// AgentSpawn guards sub-agent creation.
type AgentSpawn struct {
	ctx *Context
}

// NewAgentSpawn builds the agent-spawn middleware.
func NewAgentSpawn(c *Context) *AgentSpawn { return &AgentSpawn{ctx: c} }

// Before runs PRE hooks over the spawn configuration. An aborting hook
// vetoes the spawn.
func (m *AgentSpawn) Before(ctx context.Context, agentConfig map[string]any) (map[string]any, error) {
	data, results := m.ctx.Hooks.ExecutePre(ctx, hooks.EventAgentSpawn, agentConfig, m.ctx.meta())
	if abortRequested(results) {
		name, _ := agentConfig["name"].(string)
		return nil, fmt.Errorf("%w: agent spawn %q", ErrAborted, name)
	}
	return asMap(data, agentConfig), nil
}

// After records the spawned agent in the store and runs POST hooks.
// The spawn configuration is snapshotted into state_data.
func (m *AgentSpawn) After(ctx context.Context, agentConfig map[string]any, agentID string) (string, error) {
	name, _ := agentConfig["name"].(string)
	if name == "" {
		name = "unnamed"
	}
	var focusArea *string
	if fa, ok := agentConfig["focus_area"].(string); ok && fa != "" {
		focusArea = &fa
	}

	if _, err := m.ctx.Store.CreateAgentState(ctx, agentID, m.ctx.SessionID, name, focusArea, agentConfig); err != nil {
		return "", err
	}

	m.ctx.Hooks.ExecutePost(ctx, hooks.EventAgentSpawn,
		map[string]any{"agent_id": agentID, "config": agentConfig}, m.ctx.meta())

	m.ctx.Logger.Info("lifecycle: agent spawned", "session_id", m.ctx.SessionID, "agent", name, "agent_id", agentID)
	return agentID, nil
}

// ResearchWrite observes research output writes. PRE hooks may rewrite the
// write request but cannot veto it.
type ResearchWrite struct {
	ctx *Context
}

// NewResearchWrite builds the research-write middleware.
func NewResearchWrite(c *Context) *ResearchWrite { return &ResearchWrite{ctx: c} }

// Before runs PRE hooks over the write request.
func (m *ResearchWrite) Before(ctx context.Context, writeData map[string]any) (map[string]any, error) {
	data, _ := m.ctx.Hooks.ExecutePre(ctx, hooks.EventResearchWrite, writeData, m.ctx.meta())
	return asMap(data, writeData), nil
}

// After feeds the quality gate and the research memory, then runs POST
// hooks.
func (m *ResearchWrite) After(ctx context.Context, writeData map[string]any, filePath string) (string, error) {
	content, _ := writeData["content"].(string)

	if m.ctx.Gate != nil {
		m.ctx.Gate.RecordWrite(content, filePath)
	}

	if m.ctx.Memory != nil && content != "" {
		agentName, _ := writeData["agent_name"].(string)
		if agentName == "" {
			agentName = "unknown"
		}
		focusArea, _ := writeData["focus_area"].(string)
		var tags []string
		if raw, ok := writeData["tags"].([]string); ok {
			tags = raw
		}
		if _, err := m.ctx.Memory.RememberResearch(ctx, m.ctx.SessionID, agentName, content, focusArea, tags); err != nil {
			m.ctx.Logger.Warn("lifecycle: research memory write failed", "session_id", m.ctx.SessionID, "agent", agentName, "error", err)
		}
	}

	m.ctx.Hooks.ExecutePost(ctx, hooks.EventResearchWrite,
		map[string]any{"path": filePath, "data": writeData}, m.ctx.meta())

	m.ctx.Logger.Debug("lifecycle: research written", "session_id", m.ctx.SessionID, "path", filePath)
	return filePath, nil
}

// Search observes web searches and caches a one-line summary of each as a
// memory insight.
type Search struct {
	ctx *Context
}

// NewSearch builds the search middleware.
func NewSearch(c *Context) *Search { return &Search{ctx: c} }

// Before runs PRE hooks over the query.
func (m *Search) Before(ctx context.Context, searchQuery map[string]any) (map[string]any, error) {
	data, _ := m.ctx.Hooks.ExecutePre(ctx, hooks.EventSearch, searchQuery, m.ctx.meta())
	return asMap(data, searchQuery), nil
}

// After feeds the quality gate, runs POST hooks (which may rewrite the
// result list) and caches the search summary.
func (m *Search) After(ctx context.Context, searchQuery map[string]any, results []any) ([]any, error) {
	query, _ := searchQuery["query"].(string)

	if m.ctx.Gate != nil {
		m.ctx.Gate.RecordSearch(query)
	}

	data, _ := m.ctx.Hooks.ExecutePost(ctx, hooks.EventSearch,
		map[string]any{"query": searchQuery, "results": results}, m.ctx.meta())

	if len(results) > 0 {
		summary := fmt.Sprintf("Search: %s\nResults: %d found", query, len(results))
		m.ctx.rememberInsight(ctx, summary, "web_search")
	}

	if out := asMap(data, nil); out != nil {
		if rewritten, ok := out["results"].([]any); ok {
			return rewritten, nil
		}
	}
	return results, nil
}

// AgentCompletion marks a spawned agent finished.
type AgentCompletion struct {
	ctx *Context
}

// NewAgentCompletion builds the completion middleware.
func NewAgentCompletion(c *Context) *AgentCompletion { return &AgentCompletion{ctx: c} }

// Before runs PRE hooks over the completion data.
func (m *AgentCompletion) Before(ctx context.Context, completionData map[string]any) (map[string]any, error) {
	data, _ := m.ctx.Hooks.ExecutePre(ctx, hooks.EventCompletion, completionData, m.ctx.meta())
	return asMap(data, completionData), nil
}

// After marks the agent completed in the store and runs POST hooks.
// Completion data without an agent_id skips the store update.
func (m *AgentCompletion) After(ctx context.Context, completionData map[string]any, result any) (any, error) {
	if agentID, ok := completionData["agent_id"].(string); ok && agentID != "" {
		status := model.AgentCompleted
		patch := model.AgentStatePatch{Status: &status}
		if rp, ok := completionData["result_path"].(string); ok && rp != "" {
			patch.ResultPath = &rp
		}
		if err := m.ctx.Store.UpdateAgentState(ctx, agentID, patch); err != nil {
			return nil, err
		}
	}

	m.ctx.Hooks.ExecutePost(ctx, hooks.EventCompletion,
		map[string]any{"completion_data": completionData, "result": result}, m.ctx.meta())

	if name, ok := completionData["agent_name"].(string); ok {
		m.ctx.Logger.Info("lifecycle: agent completed", "session_id", m.ctx.SessionID, "agent", name)
	}
	return result, nil
}
