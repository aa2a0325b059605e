// Package workspace keeps the session store and the on-disk output tree in
// lockstep. All session/agent path derivation lives here; no other package
// builds output paths itself.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashita-ai/kenkyu/internal/model"
)

// PlanFilename is the rendered research plan inside each session directory.
const PlanFilename = "RESEARCH_PLAN.md"

// SessionUpdater is the slice of the store the workspace needs to mirror
// file writes into structured state.
type SessionUpdater interface {
	UpdateSession(ctx context.Context, id string, patch model.SessionPatch) error
}

// Manager owns the output tree rooted at base: one directory per session,
// one subdirectory per spawned agent.
type Manager struct {
	base   string
	store  SessionUpdater
	logger *slog.Logger
}

// NewManager creates the base output directory if absent.
func NewManager(base string, store SessionUpdater, logger *slog.Logger) (*Manager, error) {
	if base == "" {
		return nil, fmt.Errorf("workspace: empty base directory")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create base dir: %w", err)
	}
	return &Manager{base: base, store: store, logger: logger}, nil
}

// Base returns the root of the output tree.
func (m *Manager) Base() string { return m.base }

// SessionDir returns base/<session_id>, creating it if absent. Idempotent.
func (m *Manager) SessionDir(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("workspace: empty session id")
	}
	dir := filepath.Join(m.base, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create session dir: %w", err)
	}
	return dir, nil
}

// AgentDir returns base/<session_id>/<agent_name>, creating it if absent.
func (m *Manager) AgentDir(sessionID, agentName string) (string, error) {
	if agentName == "" {
		return "", fmt.Errorf("workspace: empty agent name")
	}
	sessionDir, err := m.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(sessionDir, agentName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create agent dir: %w", err)
	}
	return dir, nil
}

// WritePlan writes RESEARCH_PLAN.md under the session directory and mirrors
// the content into the session record's plan field. The file is written
// first: a crash between the two leaves the file as the source of truth
// until the record catches up.
func (m *Manager) WritePlan(ctx context.Context, sessionID, content string) (string, error) {
	sessionDir, err := m.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(sessionDir, PlanFilename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("workspace: write plan: %w", err)
	}
	if err := m.store.UpdateSession(ctx, sessionID, model.SessionPatch{Plan: &content}); err != nil {
		return "", fmt.Errorf("workspace: mirror plan to store: %w", err)
	}
	m.logger.Info("workspace: wrote research plan", "session_id", sessionID, "path", path)
	return path, nil
}

// WriteAgentResult writes a result file into the agent's directory. It does
// not touch the store; callers track artifacts separately.
func (m *Manager) WriteAgentResult(sessionID, agentName, filename, content string) (string, error) {
	agentDir, err := m.AgentDir(sessionID, agentName)
	if err != nil {
		return "", err
	}
	path := filepath.Join(agentDir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("workspace: write agent result: %w", err)
	}
	return path, nil
}

// WriteSessionFile writes a file directly under the session directory.
// Used for session-level outputs such as the quality report.
func (m *Manager) WriteSessionFile(sessionID, filename, content string) (string, error) {
	sessionDir, err := m.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(sessionDir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("workspace: write session file: %w", err)
	}
	return path, nil
}
