// Package model defines the core data types shared across the storage,
// workspace, and lifecycle layers.
package model

import "time"

// SessionStatus is the lifecycle state of a research session.
// The set is open: callers may record other states, these are the ones the
// core itself writes.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session is one end-to-end research request and its accumulated state.
// Created once at session start; Status, Plan, and Metadata are mutated by
// middleware over the session's life. The core never deletes sessions.
type Session struct {
	ID        string         `json:"id"`
	Problem   string         `json:"problem"`
	Status    SessionStatus  `json:"status"`
	Plan      *string        `json:"plan,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SessionPatch is the allow-list of session fields that UpdateSession may
// change. Nil fields are left untouched; a patch with no fields set is a
// no-op (no write, no updated_at refresh).
type SessionPatch struct {
	Problem  *string
	Status   *SessionStatus
	Plan     *string
	Metadata map[string]any
}

// IsEmpty reports whether the patch would change nothing.
func (p SessionPatch) IsEmpty() bool {
	return p.Problem == nil && p.Status == nil && p.Plan == nil && p.Metadata == nil
}

// AgentStatus is the lifecycle state of a spawned sub-agent.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// AgentState tracks one spawned sub-agent within a session. Created on
// spawn; Status and ResultPath are set on completion, immutable thereafter.
type AgentState struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	AgentName  string         `json:"agent_name"`
	FocusArea  *string        `json:"focus_area,omitempty"`
	Status     AgentStatus    `json:"status"`
	ResultPath *string        `json:"result_path,omitempty"`
	StateData  map[string]any `json:"state_data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// AgentStatePatch is the allow-list of agent fields UpdateAgentState may change.
type AgentStatePatch struct {
	Status     *AgentStatus
	ResultPath *string
	StateData  map[string]any
}

// IsEmpty reports whether the patch would change nothing.
func (p AgentStatePatch) IsEmpty() bool {
	return p.Status == nil && p.ResultPath == nil && p.StateData == nil
}

// Artifact is a write-once record of a produced output file.
type Artifact struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	AgentID      *string        `json:"agent_id,omitempty"`
	ArtifactType string         `json:"artifact_type"`
	FilePath     string         `json:"file_path"`
	ContentHash  *string        `json:"content_hash,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// HookLogEntry is an append-only audit row for one hook execution.
// Diagnostic only: the core writes these and never reads them back.
type HookLogEntry struct {
	ID         int64     `json:"id"`
	SessionID  *string   `json:"session_id,omitempty"`
	HookName   string    `json:"hook_name"`
	EventType  string    `json:"event_type"`
	Payload    *string   `json:"payload,omitempty"`
	Result     *string   `json:"result,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}
