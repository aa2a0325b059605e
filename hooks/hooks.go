// Package hooks implements the lifecycle hook registry.
//
// External code registers handlers against a fixed vocabulary of lifecycle
// events, each with a PRE and POST phase. Dispatch is strictly sequential:
// handlers run in ascending priority order (ties broken by registration
// order), each one seeing the data as rewritten by the handlers before it.
// A handler can veto the in-flight operation by setting ShouldAbort on its
// result; the caller decides what an abort means for its own control flow.
//
// The registry imports nothing from the rest of the module, so both internal
// packages and embedding consumers can depend on it without cycles.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Phase is when a hook runs relative to the guarded operation.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Event is a named lifecycle event.
type Event string

// The fixed event vocabulary. Registering a hook for any other event fails
// with ErrUnknownEvent.
const (
	EventPlanCreation  Event = "plan_creation"
	EventAgentSpawn    Event = "agent_spawn"
	EventResearchWrite Event = "research_write"
	EventSearch        Event = "search"
	EventCompletion    Event = "completion"
	EventSessionStart  Event = "session_start"
	EventSessionEnd    Event = "session_end"
	EventMemoryStore   Event = "memory_store"
	EventMemoryRecall  Event = "memory_recall"
	EventSkillLoad     Event = "skill_load"
	EventToolCall      Event = "tool_call"
)

// Events is the set of valid lifecycle events.
var Events = map[Event]bool{
	EventPlanCreation:  true,
	EventAgentSpawn:    true,
	EventResearchWrite: true,
	EventSearch:        true,
	EventCompletion:    true,
	EventSessionStart:  true,
	EventSessionEnd:    true,
	EventMemoryStore:   true,
	EventMemoryRecall:  true,
	EventSkillLoad:     true,
	EventToolCall:      true,
}

// ErrUnknownEvent is returned by Register for events outside the vocabulary.
var ErrUnknownEvent = fmt.Errorf("hooks: unknown event")

// Handler is a registered hook callback. It receives the current pipeline
// data and a per-dispatch context map, and returns either a *Result or a
// bare replacement value. A bare non-nil return value is equivalent to
// &Result{Success: true, ModifiedData: value}. A returned error is recovered
// by the dispatcher and recorded as a failed Result; it never stops the
// dispatch.
type Handler func(ctx context.Context, data any, meta map[string]any) (any, error)

// Result is the structured outcome of a single hook execution.
type Result struct {
	Success bool `json:"success"`
	// ModifiedData, when non-nil, replaces the pipeline data for all
	// subsequent hooks in this dispatch and for the final return value.
	ModifiedData any    `json:"modified_data,omitempty"`
	Error        string `json:"error,omitempty"`
	// ShouldAbort stops the dispatch: hooks after this one do not run.
	ShouldAbort bool `json:"should_abort,omitempty"`
}

// Hook is a registered hook. Treat it as an opaque handle for Unregister
// and SetEnabled. Enabled is read under the registry lock during dispatch;
// toggle it via Registry.SetEnabled, not by writing the field.
type Hook struct {
	Name     string
	Event    Event
	Phase    Phase
	Priority int // lower runs first
	Enabled  bool

	handler Handler
	seq     int // registration order, tiebreak for equal priorities
}

// LogEntry is one row of the hook execution audit trail.
// Payload and Result are best-effort JSON snapshots of the data the hook
// received and the Result it produced; empty when the data was nil.
type LogEntry struct {
	HookName  string
	Event     Event
	Phase     Phase
	SessionID string
	Success   bool
	Error     string
	Payload   string
	Result    string
}

// Sink receives audit entries for durable storage. Persistence failures are
// logged and otherwise ignored; the audit trail is diagnostic only.
type Sink interface {
	LogHook(ctx context.Context, entry LogEntry)
}

// Registry holds registered hooks and dispatches lifecycle events.
// All methods are safe for concurrent use, but handlers within one Execute
// call always run sequentially.
type Registry struct {
	mu     sync.Mutex
	hooks  map[Event][]*Hook
	seq    int
	log    []LogEntry
	sink   Sink
	logger *slog.Logger
}

// NewRegistry creates an empty hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		hooks:  make(map[Event][]*Hook),
		logger: logger,
	}
}

// SetSink attaches a durable audit sink. Pass nil to detach.
func (r *Registry) SetSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Register adds a hook for an event phase and returns its handle.
// name may be empty; a stable name is derived from the event and phase.
func (r *Registry) Register(event Event, handler Handler, phase Phase, name string, priority int) (*Hook, error) {
	if !Events[event] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	if handler == nil {
		return nil, fmt.Errorf("hooks: nil handler for event %q", event)
	}
	if phase != PhasePre && phase != PhasePost {
		return nil, fmt.Errorf("hooks: invalid phase %q", phase)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s_%s_%d", event, phase, len(r.hooks[event]))
	}
	h := &Hook{
		Name:     name,
		Event:    event,
		Phase:    phase,
		Priority: priority,
		Enabled:  true,
		handler:  handler,
		seq:      r.seq,
	}
	r.seq++

	r.hooks[event] = append(r.hooks[event], h)
	// Stable order: ascending priority, then registration order.
	sort.SliceStable(r.hooks[event], func(i, j int) bool {
		a, b := r.hooks[event][i], r.hooks[event][j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.seq < b.seq
	})

	r.logger.Debug("hooks: registered", "hook", h.Name, "event", event, "phase", phase, "priority", priority)
	return h, nil
}

// SetEnabled toggles whether a hook participates in dispatch, without
// unregistering it. Returns false if the handle is not (or no longer)
// registered.
func (r *Registry) SetEnabled(h *Hook, enabled bool) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cur := range r.hooks[h.Event] {
		if cur == h {
			cur.Enabled = enabled
			return true
		}
	}
	return false
}

// Unregister removes a previously registered hook.
// Returns false if the handle is not (or no longer) registered.
func (r *Registry) Unregister(h *Hook) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.hooks[h.Event]
	for i, cur := range list {
		if cur == h {
			r.hooks[h.Event] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Hooks returns the hooks registered for an event, in dispatch order.
// With the zero Event it returns all hooks across all events.
func (r *Registry) Hooks(event Event) []*Hook {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event != "" {
		out := make([]*Hook, len(r.hooks[event]))
		copy(out, r.hooks[event])
		return out
	}
	var out []*Hook
	for _, list := range r.hooks {
		out = append(out, list...)
	}
	return out
}

// Execute runs every enabled hook for (event, phase) in priority order and
// returns the final pipeline data plus one Result per hook that ran.
//
// A handler error (or panic) yields a failed Result and the dispatch
// continues with unchanged data. A Result with ShouldAbort set stops the
// dispatch; data already rewritten by earlier hooks is still returned.
func (r *Registry) Execute(ctx context.Context, event Event, phase Phase, data any, meta map[string]any) (any, []Result) {
	if meta == nil {
		meta = map[string]any{}
	}

	r.mu.Lock()
	var matched []*Hook
	for _, h := range r.hooks[event] {
		if h.Phase == phase && h.Enabled {
			matched = append(matched, h)
		}
	}
	r.mu.Unlock()

	current := data
	results := make([]Result, 0, len(matched))

	for _, h := range matched {
		input := current
		res := r.invoke(ctx, h, input, meta)

		if res.ModifiedData != nil {
			current = res.ModifiedData
		}
		results = append(results, res)
		r.record(ctx, h, meta, input, res)

		if res.ShouldAbort {
			r.logger.Warn("hooks: abort requested", "hook", h.Name, "event", event, "phase", phase)
			break
		}
	}

	return current, results
}

// ExecutePre runs the PRE-phase hooks for an event.
func (r *Registry) ExecutePre(ctx context.Context, event Event, data any, meta map[string]any) (any, []Result) {
	return r.Execute(ctx, event, PhasePre, data, meta)
}

// ExecutePost runs the POST-phase hooks for an event.
func (r *Registry) ExecutePost(ctx context.Context, event Event, data any, meta map[string]any) (any, []Result) {
	return r.Execute(ctx, event, PhasePost, data, meta)
}

// Log returns a copy of the in-process audit trail.
func (r *Registry) Log() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.log))
	copy(out, r.log)
	return out
}

// ClearLog discards the in-process audit trail.
func (r *Registry) ClearLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}

// invoke calls one handler, converting bare returns, errors, and panics into
// a Result.
func (r *Registry) invoke(ctx context.Context, h *Hook, data any, meta map[string]any) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("hooks: handler panic", "hook", h.Name, "event", h.Event, "panic", p)
			res = Result{Success: false, Error: fmt.Sprintf("panic: %v", p)}
		}
	}()

	out, err := h.handler(ctx, data, meta)
	if err != nil {
		r.logger.Error("hooks: handler failed", "hook", h.Name, "event", h.Event, "error", err)
		return Result{Success: false, Error: err.Error()}
	}

	switch v := out.(type) {
	case *Result:
		if v == nil {
			return Result{Success: true}
		}
		return *v
	case Result:
		return v
	default:
		return Result{Success: true, ModifiedData: v}
	}
}

func (r *Registry) record(ctx context.Context, h *Hook, meta map[string]any, data any, res Result) {
	entry := LogEntry{
		HookName: h.Name,
		Event:    h.Event,
		Phase:    h.Phase,
		Success:  res.Success,
		Error:    res.Error,
		Payload:  jsonSnapshot(data),
		Result:   jsonSnapshot(res),
	}
	if sid, ok := meta["session_id"].(string); ok {
		entry.SessionID = sid
	}

	r.mu.Lock()
	r.log = append(r.log, entry)
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink.LogHook(ctx, entry)
	}
}

// jsonSnapshot serializes v for the audit trail. Unmarshalable values
// degrade to their Go string form; the audit trail never fails a dispatch.
func jsonSnapshot(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
