// Package quality grades a research session's rigor from structural
// telemetry: searches performed, files written, citations found. It never
// re-reads model output for semantic correctness.
package quality

import "sync"

// Metrics accumulate monotonically for the life of one session. There is
// no reset: a new session id gets a fresh instance.
type Metrics struct {
	SearchCount            int
	CitationCount          int
	PhasesCompleted        []string
	ConfidenceRatingsFound int
	WordCount              int
	SourcesCited           []string
	Issues                 []string
}

func (m *Metrics) hasPhase(tag string) bool {
	for _, p := range m.PhasesCompleted {
		if p == tag {
			return true
		}
	}
	return false
}

func (m *Metrics) hasSource(url string) bool {
	for _, s := range m.SourcesCited {
		if s == url {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to read outside the store lock.
func (m *Metrics) clone() Metrics {
	out := *m
	out.PhasesCompleted = append([]string(nil), m.PhasesCompleted...)
	out.SourcesCited = append([]string(nil), m.SourcesCited...)
	out.Issues = append([]string(nil), m.Issues...)
	return out
}

// MetricsStore holds per-session metrics for the sessions currently in
// flight. The driver owns the lifecycle: entries are created on first use
// and evicted after the session ends and its report has been persisted,
// so a long-running process does not grow without bound.
type MetricsStore struct {
	mu       sync.Mutex
	sessions map[string]*Metrics
}

// NewMetricsStore creates an empty store.
func NewMetricsStore() *MetricsStore {
	return &MetricsStore{sessions: make(map[string]*Metrics)}
}

// update runs fn against the session's metrics under the store lock,
// creating the entry on first use.
func (s *MetricsStore) update(sessionID string, fn func(*Metrics)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[sessionID]
	if !ok {
		m = &Metrics{}
		s.sessions[sessionID] = m
	}
	fn(m)
}

// Snapshot returns a copy of the session's current metrics. A session
// with no recorded activity yields zero-valued metrics.
func (s *MetricsStore) Snapshot(sessionID string) Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.sessions[sessionID]; ok {
		return m.clone()
	}
	return Metrics{}
}

// Evict discards a session's metrics. Safe to call for unknown ids.
func (s *MetricsStore) Evict(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len reports how many sessions currently hold metrics.
func (s *MetricsStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
