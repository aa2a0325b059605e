// Package memory is the long-term semantic cache for research sessions.
// Findings and insights are stored as embedded documents and recalled by
// similarity; the rest of the system treats it as an opaque
// remember-and-search oracle.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ashita-ai/kenkyu/hooks"
)

// Record is one stored memory, returned from recall operations.
type Record struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Store is the vector backend. Two implementations exist: the embedded
// chromem store (default) and the remote Qdrant store.
type Store interface {
	// Add stores content under id with the given metadata and returns the id.
	Add(ctx context.Context, id, content string, metadata map[string]string) (string, error)

	// Search returns up to n records similar to query, restricted to
	// exact metadata matches in where.
	Search(ctx context.Context, query string, n int, where map[string]string) ([]Record, error)
}

// newMemoryID derives a short content-addressed id, salted with the
// current time so identical content stored twice gets distinct ids.
func newMemoryID(content string) string {
	sum := sha256.Sum256([]byte(content + time.Now().UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// Manager wraps a Store with the typed remember/recall operations the
// middlewares use. An optional hook registry lets callers observe and
// rewrite memory traffic via the memory_store/memory_recall events.
type Manager struct {
	store  Store
	hooks  *hooks.Registry
	logger *slog.Logger
}

// NewManager creates a memory manager. reg may be nil to disable memory
// hooks.
func NewManager(store Store, reg *hooks.Registry, logger *slog.Logger) *Manager {
	return &Manager{store: store, hooks: reg, logger: logger}
}

func (m *Manager) remember(ctx context.Context, sessionID, content string, metadata map[string]string) (string, error) {
	if m.hooks != nil {
		data, _ := m.hooks.ExecutePre(ctx, hooks.EventMemoryStore, content, map[string]any{"session_id": sessionID})
		if rewritten, ok := data.(string); ok {
			content = rewritten
		}
	}

	metadata["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	metadata["content_length"] = strconv.Itoa(len(content))

	id, err := m.store.Add(ctx, newMemoryID(content), content, metadata)
	if err != nil {
		return "", fmt.Errorf("memory: remember: %w", err)
	}

	if m.hooks != nil {
		m.hooks.ExecutePost(ctx, hooks.EventMemoryStore,
			map[string]any{"memory_id": id, "type": metadata["type"]},
			map[string]any{"session_id": sessionID})
	}

	m.logger.Debug("memory: stored", "memory_id", id, "type", metadata["type"], "session_id", sessionID)
	return id, nil
}

// RememberResearch stores a research finding produced by an agent.
func (m *Manager) RememberResearch(ctx context.Context, sessionID, agentName, content, focusArea string, tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("memory: marshal tags: %w", err)
	}
	return m.remember(ctx, sessionID, content, map[string]string{
		"type":       "research",
		"session_id": sessionID,
		"agent_name": agentName,
		"focus_area": focusArea,
		"tags":       string(tagsJSON),
	})
}

// RememberInsight stores a general insight or learning.
func (m *Manager) RememberInsight(ctx context.Context, sessionID, content, source string) (string, error) {
	return m.remember(ctx, sessionID, content, map[string]string{
		"type":       "insight",
		"session_id": sessionID,
		"source":     source,
	})
}

func (m *Manager) recall(ctx context.Context, query string, n int, where map[string]string) ([]Record, error) {
	if n <= 0 {
		n = 5
	}

	if m.hooks != nil {
		data, _ := m.hooks.ExecutePre(ctx, hooks.EventMemoryRecall, query, nil)
		if rewritten, ok := data.(string); ok {
			query = rewritten
		}
	}

	records, err := m.store.Search(ctx, query, n, where)
	if err != nil {
		return nil, fmt.Errorf("memory: recall: %w", err)
	}

	if m.hooks != nil {
		m.hooks.ExecutePost(ctx, hooks.EventMemoryRecall,
			map[string]any{"query": query, "results": len(records)}, nil)
	}
	return records, nil
}

// RecallRelevant returns memories similar to query. A non-empty sessionID
// restricts results to that session.
func (m *Manager) RecallRelevant(ctx context.Context, query string, n int, sessionID string) ([]Record, error) {
	var where map[string]string
	if sessionID != "" {
		where = map[string]string{"session_id": sessionID}
	}
	return m.recall(ctx, query, n, where)
}

// RecallByType returns memories of a specific type ("research", "insight")
// similar to query.
func (m *Manager) RecallByType(ctx context.Context, memoryType, query string, n int) ([]Record, error) {
	return m.recall(ctx, query, n, map[string]string{"type": memoryType})
}

// SessionMemories returns up to limit memories belonging to a session,
// ranked against a broad catch-all query.
func (m *Manager) SessionMemories(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.recall(ctx, "research findings insights", limit, map[string]string{"session_id": sessionID})
}
