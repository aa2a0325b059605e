package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/philippgille/chromem-go"
)

// DefaultCollection is the collection name for session memories.
const DefaultCollection = "kenkyu_memory"

// ChromemStore is the embedded vector backend. Pure Go, persists to gob
// files under a local directory; no external service required. This is
// the default backend.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *slog.Logger
}

// NewChromemStore opens (or creates) a persistent chromem database at path
// and binds the memory collection. embed computes document and query
// embeddings.
func NewChromemStore(path, collection string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*ChromemStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create store dir: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("memory: open chromem db: %w", err)
	}

	coll, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("memory: open collection %q: %w", collection, err)
	}

	logger.Info("memory: chromem store ready", "path", path, "collection", collection)
	return &ChromemStore{db: db, collection: coll, logger: logger}, nil
}

// Add stores one document. The collection's embedding function computes
// the vector from content.
func (s *ChromemStore) Add(ctx context.Context, id, content string, metadata map[string]string) (string, error) {
	err := s.collection.AddDocuments(ctx, []chromem.Document{{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	}}, 1)
	if err != nil {
		return "", fmt.Errorf("memory: chromem add: %w", err)
	}
	return id, nil
}

// Search returns up to n documents similar to query. chromem requires
// n <= document count, so n is capped at the collection size.
func (s *ChromemStore) Search(ctx context.Context, query string, n int, where map[string]string) ([]Record, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	results, err := s.collection.Query(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: chromem query: %w", err)
	}

	records := make([]Record, len(results))
	for i, r := range results {
		records[i] = Record{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		}
	}
	return records, nil
}

// Count reports how many memories are stored.
func (s *ChromemStore) Count() int {
	return s.collection.Count()
}
