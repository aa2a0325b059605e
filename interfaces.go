package kenkyu

import "context"

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces auto-detected
// Ollama/OpenAI/noop.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// MemoryStore is a vector backend for the semantic memory.
// When provided via WithMemoryStore, replaces the configured
// chromem/Qdrant backend. Implementations must treat metadata filters in
// where as exact-match conjunctions.
type MemoryStore interface {
	Add(ctx context.Context, id, content string, metadata map[string]string) (string, error)
	Search(ctx context.Context, query string, n int, where map[string]string) ([]MemoryRecord, error)
}
