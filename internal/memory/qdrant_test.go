package memory

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kenkyu/internal/service/embedding"
)

// newTestQdrantStore connects to a local address with no server running.
// gRPC connects lazily, so construction succeeds and only actual RPCs
// fail. Sufficient for error paths and caching logic.
func newTestQdrantStore(t *testing.T) *QdrantStore {
	t.Helper()
	store, err := NewQdrantStore(QdrantConfig{
		URL:        "http://localhost:16334", // Non-standard port, no server running.
		Collection: "test_memory",
		Dims:       16,
	}, embedding.NewNoopProvider(16), slog.New(slog.DiscardHandler))
	require.NoError(t, err, "NewQdrantStore should succeed (gRPC is lazy-connect)")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewQdrantStore_Valid(t *testing.T) {
	store, err := NewQdrantStore(QdrantConfig{
		URL:        "http://localhost:6333",
		Collection: "memories",
		Dims:       1024,
	}, embedding.NewNoopProvider(1024), slog.New(slog.DiscardHandler))

	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, "memories", store.collection)
	assert.Equal(t, uint64(1024), store.dims)

	_ = store.Close()
}

func TestNewQdrantStore_InvalidURL(t *testing.T) {
	_, err := NewQdrantStore(QdrantConfig{URL: ""}, embedding.NewNoopProvider(16), slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid qdrant URL")
}

func TestNewQdrantStore_DefaultCollection(t *testing.T) {
	store, err := NewQdrantStore(QdrantConfig{
		URL:  "http://localhost:6333",
		Dims: 16,
	}, embedding.NewNoopProvider(16), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, DefaultCollection, store.collection)
	_ = store.Close()
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		url     string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{"http://localhost:6333", "localhost", 6334, false, false},
		{"https://xyz.cloud.qdrant.io:6333", "xyz.cloud.qdrant.io", 6334, true, false},
		{"http://localhost:6334", "localhost", 6334, false, false},
		{"http://localhost:9999", "localhost", 9999, false, false},
		{"https://host.example.com", "host.example.com", 6334, true, false},
		{"http://localhost:notaport", "", 0, false, true},
		{"", "", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			host, port, useTLS, err := parseQdrantURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

func TestPointID(t *testing.T) {
	u := uuid.NewString()
	assert.Equal(t, u, pointID(u), "UUIDs pass through unchanged")

	derived := pointID("abc123def4567890")
	_, err := uuid.Parse(derived)
	require.NoError(t, err, "non-UUID ids map to a valid UUID")
	assert.Equal(t, derived, pointID("abc123def4567890"), "mapping is deterministic")
}

func TestQdrantHealthErr_StoreAndLoad(t *testing.T) {
	store := newTestQdrantStore(t)

	assert.NoError(t, store.loadHealthErr(), "no error stored yet")

	sentinel := errors.New("boom")
	store.storeHealthErr(sentinel)
	assert.ErrorIs(t, store.loadHealthErr(), sentinel)

	store.storeHealthErr(nil)
	assert.NoError(t, store.loadHealthErr())
}

func TestQdrantHealthy_CachesResult(t *testing.T) {
	store := newTestQdrantStore(t)

	// Seed a fresh cached success; Healthy must return it without an RPC.
	store.storeHealthErr(nil)
	store.healthAt.Store(time.Now().UnixNano())
	assert.NoError(t, store.Healthy(context.Background()))

	sentinel := errors.New("cached failure")
	store.storeHealthErr(sentinel)
	store.healthAt.Store(time.Now().UnixNano())
	assert.ErrorIs(t, store.Healthy(context.Background()), sentinel)
}

func TestQdrantSearch_FailsWithoutServer(t *testing.T) {
	store := newTestQdrantStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := store.Search(ctx, "query", 5, map[string]string{"type": "research"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant query")
}

func TestQdrantAdd_FailsWithoutServer(t *testing.T) {
	store := newTestQdrantStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := store.Add(ctx, "m1", "content", map[string]string{"type": "insight"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant upsert")
}

func TestQdrantEnsureCollection_FailsWithoutServer(t *testing.T) {
	store := newTestQdrantStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := store.EnsureCollection(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check collection exists")
}
