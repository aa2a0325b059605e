package memory

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kenkyu/internal/service/embedding"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// QdrantStore is the remote vector backend, for deployments that share
// one memory across machines. Vectors are computed client-side through
// the embedding provider; content and metadata travel in the payload.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	embedder   embedding.Provider
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("memory: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("memory: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantStore connects to the Qdrant server via gRPC.
func NewQdrantStore(cfg QdrantConfig, embedder embedding.Provider, logger *slog.Logger) (*QdrantStore, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: connect to qdrant at %s:%d: %w", host, port, err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	return &QdrantStore{
		client:     client,
		collection: collection,
		dims:       cfg.Dims,
		embedder:   embedder,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist and
// ensures all payload indexes are present. CreateFieldIndex is idempotent
// on Qdrant, so indexes added after the collection was first created are
// backfilled on restart.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("memory: check collection exists: %w", err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)

		if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("memory: create collection %q: %w", s.collection, err)
		}
		s.logger.Info("qdrant: created collection", "collection", s.collection, "dims", s.dims)
	} else {
		s.logger.Info("qdrant: collection already exists", "collection", s.collection)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"type", "session_id", "agent_name", "focus_area", "source"} {
		if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("memory: ensure index on %q: %w", field, err)
		}
	}

	s.logger.Info("qdrant: payload indexes ensured", "collection", s.collection)
	return nil
}

// pointID maps a memory id onto a Qdrant point id. Qdrant only accepts
// UUIDs or integers, so non-UUID ids get a deterministic UUIDv5.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Add embeds content and upserts one point. The original memory id rides
// in the payload so Search can return it unchanged.
func (s *QdrantStore) Add(ctx context.Context, id, content string, metadata map[string]string) (string, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("memory: embed content: %w", err)
	}

	payload := map[string]any{
		"memory_id": id,
		"content":   content,
	}
	for k, v := range metadata {
		payload[k] = v
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID(id)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("memory: qdrant upsert: %w", err)
	}
	return id, nil
}

// Search embeds the query and returns the n nearest memories matching the
// where filter.
func (s *QdrantStore) Search(ctx context.Context, query string, n int, where map[string]string) ([]Record, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	var must []*qdrant.Condition
	for k, v := range where {
		must = append(must, qdrant.NewMatch(k, v))
	}

	limit := uint64(n) //nolint:gosec
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memory: qdrant query: %w", err)
	}

	records := make([]Record, 0, len(scored))
	for _, sp := range scored {
		rec := Record{Similarity: sp.Score, Metadata: map[string]string{}}
		for k, v := range sp.Payload {
			switch k {
			case "memory_id":
				rec.ID = v.GetStringValue()
			case "content":
				rec.Content = v.GetStringValue()
			default:
				rec.Metadata[k] = v.GetStringValue()
			}
		}
		if rec.ID == "" {
			rec.ID = sp.Id.GetUuid()
		}
		records = append(records, rec)
	}
	return records, nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds; concurrent checks after cache expiry are deduplicated via
// singleflight so only one gRPC call is made.
func (s *QdrantStore) Healthy(ctx context.Context) error {
	// Fast path: return the cached result if fresh.
	if time.Since(time.Unix(0, s.healthAt.Load())) < 5*time.Second {
		return s.loadHealthErr()
	}

	// Use context.Background() instead of the caller's ctx because
	// singleflight reuses the first caller's context — if that caller
	// cancels, all waiters would get a stale error.
	result, _, _ := s.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := s.client.HealthCheck(checkCtx)
		if err != nil {
			s.storeHealthErr(fmt.Errorf("memory: qdrant unhealthy: %w", err))
		} else {
			s.storeHealthErr(nil)
		}
		s.healthAt.Store(time.Now().UnixNano())
		return s.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (s *QdrantStore) storeHealthErr(err error) {
	s.healthErr.Store(&err)
}

// loadHealthErr loads the cached health error.
func (s *QdrantStore) loadHealthErr() error {
	v := s.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
