// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration.
type Config struct {
	// Storage settings.
	DatabasePath string // SQLite database file for session state.
	OutputDir    string // Root of the per-session output tree.

	// Memory settings.
	MemoryBackend    string // "chromem" or "qdrant"
	MemoryPath       string // chromem persistence directory.
	MemoryCollection string
	QdrantURL        string
	QdrantAPIKey     string

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.
	OllamaURL           string
	OllamaModel         string

	// Quality gate thresholds.
	MinSearchesPhase1        int
	MinSearchesTotal         int
	MinCitationsPerPhase     int
	RequireConfidenceRatings bool

	// Sub-agent catalog.
	SubagentsPath string // JSONL catalog; empty disables the catalog.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		DatabasePath:             envStr("KENKYU_DB_PATH", "kenkyu.db"),
		OutputDir:                envStr("KENKYU_OUTPUT_DIR", "research_output"),
		MemoryBackend:            envStr("KENKYU_MEMORY_BACKEND", "chromem"),
		MemoryPath:               envStr("KENKYU_MEMORY_PATH", ".kenkyu_memory"),
		MemoryCollection:         envStr("KENKYU_MEMORY_COLLECTION", "kenkyu_memory"),
		QdrantURL:                envStr("QDRANT_URL", ""),
		QdrantAPIKey:             envStr("QDRANT_API_KEY", ""),
		EmbeddingProvider:        envStr("KENKYU_EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:             envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:           envStr("KENKYU_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions:      envInt("KENKYU_EMBEDDING_DIMENSIONS", 1024),
		OllamaURL:                envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:              envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		MinSearchesPhase1:        envInt("KENKYU_MIN_SEARCHES_PHASE1", 5),
		MinSearchesTotal:         envInt("KENKYU_MIN_SEARCHES_TOTAL", 15),
		MinCitationsPerPhase:     envInt("KENKYU_MIN_CITATIONS_PER_PHASE", 3),
		RequireConfidenceRatings: envBool("KENKYU_REQUIRE_CONFIDENCE_RATINGS", true),
		SubagentsPath:            envStr("KENKYU_SUBAGENTS_PATH", ""),
		OTELEndpoint:             envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:             envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:              envStr("OTEL_SERVICE_NAME", "kenkyu"),
		LogLevel:                 envStr("KENKYU_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("config: KENKYU_DB_PATH is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("config: KENKYU_OUTPUT_DIR is required")
	}
	switch c.MemoryBackend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("config: KENKYU_MEMORY_BACKEND must be \"chromem\" or \"qdrant\", got %q", c.MemoryBackend)
	}
	if c.MemoryBackend == "qdrant" && c.QdrantURL == "" {
		return fmt.Errorf("config: QDRANT_URL is required when KENKYU_MEMORY_BACKEND=qdrant")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: KENKYU_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MinSearchesTotal <= 0 {
		return fmt.Errorf("config: KENKYU_MIN_SEARCHES_TOTAL must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
