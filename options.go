package kenkyu

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	databasePath      string
	outputDir         string
	subagentsPath     string
	logger            *slog.Logger
	version           string
	embeddingProvider EmbeddingProvider
	memoryStore       MemoryStore
	thresholds        *Thresholds
}

// WithDatabasePath overrides the SQLite database path from config
// (KENKYU_DB_PATH env var).
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = path }
}

// WithOutputDir overrides the root of the research output tree from config
// (KENKYU_OUTPUT_DIR env var).
func WithOutputDir(dir string) Option {
	return func(o *resolvedOptions) { o.outputDir = dir }
}

// WithSubagentsPath overrides the sub-agent catalog path from config
// (KENKYU_SUBAGENTS_PATH env var).
func WithSubagentsPath(path string) Option {
	return func(o *resolvedOptions) { o.subagentsPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and the MCP server.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider
// (Ollama/OpenAI/noop).
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithMemoryStore replaces the configured chromem/Qdrant memory backend.
// Only the last call wins.
func WithMemoryStore(s MemoryStore) Option {
	return func(o *resolvedOptions) { o.memoryStore = s }
}

// WithThresholds overrides the quality gate thresholds from config.
func WithThresholds(t Thresholds) Option {
	return func(o *resolvedOptions) { o.thresholds = &t }
}
