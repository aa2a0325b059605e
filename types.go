package kenkyu

import (
	"time"

	"github.com/ashita-ai/kenkyu/internal/memory"
	"github.com/ashita-ai/kenkyu/internal/model"
	"github.com/ashita-ai/kenkyu/internal/service/quality"
	"github.com/ashita-ai/kenkyu/internal/subagent"
)

// Session is the public view of a research session.
// No internal package imports — safe to use from outside the module.
type Session struct {
	ID        string
	Problem   string
	Status    string
	Plan      *string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentState is the public view of a spawned sub-agent's record.
type AgentState struct {
	ID         string
	SessionID  string
	AgentName  string
	FocusArea  *string
	Status     string
	ResultPath *string
	StateData  map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Artifact is the public view of a recorded output file.
type Artifact struct {
	ID           string
	SessionID    string
	AgentID      *string
	ArtifactType string
	FilePath     string
	ContentHash  *string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// MemoryRecord is one recalled memory with its similarity to the query.
type MemoryRecord struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Thresholds configure the quality gate's scoring and validation floors.
// The zero value is replaced by defaults; use WithThresholds to override.
type Thresholds struct {
	MinSearchesPhase1        int
	MinSearchesTotal         int
	MinCitationsPerPhase     int
	RequireConfidenceRatings bool
}

// QualityReport is the session quality assessment persisted as
// QUALITY_REPORT.json in the session's output directory.
type QualityReport struct {
	Score           int               `json:"score"`
	MaxScore        int               `json:"max_score"`
	Grade           string            `json:"grade"`
	Metrics         QualityMetrics    `json:"metrics"`
	Thresholds      QualityThresholds `json:"thresholds"`
	Recommendations []string          `json:"recommendations"`
}

// QualityMetrics is the telemetry block of a QualityReport.
type QualityMetrics struct {
	SearchCount            int      `json:"search_count"`
	CitationCount          int      `json:"citation_count"`
	PhasesCompleted        []string `json:"phases_completed"`
	ConfidenceRatingsFound int      `json:"confidence_ratings_found"`
	WordCount              int      `json:"word_count"`
	SourcesCited           []string `json:"sources_cited"`
	Issues                 []string `json:"issues"`
}

// QualityThresholds is the thresholds block of a QualityReport.
type QualityThresholds struct {
	MinSearchesTotal     int `json:"min_searches_total"`
	MinCitationsPerPhase int `json:"min_citations_per_phase"`
}

// SubagentConfig describes one sub-agent definition from the catalog.
type SubagentConfig struct {
	Name         string
	Description  string
	SystemPrompt string
	FocusAreas   []string
	Tools        []string
	Model        string
	MaxDepth     int
	Capabilities []string
	Metadata     map[string]any
}

// ── Type converters ────────────────────────────────────────────────────────────

// toPublicSession converts an internal model.Session to the public kenkyu.Session.
func toPublicSession(s model.Session) Session {
	return Session{
		ID:        s.ID,
		Problem:   s.Problem,
		Status:    string(s.Status),
		Plan:      s.Plan,
		Metadata:  s.Metadata,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toPublicAgentState(a model.AgentState) AgentState {
	return AgentState{
		ID:         a.ID,
		SessionID:  a.SessionID,
		AgentName:  a.AgentName,
		FocusArea:  a.FocusArea,
		Status:     string(a.Status),
		ResultPath: a.ResultPath,
		StateData:  a.StateData,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toPublicArtifact(a model.Artifact) Artifact {
	return Artifact{
		ID:           a.ID,
		SessionID:    a.SessionID,
		AgentID:      a.AgentID,
		ArtifactType: a.ArtifactType,
		FilePath:     a.FilePath,
		ContentHash:  a.ContentHash,
		Metadata:     a.Metadata,
		CreatedAt:    a.CreatedAt,
	}
}

func toPublicRecords(records []memory.Record) []MemoryRecord {
	out := make([]MemoryRecord, len(records))
	for i, r := range records {
		out[i] = MemoryRecord{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		}
	}
	return out
}

func toPublicReport(r quality.Report) QualityReport {
	return QualityReport{
		Score:    r.Score,
		MaxScore: r.MaxScore,
		Grade:    r.Grade,
		Metrics: QualityMetrics{
			SearchCount:            r.Metrics.SearchCount,
			CitationCount:          r.Metrics.CitationCount,
			PhasesCompleted:        r.Metrics.PhasesCompleted,
			ConfidenceRatingsFound: r.Metrics.ConfidenceRatingsFound,
			WordCount:              r.Metrics.WordCount,
			SourcesCited:           r.Metrics.SourcesCited,
			Issues:                 r.Metrics.Issues,
		},
		Thresholds: QualityThresholds{
			MinSearchesTotal:     r.Thresholds.MinSearchesTotal,
			MinCitationsPerPhase: r.Thresholds.MinCitationsPerPhase,
		},
		Recommendations: r.Recommendations,
	}
}

func toPublicSubagent(c subagent.Config) SubagentConfig {
	return SubagentConfig{
		Name:         c.Name,
		Description:  c.Description,
		SystemPrompt: c.SystemPrompt,
		FocusAreas:   c.FocusAreas,
		Tools:        c.Tools,
		Model:        c.Model,
		MaxDepth:     c.MaxDepth,
		Capabilities: c.Capabilities,
		Metadata:     c.Metadata,
	}
}

func toPublicSubagents(configs []subagent.Config) []SubagentConfig {
	out := make([]SubagentConfig, len(configs))
	for i, c := range configs {
		out[i] = toPublicSubagent(c)
	}
	return out
}

func fromPublicSubagent(c SubagentConfig) subagent.Config {
	return subagent.Config{
		Name:         c.Name,
		Description:  c.Description,
		SystemPrompt: c.SystemPrompt,
		FocusAreas:   c.FocusAreas,
		Tools:        c.Tools,
		Model:        c.Model,
		MaxDepth:     c.MaxDepth,
		Capabilities: c.Capabilities,
		Metadata:     c.Metadata,
	}
}
