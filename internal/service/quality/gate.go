package quality

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Thresholds configure the gate's validation and scoring floors.
type Thresholds struct {
	MinSearchesPhase1        int
	MinSearchesTotal         int
	MinCitationsPerPhase     int
	RequireConfidenceRatings bool
}

// DefaultThresholds returns the stock configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSearchesPhase1:        5,
		MinSearchesTotal:         15,
		MinCitationsPerPhase:     3,
		RequireConfidenceRatings: true,
	}
}

// Research phases detected from output file names. Order matters for the
// phase-completion score denominator.
var phasePatterns = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"phase1", regexp.MustCompile(`(?i)phase1|phase_1|initial.?research`)},
	{"phase2", regexp.MustCompile(`(?i)phase2|phase_2|deep.?dive`)},
	{"phase3", regexp.MustCompile(`(?i)phase3|phase_3|critical.?review`)},
	{"phase4", regexp.MustCompile(`(?i)phase4|phase_4|synthesis`)},
	{"final", regexp.MustCompile(`(?i)final.?report`)},
}

// URL-shaped citations: scheme:// then anything up to whitespace or a
// closing bracket/quote. Deliberately loose; it over- and under-counts on
// pathological text, which is accepted as a heuristic.
var urlPattern = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.-]*://[^\s)\]"'<>]+`)

// A high/medium/low rating adjacent to the word "confidence", either order.
var confidencePattern = regexp.MustCompile(`(?i)\b(?:high|medium|low)\s+confidence\b|\bconfidence[\s:]+(?:high|medium|low)\b`)

// Gate scores one session's research activity against the thresholds.
// All state lives in the shared MetricsStore, so gates are cheap to
// construct per middleware instance.
type Gate struct {
	sessionID  string
	store      *MetricsStore
	thresholds Thresholds
	logger     *slog.Logger
}

// NewGate binds a gate to a session's metrics.
func NewGate(sessionID string, store *MetricsStore, thresholds Thresholds, logger *slog.Logger) *Gate {
	return &Gate{sessionID: sessionID, store: store, thresholds: thresholds, logger: logger}
}

// RecordSearch counts one search. Identical queries each count; the query
// text only feeds logging.
func (g *Gate) RecordSearch(query string) {
	g.store.update(g.sessionID, func(m *Metrics) {
		m.SearchCount++
		g.logger.Debug("quality: recorded search", "session_id", g.sessionID, "query", query, "search_count", m.SearchCount)
	})
}

// RecordWrite extracts telemetry from one written file: word count, phase
// tags from the path, URL citations and confidence ratings from the content.
func (g *Gate) RecordWrite(content, filePath string) {
	words := len(strings.Fields(content))
	urls := urlPattern.FindAllString(content, -1)
	ratings := len(confidencePattern.FindAllString(content, -1))

	g.store.update(g.sessionID, func(m *Metrics) {
		m.WordCount += words

		for _, p := range phasePatterns {
			if !p.re.MatchString(filePath) {
				continue
			}
			if m.hasPhase(p.tag) {
				continue
			}
			m.PhasesCompleted = append(m.PhasesCompleted, p.tag)
			g.logger.Info("quality: phase completed", "session_id", g.sessionID, "phase", p.tag, "path", filePath)
		}

		m.CitationCount += len(urls)
		for _, u := range urls {
			if !m.hasSource(u) {
				m.SourcesCited = append(m.SourcesCited, u)
			}
		}

		m.ConfidenceRatingsFound += ratings
	})
}

// ValidatePhaseTransition checks whether the session has earned the move
// from one research phase to the next. Issues generated here are also
// appended to the cumulative issue log, so repeated failed transitions
// accumulate history. Advisory: callers decide whether to enforce.
func (g *Gate) ValidatePhaseTransition(fromPhase, toPhase string) (bool, []string) {
	var issues []string
	g.store.update(g.sessionID, func(m *Metrics) {
		if fromPhase == "phase1" && m.SearchCount < g.thresholds.MinSearchesPhase1 {
			issues = append(issues, fmt.Sprintf(
				"insufficient searches to leave phase1: %d of %d required",
				m.SearchCount, g.thresholds.MinSearchesPhase1))
		}
		if toPhase == "final" {
			if m.SearchCount < g.thresholds.MinSearchesTotal {
				issues = append(issues, fmt.Sprintf(
					"insufficient searches for final report: %d of %d required",
					m.SearchCount, g.thresholds.MinSearchesTotal))
			}
			if g.thresholds.RequireConfidenceRatings && m.ConfidenceRatingsFound == 0 {
				issues = append(issues, "no confidence ratings found before final report")
			}
		}
		m.Issues = append(m.Issues, issues...)
	})

	if len(issues) > 0 {
		g.logger.Warn("quality: phase transition blocked",
			"session_id", g.sessionID, "from", fromPhase, "to", toPhase, "issues", len(issues))
	}
	return len(issues) == 0, issues
}

// Report is the persisted quality assessment for a session.
type Report struct {
	Score           int              `json:"score"`
	MaxScore        int              `json:"max_score"`
	Grade           string           `json:"grade"`
	Metrics         ReportMetrics    `json:"metrics"`
	Thresholds      ReportThresholds `json:"thresholds"`
	Recommendations []string         `json:"recommendations"`
}

// ReportMetrics is the metrics block of the persisted report.
type ReportMetrics struct {
	SearchCount            int      `json:"search_count"`
	CitationCount          int      `json:"citation_count"`
	PhasesCompleted        []string `json:"phases_completed"`
	ConfidenceRatingsFound int      `json:"confidence_ratings_found"`
	WordCount              int      `json:"word_count"`
	SourcesCited           []string `json:"sources_cited"`
	Issues                 []string `json:"issues"`
}

// ReportThresholds is the thresholds block of the persisted report.
type ReportThresholds struct {
	MinSearchesTotal     int `json:"min_searches_total"`
	MinCitationsPerPhase int `json:"min_citations_per_phase"`
}

// Report computes the 0-100 score, letter grade and recommendations from
// the current metrics. Pure read: it does not mutate state.
func (g *Gate) Report() Report {
	m := g.store.Snapshot(g.sessionID)

	score := g.searchScore(m) + g.citationScore(m) + phaseScore(m) + confidenceScore(m) + sourceScore(m)

	return Report{
		Score:    score,
		MaxScore: 100,
		Grade:    grade(score),
		Metrics: ReportMetrics{
			SearchCount:            m.SearchCount,
			CitationCount:          m.CitationCount,
			PhasesCompleted:        emptyNotNil(m.PhasesCompleted),
			ConfidenceRatingsFound: m.ConfidenceRatingsFound,
			WordCount:              m.WordCount,
			SourcesCited:           emptyNotNil(m.SourcesCited),
			Issues:                 emptyNotNil(m.Issues),
		},
		Thresholds: ReportThresholds{
			MinSearchesTotal:     g.thresholds.MinSearchesTotal,
			MinCitationsPerPhase: g.thresholds.MinCitationsPerPhase,
		},
		Recommendations: g.recommendations(m),
	}
}

// Search coverage: up to 30 points, linear to the total-search floor.
func (g *Gate) searchScore(m Metrics) int {
	ratio := float64(m.SearchCount) / float64(g.thresholds.MinSearchesTotal)
	if ratio > 1 {
		ratio = 1
	}
	return int(30 * ratio)
}

// Citation density: up to 25 points, full marks at 5 citations per 1000
// words. Zero-word sessions score zero.
func (g *Gate) citationScore(m Metrics) int {
	if m.WordCount == 0 {
		return 0
	}
	density := float64(m.CitationCount) / float64(m.WordCount) * 1000
	ratio := density / 5
	if ratio > 1 {
		ratio = 1
	}
	return int(25 * ratio)
}

// Phase completion: 5 points per completed research phase, out of five.
func phaseScore(m Metrics) int {
	return 25 * len(m.PhasesCompleted) / len(phasePatterns)
}

func confidenceScore(m Metrics) int {
	switch {
	case m.ConfidenceRatingsFound >= 3:
		return 10
	case m.ConfidenceRatingsFound > 0:
		return 5
	default:
		return 0
	}
}

func sourceScore(m Metrics) int {
	switch {
	case len(m.SourcesCited) >= 10:
		return 10
	case len(m.SourcesCited) >= 5:
		return 5
	default:
		return 0
	}
}

func grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// recommendations re-checks the underlying conditions directly rather than
// restating the score components.
func (g *Gate) recommendations(m Metrics) []string {
	recs := []string{}
	if m.SearchCount < g.thresholds.MinSearchesTotal {
		recs = append(recs, fmt.Sprintf(
			"Perform more searches: %d done, %d expected", m.SearchCount, g.thresholds.MinSearchesTotal))
	}
	if m.CitationCount < 10 {
		recs = append(recs, "Add more URL citations to findings: at least 10 expected")
	}
	if len(m.SourcesCited) < 5 {
		recs = append(recs, "Cite a wider range of sources: at least 5 distinct URLs expected")
	}
	if !m.hasPhase("phase3") {
		recs = append(recs, "Complete a critical review pass (phase3) before synthesis")
	}
	if m.ConfidenceRatingsFound == 0 {
		recs = append(recs, "Mark findings with confidence ratings (high/medium/low)")
	}
	return recs
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
