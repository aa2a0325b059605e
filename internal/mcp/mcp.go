// Package mcp implements the Model Context Protocol server for kenkyu.
//
// The MCP server exposes session state and the semantic memory through
// MCP resources and tools, allowing MCP-compatible AI agents to inspect
// running research sessions and recall cached findings.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kenkyu/internal/memory"
	"github.com/ashita-ai/kenkyu/internal/model"
	"github.com/ashita-ai/kenkyu/internal/service/quality"
	"github.com/ashita-ai/kenkyu/internal/storage"
)

// Server wraps the MCP server with kenkyu's session store and memory.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	db         *storage.DB
	memory     *memory.Manager
	metrics    *quality.MetricsStore
	thresholds quality.Thresholds
	logger     *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, mem *memory.Manager, metrics *quality.MetricsStore, thresholds quality.Thresholds, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:         db,
		memory:     mem,
		metrics:    metrics,
		thresholds: thresholds,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kenkyu",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// kenkyu://sessions — recent research sessions.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kenkyu://sessions",
			"Research Sessions",
			mcplib.WithResourceDescription("Recent research sessions, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSessions,
	)

	// kenkyu://session/{id} — one session with its agents and artifacts.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"kenkyu://session/{id}",
			"Session Detail",
			mcplib.WithTemplateDescription("One research session with its sub-agents and artifacts"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleSessionDetail,
	)
}

func (s *Server) registerTools() {
	// kenkyu_status — session progress summary.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenkyu_status",
			mcplib.WithDescription("Summarize a research session: status, plan presence, sub-agent progress and artifacts"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
		),
		s.handleStatus,
	)

	// kenkyu_report — quality assessment for a session.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenkyu_report",
			mcplib.WithDescription("Compute the quality report for a session: score, grade, telemetry and recommendations"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
		),
		s.handleReport,
	)

	// kenkyu_recall — semantic memory search.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenkyu_recall",
			mcplib.WithDescription("Search the research memory by semantic similarity. Finds cached findings and insights."),
			mcplib.WithString("query", mcplib.Description("Natural language search query"), mcplib.Required()),
			mcplib.WithString("session_id", mcplib.Description("Restrict results to one session")),
			mcplib.WithString("type", mcplib.Description("Restrict results to one memory type (research or insight)")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleRecall,
	)
}

func (s *Server) handleSessions(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	sessions, err := s.db.ListSessions(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: list sessions: %w", err)
	}
	if len(sessions) > 20 {
		sessions = sessions[:20]
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal sessions: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kenkyu://sessions",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSessionDetail(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, "kenkyu://session/")
	if id == "" || id == uri {
		return nil, fmt.Errorf("mcp: invalid session URI: %s", uri)
	}

	session, err := s.db.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: session detail: %w", err)
	}
	agents, err := s.db.ListSessionAgents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: session agents: %w", err)
	}
	artifacts, err := s.db.ListSessionArtifacts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: session artifacts: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"session":   session,
		"agents":    agents,
		"artifacts": artifacts,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal session detail: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		return errorResult("session_id is required"), nil
	}

	session, err := s.db.GetSession(ctx, sessionID)
	if err != nil {
		return errorResult(fmt.Sprintf("session lookup failed: %v", err)), nil
	}
	agents, err := s.db.ListSessionAgents(ctx, sessionID)
	if err != nil {
		return errorResult(fmt.Sprintf("agent lookup failed: %v", err)), nil
	}
	artifacts, err := s.db.ListSessionArtifacts(ctx, sessionID)
	if err != nil {
		return errorResult(fmt.Sprintf("artifact lookup failed: %v", err)), nil
	}

	completed := 0
	for _, a := range agents {
		if a.Status == model.AgentCompleted {
			completed++
		}
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"session_id":       session.ID,
		"status":           session.Status,
		"problem":          session.Problem,
		"has_plan":         session.Plan != nil,
		"agents_total":     len(agents),
		"agents_completed": completed,
		"artifacts":        len(artifacts),
		"updated_at":       session.UpdatedAt,
	}, "", "  ")

	return textResult(string(resultData)), nil
}

func (s *Server) handleReport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		return errorResult("session_id is required"), nil
	}

	session, err := s.db.GetSession(ctx, sessionID)
	if err != nil {
		return errorResult(fmt.Sprintf("session lookup failed: %v", err)), nil
	}

	// Completed sessions have their metrics evicted; serve the persisted
	// summary from the session metadata instead.
	if session.Status == model.SessionCompleted {
		if score, ok := session.Metadata["quality_score"]; ok {
			resultData, _ := json.MarshalIndent(map[string]any{
				"session_id": sessionID,
				"score":      score,
				"grade":      session.Metadata["quality_grade"],
				"source":     "session_metadata",
			}, "", "  ")
			return textResult(string(resultData)), nil
		}
	}

	gate := quality.NewGate(sessionID, s.metrics, s.thresholds, s.logger)
	report := gate.Report()

	resultData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal report failed: %v", err)), nil
	}
	return textResult(string(resultData)), nil
}

func (s *Server) handleRecall(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	limit := request.GetInt("limit", 5)

	var (
		records []memory.Record
		err     error
	)
	if memoryType := request.GetString("type", ""); memoryType != "" {
		records, err = s.memory.RecallByType(ctx, memoryType, query, limit)
	} else {
		records, err = s.memory.RecallRelevant(ctx, query, limit, request.GetString("session_id", ""))
	}
	if err != nil {
		return errorResult(fmt.Sprintf("recall failed: %v", err)), nil
	}

	type hit struct {
		ID         string            `json:"id"`
		Content    string            `json:"content"`
		Metadata   map[string]string `json:"metadata,omitempty"`
		Similarity float32           `json:"similarity"`
	}
	hits := make([]hit, len(records))
	for i, r := range records {
		hits[i] = hit{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Similarity: r.Similarity}
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"results": hits,
		"total":   len(hits),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
