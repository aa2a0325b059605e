// Command kenkyu runs the research coordination core.
//
// Subcommands:
//
//	mcp              serve the MCP interface over stdio (default)
//	list [status]    list sessions, optionally filtered by status
//	status <id>      show one session with its agents and artifacts
//	report <id>      print the persisted quality report for a session
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"

	kenkyu "github.com/ashita-ai/kenkyu"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KENKYU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Logs go to stderr: the mcp subcommand owns stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cmd := "mcp"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	app, err := kenkyu.New(
		kenkyu.WithLogger(logger),
		kenkyu.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	switch cmd {
	case "mcp":
		logger.Info("kenkyu mcp serving on stdio", "version", version)
		return mcpserver.ServeStdio(app.MCPServer())
	case "list":
		status := ""
		if len(os.Args) > 2 {
			status = os.Args[2]
		}
		sessions, err := app.Sessions(ctx, status)
		if err != nil {
			return err
		}
		return printJSON(sessions)
	case "status":
		id, err := sessionArg()
		if err != nil {
			return err
		}
		session, err := app.Session(ctx, id)
		if err != nil {
			return err
		}
		agents, err := app.SessionAgents(ctx, id)
		if err != nil {
			return err
		}
		artifacts, err := app.SessionArtifacts(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"session":   session,
			"agents":    agents,
			"artifacts": artifacts,
		})
	case "report":
		id, err := sessionArg()
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(filepath.Join(app.OutputDir(), id, "QUALITY_REPORT.json"))
		if err != nil {
			return fmt.Errorf("no quality report for session %s: %w", id, err)
		}
		_, err = os.Stdout.Write(raw)
		return err
	default:
		return fmt.Errorf("unknown command %q (want mcp, list, status or report)", cmd)
	}
}

func sessionArg() (string, error) {
	if len(os.Args) < 3 || os.Args[2] == "" {
		return "", fmt.Errorf("usage: kenkyu %s <session-id>", os.Args[1])
	}
	return os.Args[2], nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
