// Package mcpserver exposes the dispatcher and the quality engine as MCP
// tools over stdio.
//
// Each tool is a struct with its dependencies injected via constructor,
// a Definition() returning the mcp.Tool schema and a Handle() method.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/lucasnoah/casepilot/internal/orchestrator"
)

// Dispatcher is what the ask and list_workflows tools need.
type Dispatcher interface {
	Handle(ctx context.Context, req orchestrator.Request) *orchestrator.Response
	Workflows() []orchestrator.Info
}

// Options configures the server.
type Options struct {
	Version            string
	DuplicateThreshold float64
}

// New creates the MCP server with every tool registered.
func New(d Dispatcher, opts Options) *server.MCPServer {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := server.NewMCPServer(
		"casepilot",
		opts.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	ask := NewAskTool(d)
	s.AddTool(ask.Definition(), ask.Handle)

	workflows := NewListWorkflowsTool(d)
	s.AddTool(workflows.Definition(), workflows.Handle)

	coverage := NewScoreCoverageTool()
	s.AddTool(coverage.Definition(), coverage.Handle)

	duplicates := NewDetectDuplicatesTool(opts.DuplicateThreshold)
	s.AddTool(duplicates.Definition(), duplicates.Handle)

	check := NewCheckQualityTool()
	s.AddTool(check.Definition(), check.Handle)

	rank := NewRankCasesTool()
	s.AddTool(rank.Definition(), rank.Handle)

	return s
}

// ServeStdio blocks serving s on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
