// Package mcp exposes the pattern engine to agents over the Model Context
// Protocol: run and validate patterns, list the library and the capability
// registry, and replay invocation traces from the audit log.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ledgerline/patternd/internal/capability"
	"github.com/ledgerline/patternd/internal/orchestrator"
	"github.com/ledgerline/patternd/pkg/schema"
)

// PatternLibrary is the read side of the loader the server needs.
type PatternLibrary interface {
	Get(id string) (*schema.Pattern, bool)
	List() []*schema.Pattern
}

// TraceReplayer rebuilds past invocation traces from the audit log.
// Satisfied by *store.EventLog; nil disables the invocation.trace tool.
type TraceReplayer interface {
	ReplayTrace(ctx context.Context, invocationID string) (schema.Trace, error)
}

// ServerDeps holds the dependencies for creating a PatternServer.
type ServerDeps struct {
	Interpreter *orchestrator.Interpreter
	Library     PatternLibrary
	Registry    *capability.Registry
	Replayer    TraceReplayer
	Logger      *slog.Logger
}

// PatternServer wraps an MCP server with the pattern engine's tool handlers.
type PatternServer struct {
	interpreter *orchestrator.Interpreter
	library     PatternLibrary
	registry    *capability.Registry
	replayer    TraceReplayer
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewPatternServer creates a PatternServer with all tools registered.
func NewPatternServer(deps ServerDeps) *PatternServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &PatternServer{
		interpreter: deps.Interpreter,
		library:     deps.Library,
		registry:    deps.Registry,
		replayer:    deps.Replayer,
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"patternd",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("patternd executes declarative workflow patterns. Use pattern.run to invoke a pattern, pattern.validate to check one without running it, pattern.list and capability.list to discover what is available, and invocation.trace to replay a past invocation's step trace."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes.
func (s *PatternServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *PatternServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *PatternServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: capabilitiesTool(), Handler: s.handleCapabilities},
		{Tool: traceTool(), Handler: s.handleTrace},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("pattern.run",
		mcp.WithDescription("Execute a pattern and return its outputs and step trace"),
		mcp.WithString("pattern_id", mcp.Required(), mcp.Description("ID of the pattern to run")),
		mcp.WithObject("inputs", mcp.Description("Caller inputs for the invocation")),
		mcp.WithString("pricing_snapshot_id", mcp.Required(), mcp.Description("Pricing snapshot the invocation is pinned to")),
		mcp.WithString("ledger_reference", mcp.Required(), mcp.Description("Ledger reference the invocation reads against")),
		mcp.WithString("trace_id", mcp.Description("Correlation trace id (generated when omitted)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("pattern.validate",
		mcp.WithDescription("Validate a pattern and its inputs without executing it"),
		mcp.WithString("pattern_id", mcp.Required(), mcp.Description("ID of the pattern to validate")),
		mcp.WithObject("inputs", mcp.Description("Caller inputs to check against the pattern's input schema")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("pattern.list",
		mcp.WithDescription("List the loaded pattern library"),
	)
}

func capabilitiesTool() mcp.Tool {
	return mcp.NewTool("capability.list",
		mcp.WithDescription("List registered capabilities and their handlers"),
	)
}

func traceTool() mcp.Tool {
	return mcp.NewTool("invocation.trace",
		mcp.WithDescription("Replay the step trace of a past invocation from the audit log"),
		mcp.WithString("invocation_id", mcp.Required(), mcp.Description("ID of the invocation to replay")),
	)
}
