package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ledgerline/patternd/pkg/schema"
)

// handleRun executes one pattern invocation.
func (s *PatternServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patternID, err := req.RequireString("pattern_id")
	if err != nil {
		return mcp.NewToolResultError("pattern_id is required"), nil
	}
	snapshotID, err := req.RequireString("pricing_snapshot_id")
	if err != nil {
		return mcp.NewToolResultError("pricing_snapshot_id is required"), nil
	}
	ledgerRef, err := req.RequireString("ledger_reference")
	if err != nil {
		return mcp.NewToolResultError("ledger_reference is required"), nil
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	reqCtx := schema.NewRequestContext(snapshotID, ledgerRef)
	if traceID := req.GetString("trace_id", ""); traceID != "" {
		reqCtx.TraceID = traceID
	}

	result, runErr := s.interpreter.Run(ctx, patternID, inputs, reqCtx)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pattern run failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleValidate checks a pattern without executing it.
func (s *PatternServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patternID, err := req.RequireString("pattern_id")
	if err != nil {
		return mcp.NewToolResultError("pattern_id is required"), nil
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	result := s.interpreter.Validate(patternID, inputs)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// patternSummary is the listing shape for one pattern.
type patternSummary struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Steps   int      `json:"steps"`
	Outputs []string `json:"outputs,omitempty"`
	Shape   string   `json:"outputShape"`
}

// handleList lists the loaded pattern library.
func (s *PatternServer) handleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patterns := s.library.List()
	summaries := make([]patternSummary, 0, len(patterns))
	for _, p := range patterns {
		summaries = append(summaries, patternSummary{
			ID:      p.ID,
			Name:    p.Name,
			Steps:   len(p.Steps),
			Outputs: p.Outputs.DeclaredKeys(),
			Shape:   string(p.Outputs.Shape),
		})
	}
	return marshalResult(map[string]any{
		"patterns": summaries,
		"count":    len(summaries),
	})
}

// handleCapabilities lists registered capabilities with routing info.
func (s *PatternServer) handleCapabilities(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := s.registry.ListInfo()
	return marshalResult(map[string]any{
		"capabilities": infos,
		"count":        len(infos),
	})
}

// handleTrace replays a past invocation's step trace from the audit log.
func (s *PatternServer) handleTrace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.replayer == nil {
		return mcp.NewToolResultError("audit store is not configured; invocation traces are unavailable"), nil
	}
	invocationID, err := req.RequireString("invocation_id")
	if err != nil {
		return mcp.NewToolResultError("invocation_id is required"), nil
	}

	trace, replayErr := s.replayer.ReplayTrace(ctx, invocationID)
	if replayErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trace replay failed: %v", replayErr)), nil
	}
	return marshalResult(map[string]any{
		"invocation_id": invocationID,
		"trace":         trace,
		"steps":         len(trace),
	})
}

// marshalResult serializes a value as an indented-JSON text result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to serialize result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
