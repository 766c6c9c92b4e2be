package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"contextgw-backend/internal/infrastructure/fileops"
	"contextgw-backend/internal/orchestration"
)

// HolisticUpdateTool handles the holistic_update MCP tool.
type HolisticUpdateTool struct {
	orch *orchestration.Orchestrator
}

// NewHolisticUpdateTool creates a HolisticUpdateTool.
func NewHolisticUpdateTool(orch *orchestration.Orchestrator) *HolisticUpdateTool {
	return &HolisticUpdateTool{orch: orch}
}

// Definition returns the MCP tool definition for holistic_update.
func (t *HolisticUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("holistic_update",
		mcp.WithDescription(
			"Apply a multi-domain context file update atomically. A snapshot of every "+
				"affected domain is taken first; if any operation fails, all changes are "+
				"rolled back and the result reports what happened.",
		),
		mcp.WithString("operations",
			mcp.Required(),
			mcp.Description(`JSON array of operations: [{"type":"create|update|delete","targetPath":"/abs/path","content":"..."}]`),
		),
		mcp.WithString("update_id",
			mcp.Description("Optional stable identifier for this update attempt; generated when omitted"),
		),
	)
}

// Handle processes the holistic_update tool call.
func (t *HolisticUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetString("operations", "")
	if raw == "" {
		return mcp.NewToolResultError("'operations' is required"), nil
	}

	var specs []struct {
		Type       string `json:"type"`
		TargetPath string `json:"targetPath"`
		Content    string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid 'operations' JSON: %v", err)), nil
	}
	if len(specs) == 0 {
		return mcp.NewToolResultError("'operations' must contain at least one operation"), nil
	}

	ops := make([]fileops.Operation, 0, len(specs))
	for _, s := range specs {
		op := fileops.Operation{
			Type:       fileops.OpType(s.Type),
			TargetPath: s.TargetPath,
		}
		if s.Content != "" {
			op.Content = []byte(s.Content)
		}
		ops = append(ops, op)
	}

	result := t.orch.ProcessHolisticUpdate(ctx, orchestration.HolisticUpdateRequest{
		UpdateID:   req.GetString("update_id", ""),
		Operations: ops,
	})
	return jsonResult(result), nil
}
