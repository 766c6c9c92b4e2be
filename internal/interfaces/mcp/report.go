package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"contextgw-backend/internal/orchestration"
	"contextgw-backend/internal/rollback"
)

// PerformanceReportTool handles the performance_report MCP tool.
type PerformanceReportTool struct {
	orch *orchestration.Orchestrator
}

// NewPerformanceReportTool creates a PerformanceReportTool.
func NewPerformanceReportTool(orch *orchestration.Orchestrator) *PerformanceReportTool {
	return &PerformanceReportTool{orch: orch}
}

// Definition returns the MCP tool definition for performance_report.
func (t *PerformanceReportTool) Definition() mcp.Tool {
	return mcp.NewTool("performance_report",
		mcp.WithDescription(
			"Report request counters, latency percentiles, cache statistics, and the "+
				"current health status of the performance layer.",
		),
		mcp.WithBoolean("include_health",
			mcp.Description("Also evaluate alert thresholds and include the health check (default: true)"),
		),
	)
}

// Handle processes the performance_report tool call.
func (t *PerformanceReportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload := map[string]any{
		"report": t.orch.GetPerformanceReport(),
	}
	if boolArg(req, "include_health", true) {
		payload["health"] = t.orch.HealthCheck()
	}
	return jsonResult(payload), nil
}

// RollbackStatusTool handles the rollback_status MCP tool.
type RollbackStatusTool struct {
	mgr *rollback.Manager
}

// NewRollbackStatusTool creates a RollbackStatusTool.
func NewRollbackStatusTool(mgr *rollback.Manager) *RollbackStatusTool {
	return &RollbackStatusTool{mgr: mgr}
}

// Definition returns the MCP tool definition for rollback_status.
func (t *RollbackStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("rollback_status",
		mcp.WithDescription(
			"List persisted rollback records, or show one record's full state when "+
				"update_id is given.",
		),
		mcp.WithString("update_id",
			mcp.Description("Inspect a single update attempt instead of listing all records"),
		),
	)
}

// Handle processes the rollback_status tool call.
func (t *RollbackStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if updateID := req.GetString("update_id", ""); updateID != "" {
		state, err := t.mgr.LoadState(updateID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(state), nil
	}

	states, err := t.mgr.ListStates()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"records": states,
		"count":   len(states),
	}), nil
}
