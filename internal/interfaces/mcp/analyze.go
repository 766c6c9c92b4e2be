package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"contextgw-backend/internal/orchestration"
)

// SemanticAnalysisTool handles the semantic_analysis MCP tool.
type SemanticAnalysisTool struct {
	orch *orchestration.Orchestrator
}

// NewSemanticAnalysisTool creates a SemanticAnalysisTool.
func NewSemanticAnalysisTool(orch *orchestration.Orchestrator) *SemanticAnalysisTool {
	return &SemanticAnalysisTool{orch: orch}
}

// Definition returns the MCP tool definition for semantic_analysis.
func (t *SemanticAnalysisTool) Definition() mcp.Tool {
	return mcp.NewTool("semantic_analysis",
		mcp.WithDescription(
			"Analyze context documents for headings and concepts. Results are cached by "+
				"content hash, so repeated analysis of unchanged files is served from cache.",
		),
		mcp.WithString("paths",
			mcp.Required(),
			mcp.Description("Absolute file paths to analyze, separated by newlines or commas"),
		),
	)
}

// Handle processes the semantic_analysis tool call.
func (t *SemanticAnalysisTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := pathsArg(req)
	if len(paths) == 0 {
		return mcp.NewToolResultError("'paths' is required"), nil
	}
	return jsonResult(t.orch.ProcessSemanticAnalysis(ctx, paths)), nil
}

// CrossDomainAnalysisTool handles the cross_domain_analysis MCP tool.
type CrossDomainAnalysisTool struct {
	orch *orchestration.Orchestrator
}

// NewCrossDomainAnalysisTool creates a CrossDomainAnalysisTool.
func NewCrossDomainAnalysisTool(orch *orchestration.Orchestrator) *CrossDomainAnalysisTool {
	return &CrossDomainAnalysisTool{orch: orch}
}

// Definition returns the MCP tool definition for cross_domain_analysis.
func (t *CrossDomainAnalysisTool) Definition() mcp.Tool {
	return mcp.NewTool("cross_domain_analysis",
		mcp.WithDescription(
			"Correlate shared concepts across the domains spanned by the given files. "+
				"Results are cached by the sorted path list.",
		),
		mcp.WithString("paths",
			mcp.Required(),
			mcp.Description("Absolute file paths spanning one or more domains, separated by newlines or commas"),
		),
	)
}

// Handle processes the cross_domain_analysis tool call.
func (t *CrossDomainAnalysisTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := pathsArg(req)
	if len(paths) == 0 {
		return mcp.NewToolResultError("'paths' is required"), nil
	}
	return jsonResult(t.orch.ProcessCrossDomainAnalysis(ctx, paths)), nil
}
