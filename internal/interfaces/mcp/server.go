package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"contextgw-backend/internal/orchestration"
	"contextgw-backend/internal/rollback"
)

// Version is the MCP server version reported to clients.
const Version = "1.0.0"

// NewServer builds the MCP server with every performance tool registered.
func NewServer(orch *orchestration.Orchestrator, mgr *rollback.Manager) *server.MCPServer {
	s := server.NewMCPServer(
		"contextgw",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(
			"Performance layer for context document management: cached semantic and "+
				"cross-domain analysis plus snapshot-protected atomic multi-domain updates.",
		),
	)

	semanticTool := NewSemanticAnalysisTool(orch)
	s.AddTool(semanticTool.Definition(), semanticTool.Handle)

	crossTool := NewCrossDomainAnalysisTool(orch)
	s.AddTool(crossTool.Definition(), crossTool.Handle)

	updateTool := NewHolisticUpdateTool(orch)
	s.AddTool(updateTool.Definition(), updateTool.Handle)

	reportTool := NewPerformanceReportTool(orch)
	s.AddTool(reportTool.Definition(), reportTool.Handle)

	statusTool := NewRollbackStatusTool(mgr)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	return s
}

// ServeStdio runs the MCP server on stdin/stdout until the client closes the
// stream.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
