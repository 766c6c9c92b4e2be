// Package mcp exposes the performance layer as MCP tools over stdio. Each
// tool follows the same pattern: a struct with injected dependencies, a
// Definition() returning the schema, and a Handle() processing the call.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// pathsArg parses the "paths" argument: file paths separated by newlines or
// commas, blanks dropped.
func pathsArg(req mcp.CallToolRequest) []string {
	raw := req.GetString("paths", "")
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == ','
	})
	paths := make([]string, 0, len(fields))
	for _, f := range fields {
		if p := strings.TrimSpace(f); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// boolArg extracts a boolean argument, returning defaultVal if the key is
// missing or not a bool.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// jsonResult renders a payload as an indented JSON text result.
func jsonResult(payload any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}
