// Package mcp exposes grimoire to AI agents over the Model Context
// Protocol: flow validation, schema export, registry listing, and
// scripted (non-interactive) flow execution.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with the grimoire tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"grimoire",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("grimoire/validate",
			mcp.WithDescription("Validate a grimoire flow YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the flow YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("grimoire/run",
			mcp.WithDescription("Run a grimoire flow non-interactively with a seeded dice roller; flows that prompt the player fail"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the flow YAML file")),
			mcp.WithString("flows", mcp.Description("Directory of flows for sub-flow resolution (defaults to the flow's directory)")),
			mcp.WithNumber("seed", mcp.Description("Dice seed (default 1)")),
		),
		HandleRun,
	)

	s.AddTool(
		mcp.NewTool("grimoire/schema",
			mcp.WithDescription("Export the grimoire flow JSON Schema"),
		),
		HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("grimoire/list",
			mcp.WithDescription("List the flows in a directory"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Directory containing flow YAML files")),
		),
		HandleList,
	)

	return s
}
