package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wyrdbound/grimoire/pkg/providers"
	"github.com/wyrdbound/grimoire/pkg/runtime"
	"github.com/wyrdbound/grimoire/pkg/schema"
)

// HandleValidate implements the grimoire/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	fl, warnings, errs := schema.ValidateFile(path)
	if len(errs) > 0 {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", fl.Name, len(fl.Steps))
	if len(warnings) > 0 {
		msg += "\nwarnings:\n  " + strings.Join(warnings, "\n  ")
	}
	return textResult(msg), nil
}

// HandleSchema implements the grimoire/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleList implements the grimoire/list MCP tool.
func HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	reg, _, err := runtime.LoadDir(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	ids := reg.IDs()
	if len(ids) == 0 {
		return textResult("no flows found"), nil
	}
	var b strings.Builder
	for _, id := range ids {
		fl, _ := reg.Get(id)
		fmt.Fprintf(&b, "%s — %s (%d steps)\n", id, fl.Name, len(fl.Steps))
	}
	return textResult(b.String()), nil
}

// HandleRun implements the grimoire/run MCP tool. Agent runs are
// non-interactive: flows that solicit player decisions fail with the
// scripted UI's exhaustion error rather than blocking on a prompt.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	fl, _, errs := schema.ValidateFile(path)
	if len(errs) > 0 {
		return errorResult(formatErrors(errs)), nil
	}

	flowsDir, _ := args["flows"].(string)
	if flowsDir == "" {
		flowsDir = filepath.Dir(path)
	}
	reg, _, err := runtime.LoadDir(flowsDir)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	seed := int64(1)
	if n, ok := args["seed"].(float64); ok {
		seed = int64(n)
	}

	inputs := make(map[string]any)
	if raw, ok := args["inputs"].(map[string]any); ok {
		for k, v := range raw {
			inputs[k] = v
		}
	}

	host := providers.Host{
		Dice:  providers.NewSeededDice(seed),
		Names: providers.NewSyllableNames(seed),
		LLM:   providers.EchoLLM{},
		UI:    providers.NewScriptedUI(nil, nil),
	}

	eng := runtime.New(fl, host, runtime.WithRegistry(reg))
	outputs, ticket, err := eng.Run(ctx, inputs)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if ticket != nil {
		return errorResult(fmt.Sprintf("flow paused at step %q; MCP runs do not carry tickets", ticket.StepID)), nil
	}

	data, err := json.MarshalIndent(outputs, "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func formatErrors(errs []*schema.ValidationError) string {
	var b strings.Builder
	for _, e := range errs {
		fmt.Fprintf(&b, "%s\n", e.Error())
	}
	return b.String()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
