package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

// AskTool handles the ask MCP tool.
type AskTool struct {
	dispatcher Dispatcher
}

// NewAskTool creates an AskTool.
func NewAskTool(d Dispatcher) *AskTool {
	return &AskTool{dispatcher: d}
}

// Definition returns the MCP tool definition for ask.
func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool("ask",
		mcp.WithDescription(
			"Route a natural-language test engineering request to the matching workflow "+
				"(test case generation, impact analysis, regression recommendation or test case optimization) "+
				"and return the response envelope as JSON.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The request, e.g. a requirement to generate test cases for"),
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project whose documents and test cases are searched"),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation to continue; created when missing"),
		),
		mcp.WithString("task",
			mcp.Description("Skip classification: "+variantList()),
		),
		mcp.WithObject("params",
			mcp.Description("Workflow parameters, e.g. {\"changed_modules\": [\"支付\"], \"limit\": 20}"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Deadline for the whole request (default 300)"),
		),
	)
}

// Handle processes the ask tool call. Dispatcher failures come back as a
// normal envelope with ok=false; only bad arguments are tool errors.
func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if strings.TrimSpace(message) == "" {
		return mcp.NewToolResultError("message is required"), nil
	}
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("project_id is required"), nil
	}

	r := orchestrator.Request{
		Message:        message,
		ProjectID:      projectID,
		ConversationID: req.GetString("conversation_id", ""),
		Timeout:        time.Duration(floatArg(req, "timeout_seconds", 0) * float64(time.Second)),
	}
	if name := req.GetString("task", ""); name != "" {
		v, ok := task.Parse(name)
		if !ok || v == task.Unknown {
			return mcp.NewToolResultError(fmt.Sprintf("unknown task %q (want one of %s)", name, variantList())), nil
		}
		r.Task = v
	}
	var params workflow.Params
	if _, err := decodeArg(req, "params", &params); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r.Params = params

	return jsonResult(t.dispatcher.Handle(ctx, r)), nil
}

func variantList() string {
	var names []string
	for _, v := range task.Variants() {
		if v != task.Unknown {
			names = append(names, string(v))
		}
	}
	return strings.Join(names, ", ")
}

// ListWorkflowsTool handles the list_workflows MCP tool.
type ListWorkflowsTool struct {
	dispatcher Dispatcher
}

// NewListWorkflowsTool creates a ListWorkflowsTool.
func NewListWorkflowsTool(d Dispatcher) *ListWorkflowsTool {
	return &ListWorkflowsTool{dispatcher: d}
}

// Definition returns the MCP tool definition for list_workflows.
func (t *ListWorkflowsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_workflows",
		mcp.WithDescription("List the registered workflows with their descriptions."),
	)
}

// Handle processes the list_workflows tool call.
func (t *ListWorkflowsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := t.dispatcher.Workflows()
	if infos == nil {
		infos = []orchestrator.Info{}
	}
	return jsonResult(map[string]any{"workflows": infos}), nil
}
