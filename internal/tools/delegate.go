package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/devteam/internal/teamleader"
)

// DelegateTool handles the team_delegate_task MCP tool. It runs one task
// synchronously and returns the agent's result.
type DelegateTool struct {
	leader Leader
}

// NewDelegateTool creates a DelegateTool.
func NewDelegateTool(leader Leader) *DelegateTool {
	return &DelegateTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *DelegateTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"Delegate a task to a specialist agent and wait for the result. " +
				"The task must be allowed in the current phase, supported by the agent, " +
				"and fit in the remaining complexity budget. Results containing mock " +
				"or placeholder material are rejected.",
		),
	}, taskArguments()...)
	return mcp.NewTool("team_delegate_task", opts...)
}

// Handle processes the team_delegate_task tool call.
func (t *DelegateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := requestFromArgs(req.GetArguments())
	if err != nil {
		return errorResult(err), nil
	}
	res, err := t.leader.DelegateTask(ctx, r)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(formatResult(res)), nil
}

// BatchTool handles the team_delegate_batch MCP tool.
type BatchTool struct {
	leader Leader
}

// NewBatchTool creates a BatchTool.
func NewBatchTool(leader Leader) *BatchTool {
	return &BatchTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *BatchTool) Definition() mcp.Tool {
	return mcp.NewTool("team_delegate_batch",
		mcp.WithDescription(
			"Delegate several independent tasks concurrently. Each task takes the same "+
				"fields as team_delegate_task. One failure does not stop the others; "+
				"every task reports its own result or error.",
		),
		mcp.WithArray("tasks",
			mcp.Required(),
			mcp.Description("Tasks to delegate"),
			mcp.Items(map[string]any{
				"type":     "object",
				"required": []string{"agent_type", "task_type", "task", "complexity"},
			}),
		),
	)
}

// Handle processes the team_delegate_batch tool call.
func (t *BatchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["tasks"].([]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("'tasks' must be a non-empty array"), nil
	}

	reqs := make([]teamleader.Request, 0, len(raw))
	for i, item := range raw {
		args, ok := item.(map[string]any)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("tasks[%d] must be an object", i)), nil
		}
		r, err := requestFromArgs(args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("tasks[%d]: %v", i, err)), nil
		}
		reqs = append(reqs, r)
	}

	outcomes := t.leader.DelegateBatch(ctx, reqs)

	var b strings.Builder
	failed := 0
	for i, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(&b, "## %d. %s/%s: failed\n\n%s\n\n", i+1, o.Request.AgentType, o.Request.TaskType, o.Error)
			continue
		}
		fmt.Fprintf(&b, "## %d. %s/%s: completed\n\n", i+1, o.Request.AgentType, o.Request.TaskType)
		b.WriteString(formatResult(o.Result))
		b.WriteString("\n")
	}
	header := fmt.Sprintf("# Batch: %d completed, %d failed\n\n", len(outcomes)-failed, failed)
	return mcp.NewToolResultText(header + b.String()), nil
}
