package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/task"
)

// QueueTool handles the team_queue_task MCP tool. The task runs on a
// background worker; its id is returned immediately.
type QueueTool struct {
	leader Leader
	logger *zap.Logger
}

// NewQueueTool creates a QueueTool. logger may be nil.
func NewQueueTool(leader Leader, logger *zap.Logger) *QueueTool {
	return &QueueTool{leader: leader, logger: logging.Named(logger, "tools")}
}

// Definition returns the MCP tool definition for registration.
func (t *QueueTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"Queue a task for background execution and return its task id at once. " +
				"Poll team_task_status with the id to follow it.",
		),
	}, taskArguments()...)
	return mcp.NewTool("team_queue_task", opts...)
}

// Handle processes the team_queue_task tool call.
func (t *QueueTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := requestFromArgs(req.GetArguments())
	if err != nil {
		return errorResult(err), nil
	}
	id, err := t.leader.QueueTask(r, func(res *task.Result, err error) {
		if err != nil {
			t.logger.Warn("queued task failed", zap.Error(err))
			return
		}
		t.logger.Info("queued task completed", zap.String("task_id", res.TaskID))
	})
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Task queued.\n\n**Task ID:** `%s`\n\nUse `team_task_status` with this id to check progress.", id,
	)), nil
}

// CancelTool handles the team_cancel_task MCP tool.
type CancelTool struct {
	leader Leader
}

// NewCancelTool creates a CancelTool.
func NewCancelTool(leader Leader) *CancelTool {
	return &CancelTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *CancelTool) Definition() mcp.Tool {
	return mcp.NewTool("team_cancel_task",
		mcp.WithDescription("Cancel a running or queued task."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Id returned by team_queue_task or shown in team_queue_status"),
		),
	)
}

// Handle processes the team_cancel_task tool call.
func (t *CancelTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	if !t.leader.Cancel(id) {
		return mcp.NewToolResultError(fmt.Sprintf("task %s is not active or queued", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s cancelled.", id)), nil
}

// TaskStatusTool handles the team_task_status MCP tool.
type TaskStatusTool struct {
	leader Leader
}

// NewTaskStatusTool creates a TaskStatusTool.
func NewTaskStatusTool(leader Leader) *TaskStatusTool {
	return &TaskStatusTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *TaskStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("team_task_status",
		mcp.WithDescription("Show the execution record of a task: status, progress, events and result."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task id"),
		),
	)
}

// Handle processes the team_task_status tool call.
func (t *TaskStatusTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	rec, ok, err := t.leader.TaskStatus(id)
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task %s not found", id)), nil
	}
	return jsonResult(rec)
}

// TaskContextTool handles the team_task_context MCP tool.
type TaskContextTool struct {
	leader Leader
}

// NewTaskContextTool creates a TaskContextTool.
func NewTaskContextTool(leader Leader) *TaskContextTool {
	return &TaskContextTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *TaskContextTool) Definition() mcp.Tool {
	return mcp.NewTool("team_task_context",
		mcp.WithDescription(
			"Show the context an agent received for a task: system prompt, MCP availability "+
				"and context hash. Only recent tasks are kept.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task id"),
		),
	)
}

// Handle processes the team_task_context tool call.
func (t *TaskContextTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	actx, err := t.leader.TaskContext(id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(actx)
}
