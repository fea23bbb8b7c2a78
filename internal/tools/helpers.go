// Package tools implements the MCP tool handlers that expose the team
// leader to an AI host.
//
// Each tool is a struct holding its dependencies with a Definition and a
// Handle method compatible with mcp-go's AddTool. Tools depend on the
// Leader interface rather than on *teamleader.TeamLeader.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/devteam/internal/agents"
	"github.com/HendryAvila/devteam/internal/rules"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/store"
	"github.com/HendryAvila/devteam/internal/task"
	"github.com/HendryAvila/devteam/internal/teamleader"
)

// Leader is the subset of *teamleader.TeamLeader the tools call.
type Leader interface {
	DelegateTask(ctx context.Context, req teamleader.Request) (*task.Result, error)
	DelegateBatch(ctx context.Context, reqs []teamleader.Request) []teamleader.Outcome
	QueueTask(req teamleader.Request, done func(*task.Result, error)) (string, error)
	Cancel(taskID string) bool
	TaskStatus(taskID string) (task.ExecutionRecord, bool, error)
	Status() teamleader.Status
	AvailableAgents() []agents.Snapshot
	QueueStatus() teamleader.QueueStatus
	PhaseStatus() rules.PhaseStatus
	ProgressToPhase(name string) (bool, error)
	SatisfyCriterion(name string) error
	ResetBudget()
	SetAgentMaintenance(agentID string, on bool) (agents.Snapshot, error)
	TaskContext(taskID string) (*task.Context, error)
	History(limit int) ([]task.ExecutionRecord, error)
	Stats() (*store.Stats, error)
}

var _ Leader = (*teamleader.TeamLeader)(nil)

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult turns a domain error into a tool error the host can read.
// The kind and code lead the message so the host can react to them.
func errorResult(err error) *mcp.CallToolResult {
	var se *sdkerr.Error
	if errors.As(err, &se) {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s", se.Kind)
		if se.Code != "" {
			fmt.Fprintf(&b, "/%s", se.Code)
		}
		fmt.Fprintf(&b, "] %s", err.Error())
		return mcp.NewToolResultError(b.String())
	}
	return mcp.NewToolResultError(err.Error())
}

// requestFromArgs builds a delegation request from tool arguments.
func requestFromArgs(args map[string]any) (teamleader.Request, error) {
	var req teamleader.Request
	data, err := json.Marshal(args)
	if err != nil {
		return req, fmt.Errorf("encoding arguments: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, sdkerr.Validation("invalid task arguments: %v", err)
	}
	if req.AgentType == "" {
		return req, sdkerr.Validation("'agent_type' is required")
	}
	if req.TaskType == "" {
		return req, sdkerr.Validation("'task_type' is required")
	}
	if strings.TrimSpace(req.Task) == "" {
		return req, sdkerr.Validation("'task' is required")
	}
	return req, nil
}

// taskArguments are shared by the delegate and queue tools.
func taskArguments() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("agent_type",
			mcp.Required(),
			mcp.Description("Agent to delegate to"),
			mcp.Enum(agents.TypeResearch, agents.TypeCodebaseAnalyzer, agents.TypeFrontend, agents.TypeBackend),
		),
		mcp.WithString("task_type",
			mcp.Required(),
			mcp.Description("Task type the agent supports, e.g. 'market_research', 'security_analysis', 'component_development', 'api_development'"),
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("What the agent should do, in plain language"),
		),
		mcp.WithNumber("complexity",
			mcp.Required(),
			mcp.Description("Complexity score 1-10. Counts against the phase budget."),
			mcp.Min(1),
			mcp.Max(10),
		),
		mcp.WithString("category",
			mcp.Description("Phase task category checked against the current phase. Defaults to task_type."),
		),
		mcp.WithNumber("priority",
			mcp.Description("1 (low) to 4 (critical). Defaults to 2."),
			mcp.Min(1),
			mcp.Max(4),
		),
		mcp.WithString("project_id",
			mcp.Description("Optional project identifier recorded with the execution"),
		),
		mcp.WithObject("metadata",
			mcp.Description("Agent-specific parameters, e.g. repository_path for the codebase analyzer or framework for coders"),
		),
	}
}

// formatResult renders a delegation result as markdown.
func formatResult(res *task.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s\n\n", res.TaskID)
	fmt.Fprintf(&b, "**Agent:** %s\n", res.AgentID)
	fmt.Fprintf(&b, "**Status:** %s\n", res.Status)
	fmt.Fprintf(&b, "**Confidence:** %.2f\n", res.ConfidenceScore)
	fmt.Fprintf(&b, "**Execution time:** %s\n\n", res.ExecutionTime.Round(1e6))
	b.WriteString(res.Content)
	b.WriteString("\n")
	if len(res.Sources) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, s := range res.Sources {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}
