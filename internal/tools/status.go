package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusTool handles the team_status MCP tool.
type StatusTool struct {
	leader Leader
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(leader Leader) *StatusTool {
	return &StatusTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("team_status",
		mcp.WithDescription(
			"Show team leader health: current phase, complexity budget, completed tasks, "+
				"error count, task metrics and connected MCP servers.",
		),
	)
}

// Handle processes the team_status tool call.
func (t *StatusTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.leader.Status())
}

// AgentsTool handles the team_list_agents MCP tool.
type AgentsTool struct {
	leader Leader
}

// NewAgentsTool creates an AgentsTool.
func NewAgentsTool(leader Leader) *AgentsTool {
	return &AgentsTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *AgentsTool) Definition() mcp.Tool {
	return mcp.NewTool("team_list_agents",
		mcp.WithDescription("List the agents with their status, load and supported task types."),
		mcp.WithString("format",
			mcp.Description("'summary' for a table or 'json' for full snapshots. Defaults to 'summary'."),
			mcp.DefaultString("summary"),
			mcp.Enum("summary", "json"),
		),
	)
}

// Handle processes the team_list_agents tool call.
func (t *AgentsTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snaps := t.leader.AvailableAgents()
	if req.GetString("format", "summary") == "json" {
		return jsonResult(snaps)
	}
	if len(snaps) == 0 {
		return mcp.NewToolResultText("No agents registered. Is the team leader initialized?"), nil
	}

	var b strings.Builder
	b.WriteString("| Agent | Type | Status | Load | Success | Task types |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, s := range snaps {
		fmt.Fprintf(&b, "| %s | %s | %s | %d/%d | %.0f%% | %s |\n",
			s.AgentID, s.AgentType, s.Status,
			s.CurrentTasks, s.MaxConcurrentTasks,
			s.SuccessRate*100,
			strings.Join(s.SupportedTaskTypes, ", "))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// QueueStatusTool handles the team_queue_status MCP tool.
type QueueStatusTool struct {
	leader Leader
}

// NewQueueStatusTool creates a QueueStatusTool.
func NewQueueStatusTool(leader Leader) *QueueStatusTool {
	return &QueueStatusTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *QueueStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("team_queue_status",
		mcp.WithDescription("Show active tasks, the 20 most recent finished tasks and orchestrator metrics."),
	)
}

// Handle processes the team_queue_status tool call.
func (t *QueueStatusTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.leader.QueueStatus())
}

// MaintenanceTool handles the team_agent_maintenance MCP tool.
type MaintenanceTool struct {
	leader Leader
}

// NewMaintenanceTool creates a MaintenanceTool.
func NewMaintenanceTool(leader Leader) *MaintenanceTool {
	return &MaintenanceTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *MaintenanceTool) Definition() mcp.Tool {
	return mcp.NewTool("team_agent_maintenance",
		mcp.WithDescription(
			"Take an online agent out of rotation for maintenance, or bring it back. "+
				"Agents in maintenance receive no new tasks.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent id as shown by team_list_agents"),
		),
		mcp.WithBoolean("maintenance",
			mcp.Description("true to enter maintenance, false to return online. Defaults to true."),
			mcp.DefaultBool(true),
		),
	)
}

// Handle processes the team_agent_maintenance tool call.
func (t *MaintenanceTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("agent_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	snap, err := t.leader.SetAgentMaintenance(id, req.GetBool("maintenance", true))
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Agent %s is now %s.", snap.AgentID, snap.Status)), nil
}
