package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// HistoryTool handles the team_history MCP tool.
type HistoryTool struct {
	leader Leader
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(leader Leader) *HistoryTool {
	return &HistoryTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("team_history",
		mcp.WithDescription("List recent task executions, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("How many executions to list (default 20, max 200)"),
			mcp.Min(1),
			mcp.Max(maxHistoryLimit),
		),
	)
}

// Handle processes the team_history tool call.
func (t *HistoryTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	recs, err := t.leader.History(limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("No task executions recorded yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Last %d executions\n\n", len(recs))
	b.WriteString("| Task | Agent | Type | Status | Complexity | Created |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s |\n",
			r.TaskID, r.AgentType, r.TaskType, r.Status, r.Complexity,
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// StatsTool handles the team_stats MCP tool.
type StatsTool struct {
	leader Leader
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(leader Leader) *StatsTool {
	return &StatsTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("team_stats",
		mcp.WithDescription("Aggregate statistics over every persisted execution."),
	)
}

// Handle processes the team_stats tool call.
func (t *StatsTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.leader.Stats()
	if err != nil {
		return nil, fmt.Errorf("loading stats: %w", err)
	}
	if stats == nil {
		return mcp.NewToolResultText("Persistence is disabled; no statistics available."), nil
	}
	return jsonResult(stats)
}
