package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/devteam/internal/rules"
)

// PhaseStatusTool handles the team_phase_status MCP tool.
type PhaseStatusTool struct {
	leader Leader
}

// NewPhaseStatusTool creates a PhaseStatusTool.
func NewPhaseStatusTool(leader Leader) *PhaseStatusTool {
	return &PhaseStatusTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *PhaseStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("team_phase_status",
		mcp.WithDescription(
			"Show the current development phase, its budget use, pending completion "+
				"criteria and whether the next phase can be entered.",
		),
	)
}

// Handle processes the team_phase_status tool call.
func (t *PhaseStatusTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatPhaseStatus(t.leader.PhaseStatus())), nil
}

func formatPhaseStatus(ps rules.PhaseStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Phase: %s (%s)\n\n", ps.PhaseName, ps.CurrentPhase)
	fmt.Fprintf(&b, "**Budget:** %d used, %d reserved, %d remaining of %d\n",
		ps.ComplexityUsed, ps.ComplexityReserved, ps.ComplexityRemaining, ps.ComplexityBudget)
	fmt.Fprintf(&b, "**Tasks completed:** %d\n", ps.TasksCompleted)
	fmt.Fprintf(&b, "**Progress:** %.0f%%\n", ps.PhaseProgress*100)
	if ps.PhaseOverdue {
		b.WriteString("**Overdue:** phase has exceeded its time limit\n")
	}
	if len(ps.PendingCriteria) > 0 {
		b.WriteString("\n## Pending criteria\n\n")
		for _, c := range ps.PendingCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\n## Next\n\n")
	switch {
	case ps.NextPhase == "":
		b.WriteString("This is the last phase.\n")
	case ps.CanProgress:
		fmt.Fprintf(&b, "Ready to enter **%s**. Call `team_progress_phase`.\n", ps.NextPhase)
	default:
		fmt.Fprintf(&b, "Satisfy the pending criteria with `team_satisfy_criterion` before entering **%s**.\n", ps.NextPhase)
	}
	return b.String()
}

// ProgressTool handles the team_progress_phase MCP tool.
type ProgressTool struct {
	leader Leader
}

// NewProgressTool creates a ProgressTool.
func NewProgressTool(leader Leader) *ProgressTool {
	return &ProgressTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *ProgressTool) Definition() mcp.Tool {
	names := make([]string, len(rules.PhaseOrder))
	for i, p := range rules.PhaseOrder {
		names[i] = string(p)
	}
	return mcp.NewTool("team_progress_phase",
		mcp.WithDescription(
			"Move to the next development phase. Phases are strictly sequential and "+
				"every completion criterion of the current phase must be satisfied first.",
		),
		mcp.WithString("phase",
			mcp.Required(),
			mcp.Description("Phase to enter; must be the one after the current phase"),
			mcp.Enum(names...),
		),
	)
}

// Handle processes the team_progress_phase tool call.
func (t *ProgressTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phase, err := req.RequireString("phase")
	if err != nil || phase == "" {
		return mcp.NewToolResultError("'phase' is required"), nil
	}
	ok, err := t.leader.ProgressToPhase(phase)
	if err != nil {
		return errorResult(err), nil
	}
	ps := t.leader.PhaseStatus()
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf(
			"cannot enter %s from %s\n\n%s", phase, ps.CurrentPhase, formatPhaseStatus(ps),
		)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Entered phase %s.\n\n%s", phase, formatPhaseStatus(ps))), nil
}

// CriterionTool handles the team_satisfy_criterion MCP tool.
type CriterionTool struct {
	leader Leader
}

// NewCriterionTool creates a CriterionTool.
func NewCriterionTool(leader Leader) *CriterionTool {
	return &CriterionTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *CriterionTool) Definition() mcp.Tool {
	return mcp.NewTool("team_satisfy_criterion",
		mcp.WithDescription("Mark a completion criterion of the current phase as met."),
		mcp.WithString("criterion",
			mcp.Required(),
			mcp.Description("Criterion name as listed by team_phase_status"),
		),
	)
}

// Handle processes the team_satisfy_criterion tool call.
func (t *CriterionTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("criterion")
	if err != nil || name == "" {
		return mcp.NewToolResultError("'criterion' is required"), nil
	}
	if err := t.leader.SatisfyCriterion(name); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Criterion %s satisfied.\n\n%s",
		name, formatPhaseStatus(t.leader.PhaseStatus()))), nil
}

// ResetBudgetTool handles the team_reset_budget MCP tool.
type ResetBudgetTool struct {
	leader Leader
}

// NewResetBudgetTool creates a ResetBudgetTool.
func NewResetBudgetTool(leader Leader) *ResetBudgetTool {
	return &ResetBudgetTool{leader: leader}
}

// Definition returns the MCP tool definition for registration.
func (t *ResetBudgetTool) Definition() mcp.Tool {
	return mcp.NewTool("team_reset_budget",
		mcp.WithDescription(
			"Reset the spent complexity budget for a new project or part. "+
				"Reservations held by running tasks are kept.",
		),
	)
}

// Handle processes the team_reset_budget tool call.
func (t *ResetBudgetTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t.leader.ResetBudget()
	return mcp.NewToolResultText("Complexity budget reset.\n\n" + formatPhaseStatus(t.leader.PhaseStatus())), nil
}
