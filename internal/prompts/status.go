package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the team-status MCP prompt.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("team-status",
		mcp.WithPromptDescription(
			"Check the development team: phase, budget, agents and running tasks, "+
				"and what to do next.",
		),
	)
}

// Handle processes the team-status prompt request.
func (p *StatusPrompt) Handle(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Development team status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `team_status`, `team_phase_status` and `team_queue_status`.\n\n" +
						"Then:\n" +
						"1. Show the current phase and how much complexity budget is left\n" +
						"2. List pending completion criteria and whether the next phase can be entered\n" +
						"3. Show running tasks and any recent failures with their errors\n" +
						"4. Tell me exactly what I should do next",
				),
			},
		},
	}, nil
}
