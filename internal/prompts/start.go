// Package prompts implements MCP prompt handlers for the development team.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to drive the team leader through a sequence of tool
// calls.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the team-start MCP prompt. It walks the host from
// initialization through research toward implementation of a goal.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("team-start",
		mcp.WithPromptDescription(
			"Start a piece of work with the development team: check the team, "+
				"complete the initialization phase and begin research on a goal.",
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What you want built or investigated"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("repository_path",
			mcp.ArgumentDescription("Local repository the codebase analyzer should inspect"),
		),
	)
}

// Handle processes the team-start prompt request.
func (p *StartPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	goal := req.Params.Arguments["goal"]
	if goal == "" {
		goal = "the project I will describe"
	}

	repoStep := "5. Ask me whether there is an existing repository worth analyzing before planning"
	if repo := req.Params.Arguments["repository_path"]; repo != "" {
		repoStep = fmt.Sprintf(
			"5. Delegate an `architecture_analysis` task to `codebase_analyzer` with metadata "+
				"`{\"repository_path\": %q}` and category `analysis`", repo)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start team work: %s", goal),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want the development team to work on: %s\n\n"+
						"Please:\n"+
						"1. Run `team_status` and `team_list_agents` and tell me which agents are online\n"+
						"2. Run `team_phase_status`; satisfy each pending initialization criterion with "+
						"`team_satisfy_criterion` once you have confirmed it holds\n"+
						"3. Enter the research phase with `team_progress_phase`\n"+
						"4. Delegate a `market_research` or `technology_research` task to the `research` agent "+
						"with category `research`, keeping complexity within the phase limit\n"+
						"%s\n"+
						"6. Summarize the findings and propose the criteria for leaving research\n\n"+
						"Phases are strictly sequential and every delegation spends complexity budget, "+
						"so keep tasks focused. Never accept placeholder output.",
					goal, repoStep,
				)),
			},
		},
	}, nil
}
