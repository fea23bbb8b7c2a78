// Package server wires the team leader into an MCP server.
//
// This is the composition root for the MCP surface: it creates the tools,
// prompts and resources and injects the team leader they depend on. No
// business logic lives here.
package server

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/prompts"
	"github.com/HendryAvila/devteam/internal/resources"
	"github.com/HendryAvila/devteam/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Leader is what the MCP surface needs from the team leader.
type Leader interface {
	tools.Leader
	resources.Source
}

// New creates the MCP server with every tool, prompt and resource
// registered.
func New(leader Leader, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"devteam",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Delegation ---

	delegateTool := tools.NewDelegateTool(leader)
	s.AddTool(delegateTool.Definition(), delegateTool.Handle)

	batchTool := tools.NewBatchTool(leader)
	s.AddTool(batchTool.Definition(), batchTool.Handle)

	queueTool := tools.NewQueueTool(leader, logger)
	s.AddTool(queueTool.Definition(), queueTool.Handle)

	cancelTool := tools.NewCancelTool(leader)
	s.AddTool(cancelTool.Definition(), cancelTool.Handle)

	taskStatusTool := tools.NewTaskStatusTool(leader)
	s.AddTool(taskStatusTool.Definition(), taskStatusTool.Handle)

	taskContextTool := tools.NewTaskContextTool(leader)
	s.AddTool(taskContextTool.Definition(), taskContextTool.Handle)

	// --- Team status ---

	statusTool := tools.NewStatusTool(leader)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	agentsTool := tools.NewAgentsTool(leader)
	s.AddTool(agentsTool.Definition(), agentsTool.Handle)

	queueStatusTool := tools.NewQueueStatusTool(leader)
	s.AddTool(queueStatusTool.Definition(), queueStatusTool.Handle)

	maintenanceTool := tools.NewMaintenanceTool(leader)
	s.AddTool(maintenanceTool.Definition(), maintenanceTool.Handle)

	// --- Phases and budget ---

	phaseStatusTool := tools.NewPhaseStatusTool(leader)
	s.AddTool(phaseStatusTool.Definition(), phaseStatusTool.Handle)

	progressTool := tools.NewProgressTool(leader)
	s.AddTool(progressTool.Definition(), progressTool.Handle)

	criterionTool := tools.NewCriterionTool(leader)
	s.AddTool(criterionTool.Definition(), criterionTool.Handle)

	resetTool := tools.NewResetBudgetTool(leader)
	s.AddTool(resetTool.Definition(), resetTool.Handle)

	// --- Audit ---

	historyTool := tools.NewHistoryTool(leader)
	s.AddTool(historyTool.Definition(), historyTool.Handle)

	statsTool := tools.NewStatsTool(leader)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	// --- Prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Resources ---

	resourceHandler := resources.NewHandler(leader)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)
	s.AddResource(resourceHandler.PhaseResource(), resourceHandler.HandlePhase)
	s.AddResource(resourceHandler.AgentsResource(), resourceHandler.HandleAgents)

	return s
}

// serverInstructions tells the host how to drive the team.
func serverInstructions() string {
	return `## devteam: phase-governed development team

You coordinate four specialist agents through a team leader:
- research: market, competitive and technology research (Perplexity when connected)
- codebase_analyzer: security, performance, architecture and quality analysis of a local repository (Serena when connected)
- frontend: components, responsive design, UX and features
- backend: APIs, databases, security and microservices

### Phases
Work moves through fixed phases, strictly in order:
initialization, research, planning, context_preparation, validation,
implementation, verification, testing, user_value_validation,
documentation, preparation.

Each phase allows only certain task categories and has completion
criteria. Call team_phase_status to see them. Satisfy criteria with
team_satisfy_criterion only when they genuinely hold, then call
team_progress_phase with the next phase.

### Delegation
- team_delegate_task runs one task and returns the result
- team_delegate_batch runs independent tasks concurrently
- team_queue_task returns a task id at once; follow it with team_task_status
- team_task_context shows the prompt and context an agent received
- category defaults to task_type; set it explicitly when the task type is
  not itself a phase category (for example task_type api_development with
  category development)
- complexity (1-10) must not exceed the phase limit and is spent from a
  shared budget; team_reset_budget starts a new project or part

### Quality
Results that are too short, low-confidence, or contain mock or
placeholder material are rejected. Never work around a rejection by
lowering standards; rephrase the task or split it.

### Errors
Tool errors start with [kind/code]. scope_violation means the phase,
agent or budget rules refused the task: check team_phase_status before
retrying.`
}
