package orchestrator

import (
	"context"

	"github.com/HendryAvila/devteam/internal/task"
)

// Agent executes task specs.
type Agent interface {
	ID() string
	Type() string
	Execute(ctx context.Context, spec task.Spec, actx *task.Context) (*task.Result, error)
}

// Registry supplies agents to the orchestrator.
type Registry interface {
	// BestAgent returns the agent that should run a task of taskType, or
	// an agent unavailable error.
	BestAgent(agentType, taskType string, complexity int) (Agent, error)
	All() []Agent
}
