package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/llm"
	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/orchestrator"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/security"
)

// Factory builds an agent of one type.
type Factory func(cfg config.AgentConfig, opts ...Option) *Agent

// Factories maps each agent type to its constructor.
var Factories = map[string]Factory{
	TypeResearch:         NewResearch,
	TypeCodebaseAnalyzer: NewCodebaseAnalyzer,
	TypeFrontend:         NewFrontend,
	TypeBackend:          NewBackend,
}

// Registry holds every agent instance, grouped by type.
type Registry struct {
	mu     sync.RWMutex
	byType map[string][]*Agent
	logger *zap.Logger
}

var _ orchestrator.Registry = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byType: map[string][]*Agent{},
		logger: logging.Named(logger, "agents"),
	}
}

// Build creates the configured number of instances of every known agent
// type in cfg.AgentRegistry, sharing provider.
func Build(cfg *config.Config, provider llm.Provider, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	types := make([]string, 0, len(cfg.AgentRegistry))
	for t := range cfg.AgentRegistry {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, t := range types {
		factory, ok := Factories[t]
		if !ok {
			return nil, sdkerr.Configuration("unknown agent type %q in agent_registry", t)
		}
		ac := cfg.Agent(t)
		n := ac.Instances
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			opts := []Option{WithLogger(logger)}
			if provider != nil {
				opts = append(opts, WithProvider(provider))
			}
			r.Register(factory(ac, opts...))
		}
	}
	return r, nil
}

// Register adds an agent.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[a.Type()] = append(r.byType[a.Type()], a)
}

// Initialize brings every agent online. Agents that fail stay in the
// error state and are never selected; their errors are joined.
func (r *Registry) Initialize(ctx context.Context, mcp MCPCaller, policy *security.Policy) error {
	var errs []error
	for _, a := range r.Agents() {
		var sec *security.Context
		if policy != nil {
			sec = policy.ContextFor(a.Type())
		}
		if err := a.Initialize(ctx, mcp, sec); err != nil {
			r.logger.Warn("agent failed to initialize", zap.String("agent_id", a.ID()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", a.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Agents returns every agent ordered by type then id.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Agent
	for _, list := range r.byType {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type() != out[j].Type() {
			return out[i].Type() < out[j].Type()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// All implements orchestrator.Registry.
func (r *Registry) All() []orchestrator.Agent {
	agents := r.Agents()
	out := make([]orchestrator.Agent, len(agents))
	for i, a := range agents {
		out[i] = a
	}
	return out
}

// ByType returns the agents of one type.
func (r *Registry) ByType(agentType string) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Agent(nil), r.byType[agentType]...)
}

// Online reports, per agent type, the task types served by at least one
// online agent.
func (r *Registry) Online() map[string][]string {
	out := map[string][]string{}
	for _, a := range r.Agents() {
		if a.Status() != StatusOnline {
			continue
		}
		seen := map[string]bool{}
		for _, t := range out[a.Type()] {
			seen[t] = true
		}
		for _, t := range a.TaskTypes() {
			if !seen[t] {
				out[a.Type()] = append(out[a.Type()], t)
			}
		}
		sort.Strings(out[a.Type()])
	}
	return out
}

// BestAgent picks the least-loaded online agent of agentType that
// supports taskType and has spare capacity. Complexity does not affect
// the choice yet.
func (r *Registry) BestAgent(agentType, taskType string, _ int) (orchestrator.Agent, error) {
	var (
		best     *Agent
		bestLoad float64
	)
	for _, a := range r.ByType(agentType) {
		if !a.Available() || !a.Supports(taskType) {
			continue
		}
		if load := a.Load(); best == nil || load < bestLoad {
			best, bestLoad = a, load
		}
	}
	if best == nil {
		return nil, sdkerr.AgentUnavailable("no available agent of type %s for task type %s", agentType, taskType).
			WithDetail("agent_type", agentType).
			WithDetail("task_type", taskType)
	}
	return best, nil
}

// Snapshots returns every agent's status report.
func (r *Registry) Snapshots() []Snapshot {
	agents := r.Agents()
	out := make([]Snapshot, len(agents))
	for i, a := range agents {
		out[i] = a.Snapshot()
	}
	return out
}

// StartHeartbeats refreshes every agent's heartbeat each interval until
// ctx is done.
func (r *Registry) StartHeartbeats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, a := range r.Agents() {
					a.SendHeartbeat()
				}
			}
		}
	}()
}

// Shutdown shuts every agent down concurrently.
func (r *Registry) Shutdown(ctx context.Context) {
	var g errgroup.Group
	for _, a := range r.Agents() {
		g.Go(func() error {
			a.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()
}
