// Package agents implements the specialized sub-agents (research, codebase
// analysis, frontend and backend development) and the registry the
// orchestrator selects them from.
package agents

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/llm"
	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/security"
	"github.com/HendryAvila/devteam/internal/task"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// shutdownGrace bounds how long Shutdown waits for running tasks.
var shutdownGrace = 30 * time.Second

// Status is an agent's operational state.
type Status string

const (
	StatusOffline     Status = "offline"
	StatusStarting    Status = "starting"
	StatusOnline      Status = "online"
	StatusBusy        Status = "busy"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"
)

// Capability is something an agent can do, optionally backed by an MCP
// server.
type Capability struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	RequiresMCP bool     `json:"requires_mcp"`
	MCPServer   string   `json:"mcp_server,omitempty"`
	TaskTypes   []string `json:"supported_task_types,omitempty"`
}

// Metrics are running execution statistics.
type Metrics struct {
	TotalTasks           int           `json:"total_tasks"`
	SuccessfulTasks      int           `json:"successful_tasks"`
	FailedTasks          int           `json:"failed_tasks"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	CurrentLoad          float64       `json:"current_load"`
	LastHeartbeat        time.Time     `json:"last_heartbeat"`
	Uptime               time.Duration `json:"uptime"`
}

// MCPCaller is the subset of the MCP client agents use.
type MCPCaller interface {
	Has(server string) bool
	Call(ctx context.Context, server, method string, params map[string]any) (map[string]any, error)
}

// specialist is the per-type behaviour plugged into an Agent.
type specialist interface {
	capabilities() []Capability
	taskTypes() []string
	defaultPrompt() string
	execute(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context) (*task.Result, error)
}

// Option configures an Agent.
type Option func(*Agent)

// WithProvider sets the LLM provider. Without one Initialize fails.
func WithProvider(p llm.Provider) Option {
	return func(a *Agent) { a.provider = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithID overrides the generated agent id.
func WithID(id string) Option {
	return func(a *Agent) { a.id = id }
}

// Agent is the shared runtime of every specialized agent: lifecycle,
// concurrency limit, permission check, metrics and LLM/MCP access.
type Agent struct {
	id        string
	agentType string
	cfg       config.AgentConfig
	impl      specialist
	provider  llm.Provider
	logger    *zap.Logger

	mu           sync.Mutex
	status       Status
	capabilities []Capability
	taskTypes    map[string]struct{}
	integrations map[string]time.Time
	mcp          MCPCaller
	security     *security.Context
	current      map[string]struct{}
	maxTasks     int
	metrics      Metrics
	startedAt    time.Time
}

func newAgent(agentType string, cfg config.AgentConfig, impl specialist, opts ...Option) *Agent {
	a := &Agent{
		id:           fmt.Sprintf("%s_%s", agentType, uuid.NewString()[:8]),
		agentType:    agentType,
		cfg:          cfg,
		impl:         impl,
		status:       StatusOffline,
		taskTypes:    map[string]struct{}{},
		integrations: map[string]time.Time{},
		current:      map[string]struct{}{},
		maxTasks:     cfg.MaxConcurrentTasks,
	}
	if a.maxTasks <= 0 {
		a.maxTasks = 3
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.Named(a.logger, "agent").With(zap.String("agent_id", a.id))
	return a
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

// Type returns the agent type.
func (a *Agent) Type() string { return a.agentType }

// Status returns the current status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetMaintenance takes an online agent out of rotation, or returns a
// maintenance agent to online.
func (a *Agent) SetMaintenance(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case on && a.status == StatusOnline:
		a.status = StatusMaintenance
	case !on && a.status == StatusMaintenance:
		a.status = StatusOnline
	}
}

// Initialize brings an offline agent online. mcp and sec may be nil.
func (a *Agent) Initialize(ctx context.Context, mcp MCPCaller, sec *security.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusOffline {
		return nil
	}
	a.status = StatusStarting

	if a.provider == nil {
		a.status = StatusError
		return sdkerr.Configuration("failed to initialize agent %s: Anthropic API key not provided", a.id).
			WithDetail("agent_id", a.id)
	}

	a.capabilities = a.impl.capabilities()
	for _, c := range a.capabilities {
		for _, t := range c.TaskTypes {
			a.taskTypes[t] = struct{}{}
		}
	}
	for _, t := range a.impl.taskTypes() {
		a.taskTypes[t] = struct{}{}
	}

	if mcp != nil {
		a.mcp = mcp
		for _, c := range a.capabilities {
			if c.RequiresMCP && c.MCPServer != "" && mcp.Has(c.MCPServer) {
				a.integrations[c.MCPServer] = timeNow()
			}
		}
	}
	a.security = sec

	a.startedAt = timeNow()
	a.metrics.LastHeartbeat = a.startedAt
	a.status = StatusOnline
	a.logger.Info("agent initialized",
		zap.String("type", a.agentType),
		zap.Int("task_types", len(a.taskTypes)),
		zap.Int("mcp_integrations", len(a.integrations)))
	return nil
}

// TaskTypes lists supported task types, sorted.
func (a *Agent) TaskTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.taskTypes))
	for t := range a.taskTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether taskType is handled.
func (a *Agent) Supports(taskType string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.taskTypes[taskType]
	return ok
}

// Available reports whether the agent is online with spare capacity.
func (a *Agent) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status == StatusOnline && len(a.current) < a.maxTasks
}

// Load is the fraction of the concurrency limit in use.
func (a *Agent) Load() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics.CurrentLoad
}

// Execute runs spec. Every failure is returned as a task execution error
// unless it already carries a more specific kind.
func (a *Agent) Execute(ctx context.Context, spec task.Spec, actx *task.Context) (*task.Result, error) {
	if err := a.begin(spec); err != nil {
		return nil, err
	}
	start := timeNow()
	a.logger.Info("starting task", zap.String("task_id", spec.TaskID), zap.String("task_type", spec.TaskType))

	res, err := a.impl.execute(ctx, a, spec, actx)
	elapsed := timeNow().Sub(start)
	a.finish(spec.TaskID, elapsed, err == nil)

	if err != nil {
		a.logger.Warn("task failed", zap.String("task_id", spec.TaskID), zap.Duration("elapsed", elapsed), zap.Error(err))
		if sdkerr.KindOf(err) == "" {
			return nil, sdkerr.Wrap(sdkerr.KindTaskExecution, err, "task execution failed")
		}
		return nil, err
	}

	if res == nil {
		return nil, nil
	}
	res.ExecutionTime = elapsed
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	res.Metadata["complexity_level"] = spec.Complexity
	res.Metadata["duration_seconds"] = elapsed.Seconds()
	a.logger.Info("completed task", zap.String("task_id", spec.TaskID), zap.Duration("elapsed", elapsed))
	return res, nil
}

func (a *Agent) begin(spec task.Spec) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != StatusOnline {
		return sdkerr.TaskExecution("agent %s is not online (status: %s)", a.id, a.status).
			WithCode("AGENT_NOT_ONLINE")
	}
	if len(a.current) >= a.maxTasks {
		return sdkerr.TaskExecution("agent %s has reached maximum concurrent tasks", a.id).
			WithCode("AGENT_AT_CAPACITY")
	}
	if _, ok := a.taskTypes[spec.TaskType]; !ok {
		return sdkerr.TaskExecution("task type %s not supported by agent %s", spec.TaskType, a.id).
			WithCode("UNSUPPORTED_TASK_TYPE")
	}
	if err := a.security.Require(security.TaskPermission(spec.TaskType)); err != nil {
		return sdkerr.Wrap(sdkerr.KindTaskExecution, err, "agent %s lacks permission for task type %s", a.id, spec.TaskType).
			WithCode("PERMISSION_DENIED")
	}

	a.current[spec.TaskID] = struct{}{}
	a.metrics.CurrentLoad = float64(len(a.current)) / float64(a.maxTasks)
	a.metrics.LastHeartbeat = timeNow()
	return nil
}

func (a *Agent) finish(taskID string, elapsed time.Duration, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.current, taskID)
	a.metrics.CurrentLoad = float64(len(a.current)) / float64(a.maxTasks)
	a.metrics.TotalTasks++
	if ok {
		a.metrics.SuccessfulTasks++
		// Running average over successful tasks.
		n := time.Duration(a.metrics.SuccessfulTasks)
		a.metrics.AverageExecutionTime = (a.metrics.AverageExecutionTime*(n-1) + elapsed) / n
	} else {
		a.metrics.FailedTasks++
	}
}

// callLLM sends a single-turn request. The system prompt comes from the
// prepared context when present, otherwise the agent's built-in prompt.
func (a *Agent) callLLM(ctx context.Context, actx *task.Context, userPrompt string) (string, error) {
	if a.provider == nil {
		return "", sdkerr.TaskExecution("LLM client not initialized")
	}
	system := a.impl.defaultPrompt()
	var history []llm.Message
	if actx != nil {
		if actx.SystemPrompt != "" {
			system = actx.SystemPrompt
		}
		for _, m := range actx.History {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	resp, err := a.provider.Complete(ctx, llm.Request{
		Model:       a.cfg.Model,
		System:      system,
		Messages:    append(history, llm.Message{Role: "user", Content: userPrompt}),
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		if sdkerr.KindOf(err) == sdkerr.KindRateLimit {
			return "", err
		}
		return "", sdkerr.Wrap(sdkerr.KindTaskExecution, err, "LLM call failed")
	}
	return resp.Text, nil
}

// callMCP calls method on an integrated MCP server.
func (a *Agent) callMCP(ctx context.Context, server, method string, params map[string]any) (map[string]any, error) {
	a.mu.Lock()
	mcp := a.mcp
	_, integrated := a.integrations[server]
	a.mu.Unlock()

	if mcp == nil {
		return nil, sdkerr.MCPServer("MCP client not available")
	}
	if !integrated {
		return nil, sdkerr.MCPServer("MCP server %s not integrated", server).WithDetail("server", server)
	}
	res, err := mcp.Call(ctx, server, method, params)
	if err != nil {
		if sdkerr.KindOf(err) == sdkerr.KindMCPServer {
			return nil, err
		}
		return nil, sdkerr.Wrap(sdkerr.KindMCPServer, err, "MCP server call failed")
	}
	return res, nil
}

// result builds a completed result owned by this agent.
func (a *Agent) result(spec task.Spec, content string, confidence float64, sources []string, meta map[string]any) *task.Result {
	if meta == nil {
		meta = map[string]any{}
	}
	if sources == nil {
		sources = []string{}
	}
	return &task.Result{
		TaskID:          spec.TaskID,
		AgentID:         a.id,
		Status:          task.StatusCompleted,
		Content:         content,
		ConfidenceScore: confidence,
		Sources:         sources,
		Metadata:        meta,
		CreatedAt:       timeNow(),
	}
}

// SendHeartbeat refreshes the heartbeat and uptime.
func (a *Agent) SendHeartbeat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := timeNow()
	a.metrics.LastHeartbeat = now
	if !a.startedAt.IsZero() {
		a.metrics.Uptime = now.Sub(a.startedAt)
	}
}

// Metrics returns a copy of the running metrics.
func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// Snapshot is the agent's externally visible state.
type Snapshot struct {
	AgentID            string       `json:"agent_id"`
	AgentType          string       `json:"agent_type"`
	Status             Status       `json:"status"`
	Capabilities       []Capability `json:"capabilities"`
	SupportedTaskTypes []string     `json:"supported_task_types"`
	CurrentTasks       int          `json:"current_tasks"`
	MaxConcurrentTasks int          `json:"max_concurrent_tasks"`
	SuccessRate        float64      `json:"success_rate"`
	Metrics            Metrics      `json:"metrics"`
	MCPIntegrations    []string     `json:"mcp_integrations"`
	Model              string       `json:"model"`
}

// Snapshot returns the agent's status report.
func (a *Agent) Snapshot() Snapshot {
	types := a.TaskTypes()

	a.mu.Lock()
	defer a.mu.Unlock()
	integrations := make([]string, 0, len(a.integrations))
	for s := range a.integrations {
		integrations = append(integrations, s)
	}
	sort.Strings(integrations)

	rate := 0.0
	if a.metrics.TotalTasks > 0 {
		rate = float64(a.metrics.SuccessfulTasks) / float64(a.metrics.TotalTasks)
	}
	return Snapshot{
		AgentID:            a.id,
		AgentType:          a.agentType,
		Status:             a.status,
		Capabilities:       slices.Clone(a.capabilities),
		SupportedTaskTypes: types,
		CurrentTasks:       len(a.current),
		MaxConcurrentTasks: a.maxTasks,
		SuccessRate:        rate,
		Metrics:            a.metrics,
		MCPIntegrations:    integrations,
		Model:              a.cfg.Model,
	}
}

// Shutdown waits for running tasks (up to 30s or ctx) and goes offline.
func (a *Agent) Shutdown(ctx context.Context) {
	a.mu.Lock()
	if a.status == StatusOffline {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	deadline := time.NewTimer(shutdownGrace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

wait:
	for {
		a.mu.Lock()
		n := len(a.current)
		a.mu.Unlock()
		if n == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break wait
		case <-deadline.C:
			a.logger.Warn("shutdown with tasks still running", zap.Int("running", n))
			break wait
		case <-tick.C:
		}
	}

	a.mu.Lock()
	a.status = StatusOffline
	a.mu.Unlock()
	a.logger.Info("agent shut down")
}
