// Package teamleader is the top-level orchestrator. It validates every
// delegation against the rules engine, prepares the agent context, runs
// the task through the orchestrator, applies the quality gate and spends
// the complexity budget.
package teamleader

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/devteam/internal/agents"
	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/contextmgr"
	"github.com/HendryAvila/devteam/internal/llm"
	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/mcpclient"
	"github.com/HendryAvila/devteam/internal/orchestrator"
	"github.com/HendryAvila/devteam/internal/quality"
	"github.com/HendryAvila/devteam/internal/rules"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/security"
	"github.com/HendryAvila/devteam/internal/store"
	"github.com/HendryAvila/devteam/internal/task"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// heartbeatInterval is how often agents refresh their heartbeat.
var heartbeatInterval = 30 * time.Second

// Event types published to the hub.
const (
	EventTaskDelegated = "task_delegated"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskProgress  = "task_progress"
	EventPhaseChanged  = "phase_changed"
)

// Publisher receives lifecycle events. *hub.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Request asks the team leader to delegate one task.
type Request struct {
	TaskID     string         `json:"task_id,omitempty"`
	AgentType  string         `json:"agent_type"`
	TaskType   string         `json:"task_type"`
	Category   string         `json:"category,omitempty"`
	Task       string         `json:"task"`
	Complexity int            `json:"complexity"`
	Priority   int            `json:"priority"`
	ProjectID  string         `json:"project_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	History    []task.Message `json:"conversation_history,omitempty"`
}

// Outcome is one entry of a batch delegation.
type Outcome struct {
	Request Request      `json:"request"`
	Result  *task.Result `json:"result,omitempty"`
	Err     error        `json:"-"`
	Error   string       `json:"error,omitempty"`
}

// Option configures a TeamLeader.
type Option func(*TeamLeader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(tl *TeamLeader) { tl.logger = l }
}

// WithProvider sets the LLM provider shared by all agents. Without one,
// Initialize builds an Anthropic provider from the configuration.
func WithProvider(p llm.Provider) Option {
	return func(tl *TeamLeader) { tl.provider = p }
}

// WithRegistry supplies a prebuilt agent registry.
func WithRegistry(r *agents.Registry) Option {
	return func(tl *TeamLeader) { tl.registry = r }
}

// WithMCPClient supplies the MCP client. Without one, Initialize connects
// to the configured servers.
func WithMCPClient(c *mcpclient.Client) Option {
	return func(tl *TeamLeader) { tl.mcp = c }
}

// WithStore persists executions and phase transitions.
func WithStore(s *store.Store) Option {
	return func(tl *TeamLeader) { tl.store = s }
}

// WithPublisher sends lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(tl *TeamLeader) { tl.publisher = p }
}

// TeamLeader is safe for concurrent use.
type TeamLeader struct {
	id     string
	cfg    *config.Config
	logger *zap.Logger

	rules     *rules.Engine
	contexts  *contextmgr.Manager
	provider  llm.Provider
	registry  *agents.Registry
	mcp       *mcpclient.Client
	store     *store.Store
	publisher Publisher
	policy    *security.Policy
	detector  *quality.Detector
	orch      *orchestrator.Orchestrator

	mu          sync.Mutex
	initialized bool
	startedAt   time.Time
	taskCount   int
	errorCount  int
	stop        context.CancelFunc
}

// New builds the rules engine and context manager. Nothing is started
// until Initialize.
func New(cfg *config.Config, opts ...Option) (*TeamLeader, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	tl := &TeamLeader{
		id:  "team_leader_" + uuid.NewString()[:8],
		cfg: cfg,
	}
	for _, opt := range opts {
		opt(tl)
	}
	tl.logger = logging.Named(tl.logger, "teamleader").With(zap.String("team_leader_id", tl.id))

	engine, err := rules.New(cfg.Rules,
		rules.WithLogger(tl.logger),
		rules.WithTransitionHook(tl.onTransition))
	if err != nil {
		return nil, err
	}
	tl.rules = engine

	cm, err := contextmgr.New(cfg.PromptsDirectory, contextmgr.WithLogger(tl.logger))
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindConfiguration, err, "context manager")
	}
	tl.contexts = cm
	tl.policy = security.NewPolicy(cfg.Security, cfg.WebSocket.AuthToken)
	det, err := quality.NewDetector(nil, nil, nil)
	if err != nil {
		return nil, err
	}
	tl.detector = det
	return tl, nil
}

// ID returns the team leader id.
func (tl *TeamLeader) ID() string { return tl.id }

// Rules exposes the rules engine.
func (tl *TeamLeader) Rules() *rules.Engine { return tl.rules }

// Contexts exposes the context manager.
func (tl *TeamLeader) Contexts() *contextmgr.Manager { return tl.contexts }

// Policy returns the security policy.
func (tl *TeamLeader) Policy() *security.Policy { return tl.policy }

// Initialized reports whether Initialize has completed.
func (tl *TeamLeader) Initialized() bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.initialized
}

// Initialize connects MCP servers, brings agents online, registers their
// task types with the rules engine, loads prompts and starts the
// orchestrator. Calling it again is a no-op.
func (tl *TeamLeader) Initialize(ctx context.Context) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.initialized {
		return nil
	}

	if tl.mcp == nil {
		tl.mcp = mcpclient.New(tl.cfg.MCP, mcpclient.WithLogger(tl.logger))
		if err := tl.mcp.Initialize(ctx); err != nil {
			tl.logger.Warn("MCP initialization incomplete", zap.Error(err))
		}
	}

	if tl.registry == nil {
		if tl.provider == nil {
			p, err := llm.FromConfig(tl.cfg, tl.logger)
			if err != nil {
				tl.logger.Warn("no LLM provider; agents will not come online", zap.Error(err))
			} else {
				tl.provider = p
			}
		}
		reg, err := agents.Build(tl.cfg, tl.provider, tl.logger)
		if err != nil {
			return sdkerr.Wrap(sdkerr.KindConfiguration, err, "failed to initialize TeamLeader")
		}
		tl.registry = reg
	}
	if err := tl.registry.Initialize(ctx, tl.mcp, tl.policy); err != nil {
		tl.logger.Warn("some agents failed to initialize", zap.Error(err))
	}
	for agentType, taskTypes := range tl.registry.Online() {
		tl.rules.AddAgentCapability(agentType, taskTypes...)
	}

	if n, err := tl.contexts.LoadAll(); err != nil {
		tl.logger.Warn("some prompts failed to load", zap.Int("loaded", n), zap.Error(err))
	}

	bg, stop := context.WithCancel(context.Background())
	tl.stop = stop
	if err := tl.contexts.Watch(bg); err != nil {
		tl.logger.Warn("prompt hot reload disabled", zap.Error(err))
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(tl.logger),
		orchestrator.WithObserver(tl.onTaskEvent),
	}
	if tl.store != nil {
		opts = append(opts, orchestrator.WithSink(tl.store))
	}
	tl.orch = orchestrator.New(tl.cfg.Orchestrator, tl.registry, opts...)
	tl.orch.Start(bg)
	tl.registry.StartHeartbeats(bg, heartbeatInterval)

	tl.startedAt = timeNow()
	tl.initialized = true
	tl.logger.Info("TeamLeader initialized",
		zap.Strings("agent_types", tl.rules.AgentTypes()),
		zap.Strings("mcp_servers", tl.mcp.Servers()))
	return nil
}

func (tl *TeamLeader) ready() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if !tl.initialized {
		return sdkerr.TaskExecution("TeamLeader not initialized").WithCode("NOT_INITIALIZED")
	}
	return nil
}

func (req Request) spec() task.Spec {
	id := req.TaskID
	if id == "" {
		id = uuid.NewString()
	}
	priority := req.Priority
	if priority == 0 {
		priority = int(task.PriorityMedium)
	}
	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return task.Spec{
		TaskID:     id,
		AgentType:  req.AgentType,
		TaskType:   req.TaskType,
		Category:   req.Category,
		Task:       req.Task,
		Complexity: req.Complexity,
		Priority:   priority,
		ProjectID:  req.ProjectID,
		Metadata:   meta,
	}
}

// DelegateTask validates, reserves, executes and quality-checks one task.
func (tl *TeamLeader) DelegateTask(ctx context.Context, req Request) (*task.Result, error) {
	if err := tl.ready(); err != nil {
		return nil, err
	}
	spec, actx, err := tl.prepare(req)
	if err != nil {
		return nil, tl.fail(spec, err)
	}

	res, err := tl.orch.Execute(ctx, spec, actx, tl.timeoutFor(spec.AgentType))
	return tl.finish(spec, res, err)
}

// QueueTask validates and reserves a task, then hands it to the
// orchestrator's workers. done, if not nil, receives the outcome. A task
// cancelled or dropped before it runs gets a cancellation error and its
// reservation is released.
func (tl *TeamLeader) QueueTask(req Request, done func(*task.Result, error)) (string, error) {
	if err := tl.ready(); err != nil {
		return "", err
	}
	spec, actx, err := tl.prepare(req)
	if err != nil {
		return "", tl.fail(spec, err)
	}
	id, err := tl.orch.Queue(spec, actx, tl.timeoutFor(spec.AgentType), func(res *task.Result, err error) {
		res, err = tl.finish(spec, res, err)
		if done != nil {
			done(res, err)
		}
	})
	if err != nil {
		tl.rules.Release(spec.TaskID)
		return "", tl.fail(spec, err)
	}
	return id, nil
}

// prepare builds the spec, reserves its complexity and prepares the
// agent context. On error the reservation is not held.
func (tl *TeamLeader) prepare(req Request) (task.Spec, *task.Context, error) {
	spec := req.spec()
	if err := spec.Validate(); err != nil {
		return spec, nil, err
	}
	if err := tl.rules.Reserve(spec); err != nil {
		return spec, nil, err
	}
	actx, err := tl.contexts.PrepareContext(spec, req.History, tl.mcpContext())
	if err != nil {
		tl.rules.Release(spec.TaskID)
		return spec, nil, err
	}
	tl.publish(EventTaskDelegated, map[string]any{
		"task_id":    spec.TaskID,
		"agent_type": spec.AgentType,
		"task_type":  spec.TaskType,
		"complexity": spec.Complexity,
	})
	return spec, actx, nil
}

// finish applies the quality gate and spends the reservation.
func (tl *TeamLeader) finish(spec task.Spec, res *task.Result, err error) (*task.Result, error) {
	if err == nil {
		err = quality.ValidateResult(res)
	}
	if err != nil {
		tl.rules.Release(spec.TaskID)
		return nil, tl.fail(spec, err)
	}

	if found := tl.detector.DetectRuntime(res.Content, spec.AgentType); len(found) > 0 {
		// The orchestrator history shares the metadata map.
		meta := maps.Clone(res.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["runtime_violations"] = found
		res.Metadata = meta
		tl.logger.Warn("suspicious content in accepted result",
			zap.String("task_id", spec.TaskID), zap.Int("violations", len(found)))
	}

	tl.rules.RegisterExecution(spec, map[string]any{
		"status":           string(task.StatusCompleted),
		"execution_time":   res.ExecutionTime.Seconds(),
		"confidence_score": res.ConfidenceScore,
	})
	tl.mu.Lock()
	tl.taskCount++
	tl.mu.Unlock()

	tl.logger.Info("task completed",
		zap.String("task_id", spec.TaskID), zap.Duration("execution_time", res.ExecutionTime))
	tl.publish(EventTaskCompleted, map[string]any{
		"task_id":          spec.TaskID,
		"agent_id":         res.AgentID,
		"confidence_score": res.ConfidenceScore,
		"execution_time":   res.ExecutionTime.Seconds(),
	})
	return res, nil
}

// fail counts the error and wraps it as a task execution error. Scope
// violations and invalid requests keep their kind.
func (tl *TeamLeader) fail(spec task.Spec, err error) error {
	tl.mu.Lock()
	tl.errorCount++
	tl.mu.Unlock()

	tl.logger.Warn("task failed", zap.String("task_id", spec.TaskID), zap.Error(err))
	tl.publish(EventTaskFailed, map[string]any{"task_id": spec.TaskID, "error": err.Error()})

	switch sdkerr.KindOf(err) {
	case sdkerr.KindScopeViolation, sdkerr.KindValidation:
		return err
	}
	return sdkerr.Wrap(sdkerr.KindTaskExecution, err, "task delegation failed").
		WithDetail("task_id", spec.TaskID)
}

func (tl *TeamLeader) timeoutFor(agentType string) time.Duration {
	return time.Duration(tl.cfg.Agent(agentType).Timeout) * time.Second
}

// mcpContext describes the connected MCP servers for agent contexts.
func (tl *TeamLeader) mcpContext() map[string]any {
	ctx := tl.mcp.Availability()
	if tl.mcp.Has(mcpclient.ServerPerplexity) {
		ctx[mcpclient.ServerPerplexity] = map[string]any{
			"available":    true,
			"capabilities": []string{"research", "search", "analyze"},
		}
	}
	if tl.mcp.Has(mcpclient.ServerSerena) {
		ctx[mcpclient.ServerSerena] = map[string]any{
			"available":    true,
			"capabilities": []string{"analyze_code", "security_scan", "performance_review"},
		}
	}
	return ctx
}

// DelegateBatch delegates every request concurrently. Outcomes are in
// request order; one failure does not stop the others.
func (tl *TeamLeader) DelegateBatch(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(max(1, tl.cfg.Orchestrator.MaxConcurrentTasks))
	for i, req := range reqs {
		g.Go(func() error {
			res, err := tl.DelegateTask(ctx, req)
			out[i] = Outcome{Request: req, Result: res, Err: err}
			if err != nil {
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ProgressToPhase moves the rules engine to the named phase. It reports
// false when the phase is not next or criteria are pending. When roles
// are configured, the team_leader role needs phase:progress.
func (tl *TeamLeader) ProgressToPhase(name string) (bool, error) {
	if err := tl.ready(); err != nil {
		return false, err
	}
	sec := tl.policy.ContextFor(security.RoleTeamLeader)
	if err := sec.Require(security.PermissionPhaseProgress); err != nil {
		return false, err
	}
	p, err := rules.ParsePhase(name)
	if err != nil {
		return false, err
	}
	return tl.rules.ProgressTo(p), nil
}

// SatisfyCriterion marks a completion criterion of the current phase.
func (tl *TeamLeader) SatisfyCriterion(name string) error {
	return tl.rules.SatisfyCriterion(name)
}

// Cancel cancels an active or queued task.
func (tl *TeamLeader) Cancel(taskID string) bool {
	if tl.ready() != nil {
		return false
	}
	return tl.orch.Cancel(taskID)
}

// TaskStatus looks a task up in the orchestrator, then the store.
func (tl *TeamLeader) TaskStatus(taskID string) (task.ExecutionRecord, bool, error) {
	if tl.ready() == nil {
		if rec, ok := tl.orch.TaskStatus(taskID); ok {
			return rec, true, nil
		}
	}
	if tl.store == nil {
		return task.ExecutionRecord{}, false, nil
	}
	return tl.store.Execution(taskID)
}

// SetAgentMaintenance takes an online agent out of rotation, or returns
// it from maintenance.
func (tl *TeamLeader) SetAgentMaintenance(agentID string, on bool) (agents.Snapshot, error) {
	if err := tl.ready(); err != nil {
		return agents.Snapshot{}, err
	}
	for _, a := range tl.registry.Agents() {
		if a.ID() == agentID {
			a.SetMaintenance(on)
			snap := a.Snapshot()
			tl.logger.Info("agent maintenance changed",
				zap.String("agent_id", agentID), zap.String("status", string(snap.Status)))
			return snap, nil
		}
	}
	return agents.Snapshot{}, sdkerr.Validation("unknown agent %q", agentID).WithDetail("agent_id", agentID)
}

// TaskContext returns the agent context prepared for a task, while it is
// still cached.
func (tl *TeamLeader) TaskContext(taskID string) (*task.Context, error) {
	rec, ok, err := tl.TaskStatus(taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sdkerr.Validation("unknown task %q", taskID).WithDetail("task_id", taskID)
	}
	hash, _ := rec.Metadata["context_hash"].(string)
	if hash == "" {
		return nil, sdkerr.Validation("task %s has no prepared context", taskID)
	}
	actx, ok := tl.contexts.CachedContext(hash)
	if !ok {
		return nil, sdkerr.Validation("context for task %s is no longer cached", taskID).
			WithDetail("context_hash", hash)
	}
	return actx, nil
}

func (tl *TeamLeader) onTransition(tr rules.Transition) {
	if tl.store != nil {
		if _, err := tl.store.RecordPhaseTransition(store.PhaseTransition{
			From:           string(tr.From),
			To:             string(tr.To),
			ComplexityUsed: tr.ComplexityUsed,
			TaskCount:      tr.TaskCount,
			At:             tr.At,
		}); err != nil {
			tl.logger.Warn("failed to persist phase transition", zap.Error(err))
		}
	}
	tl.publish(EventPhaseChanged, tr)
}

func (tl *TeamLeader) onTaskEvent(rec task.ExecutionRecord, ev task.Event) {
	if ev.Type != orchestrator.EventProgress && ev.Type != orchestrator.EventStarted {
		return
	}
	tl.publish(EventTaskProgress, map[string]any{
		"task_id":  rec.TaskID,
		"agent_id": rec.AgentID,
		"event":    ev.Type,
		"progress": rec.Progress,
		"message":  rec.Message,
	})
}

func (tl *TeamLeader) publish(eventType string, data any) {
	if tl.publisher != nil {
		tl.publisher.Publish(eventType, data)
	}
}

// Shutdown stops the orchestrator, agents, prompt watcher and MCP
// connections. The store, if any, is left open for its owner.
func (tl *TeamLeader) Shutdown(ctx context.Context) {
	tl.mu.Lock()
	if !tl.initialized {
		tl.mu.Unlock()
		return
	}
	tl.initialized = false
	stop := tl.stop
	tl.mu.Unlock()

	tl.logger.Info("shutting down TeamLeader")
	tl.orch.Shutdown()
	tl.registry.Shutdown(ctx)
	if stop != nil {
		stop()
	}
	if err := tl.contexts.Close(); err != nil {
		tl.logger.Warn("context manager close", zap.Error(err))
	}
	if err := tl.mcp.Close(); err != nil {
		tl.logger.Warn("MCP client close", zap.Error(err))
	}

	tl.mu.Lock()
	tl.startedAt = time.Time{}
	tl.mu.Unlock()
	tl.logger.Info("TeamLeader shutdown complete")
}
