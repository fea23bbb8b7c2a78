// Package rules implements the phase-gated rules engine.
//
// The engine tracks which development phase is active, what categories of
// work that phase admits, how much of the complexity budget has been
// spent, and which agent types are available. Every delegation passes
// through ValidateScope before any agent runs.
package rules

import (
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// Transition is the audit record of a phase change.
type Transition struct {
	From           Phase     `json:"from_phase"`
	To             Phase     `json:"to_phase"`
	ComplexityUsed int       `json:"complexity_used"`
	TaskCount      int       `json:"task_count"`
	At             time.Time `json:"timestamp"`
}

// HistoryEntry records one registered task execution.
type HistoryEntry struct {
	TaskID     string         `json:"task_id"`
	AgentType  string         `json:"agent_type"`
	TaskType   string         `json:"task_type"`
	Category   string         `json:"category"`
	Complexity int            `json:"complexity"`
	Phase      Phase          `json:"phase"`
	At         time.Time      `json:"timestamp"`
	Outcome    map[string]any `json:"result,omitempty"`
}

// PhaseStatus is a snapshot of the engine.
type PhaseStatus struct {
	CurrentPhase        Phase         `json:"current_phase"`
	PhaseName           string        `json:"phase_name"`
	ComplexityBudget    int           `json:"complexity_budget"`
	ComplexityUsed      int           `json:"complexity_used"`
	ComplexityReserved  int           `json:"complexity_reserved"`
	ComplexityRemaining int           `json:"complexity_remaining"`
	TasksCompleted      int           `json:"tasks_completed"`
	PhaseProgress       float64       `json:"phase_progress"`
	CanProgress         bool          `json:"can_progress"`
	NextPhase           Phase         `json:"next_phase,omitempty"`
	PendingCriteria     []string      `json:"pending_criteria"`
	PhaseElapsed        time.Duration `json:"phase_elapsed"`
	PhaseOverdue        bool          `json:"phase_overdue"`
	History             []Phase       `json:"phase_history"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.Named(l, "rules") }
}

// WithTransitionHook registers a function called after every successful
// phase change. It runs with the engine unlocked.
func WithTransitionHook(fn func(Transition)) Option {
	return func(e *Engine) { e.onTransition = append(e.onTransition, fn) }
}

// Engine is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	phases  map[Phase]PhaseConfig
	current Phase
	history []Phase
	entered time.Time

	budget   int
	used     int
	reserved map[string]int

	agents    map[string]map[string]struct{}
	tasks     []HistoryEntry
	satisfied map[string]bool
	strict    bool

	logger       *zap.Logger
	onTransition []func(Transition)
}

// New creates an engine starting in the initialization phase.
func New(cfg config.RulesConfig, opts ...Option) (*Engine, error) {
	phases, err := loadPhaseConfigs(cfg.Phases)
	if err != nil {
		return nil, err
	}
	budget := cfg.ComplexityBudget
	if budget <= 0 {
		budget = 25
	}
	e := &Engine{
		phases:    phases,
		current:   PhaseInitialization,
		entered:   timeNow(),
		budget:    budget,
		reserved:  make(map[string]int),
		agents:    make(map[string]map[string]struct{}),
		satisfied: make(map[string]bool),
		strict:    cfg.StrictGates,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CurrentPhase returns the active phase.
func (e *Engine) CurrentPhase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// PhaseConfig returns the definition of p.
func (e *Engine) PhaseConfig(p Phase) (PhaseConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.phases[p]
	return pc, ok
}

// Phases returns every phase in order.
func (e *Engine) Phases() []Phase {
	return slices.Clone(PhaseOrder)
}

// ValidateScope checks spec against the current phase, the remaining
// budget, the phase ceiling and agent availability, in that order.
func (e *Engine) ValidateScope(spec task.Spec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validateLocked(spec)
}

func (e *Engine) validateLocked(spec task.Spec) error {
	pc := e.phases[e.current]
	category := spec.EffectiveCategory()

	if !pc.Allows(category) {
		return sdkerr.ScopeViolation("task type '%s' not allowed in phase '%s'. Allowed tasks: %v",
			category, e.current, pc.AllowedTasks).
			WithDetail("phase", string(e.current)).
			WithDetail("allowed_tasks", pc.AllowedTasks)
	}

	committed := e.used + e.reservedTotal()
	if committed+spec.Complexity > e.budget {
		return sdkerr.ScopeViolation("task complexity %d exceeds remaining budget. Current used: %d, Budget: %d, Remaining: %d",
			spec.Complexity, committed, e.budget, e.budget-committed).
			WithDetail("complexity", spec.Complexity).
			WithDetail("remaining", e.budget-committed)
	}

	if spec.Complexity > pc.MaxComplexity {
		return sdkerr.ScopeViolation("task complexity %d exceeds phase maximum of %d for phase %s",
			spec.Complexity, pc.MaxComplexity, e.current).
			WithDetail("phase_max", pc.MaxComplexity)
	}

	taskTypes, ok := e.agents[spec.AgentType]
	if !ok {
		return sdkerr.ScopeViolation("agent type '%s' not available for task '%s'", spec.AgentType, spec.TaskType).
			WithDetail("agent_type", spec.AgentType)
	}
	if len(taskTypes) > 0 {
		if _, ok := taskTypes[spec.TaskType]; !ok {
			return sdkerr.ScopeViolation("agent type '%s' does not handle task '%s'", spec.AgentType, spec.TaskType).
				WithDetail("agent_type", spec.AgentType)
		}
	}
	return nil
}

// Reserve validates spec and holds its complexity against the budget
// until RegisterExecution or Release is called for spec.TaskID. Holding
// the reservation keeps concurrent delegations from overspending.
func (e *Engine) Reserve(spec task.Spec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if spec.TaskID == "" {
		return sdkerr.Validation("task_id is required to reserve complexity")
	}
	if _, dup := e.reserved[spec.TaskID]; dup {
		return sdkerr.Validation("task %s already holds a reservation", spec.TaskID)
	}
	if err := e.validateLocked(spec); err != nil {
		return err
	}
	e.reserved[spec.TaskID] = spec.Complexity
	return nil
}

// Release drops a reservation without spending it.
func (e *Engine) Release(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.reserved, taskID)
}

func (e *Engine) reservedTotal() int {
	total := 0
	for _, c := range e.reserved {
		total += c
	}
	return total
}

// RegisterExecution spends spec's complexity and records it in the task
// history. Any reservation held for the task is consumed.
func (e *Engine) RegisterExecution(spec task.Spec, outcome map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.reserved, spec.TaskID)
	e.used += spec.Complexity
	e.tasks = append(e.tasks, HistoryEntry{
		TaskID:     spec.TaskID,
		AgentType:  spec.AgentType,
		TaskType:   spec.TaskType,
		Category:   spec.EffectiveCategory(),
		Complexity: spec.Complexity,
		Phase:      e.current,
		At:         timeNow().UTC(),
		Outcome:    outcome,
	})
}

// TaskHistory returns a copy of registered executions, oldest first.
func (e *Engine) TaskHistory() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.tasks)
}

// SatisfyCriterion marks a completion criterion of the current phase as
// met.
func (e *Engine) SatisfyCriterion(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc := e.phases[e.current]
	if !pc.HasCriterion(name) {
		return sdkerr.Validation("criterion %q does not belong to phase %s", name, e.current).
			WithDetail("completion_criteria", pc.CompletionCriteria)
	}
	e.satisfied[name] = true
	e.logger.Info("criterion satisfied",
		zap.String("phase", string(e.current)),
		zap.String("criterion", name))
	return nil
}

func (e *Engine) criterionMet(name string) bool {
	if !e.strict {
		return true
	}
	return e.satisfied[name]
}

func (e *Engine) pendingLocked() []string {
	var pending []string
	for _, c := range e.phases[e.current].CompletionCriteria {
		if !e.criterionMet(c) {
			pending = append(pending, c)
		}
	}
	return pending
}

// CanProgressTo reports whether target is the next phase and every
// completion criterion of the current phase has been met.
func (e *Engine) CanProgressTo(target Phase) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canProgressLocked(target)
}

func (e *Engine) canProgressLocked(target Phase) bool {
	next, ok := NextPhase(e.current)
	if !ok || target != next {
		return false
	}
	return len(e.pendingLocked()) == 0
}

// ProgressTo moves to target when CanProgressTo allows it.
func (e *Engine) ProgressTo(target Phase) bool {
	e.mu.Lock()
	if !e.canProgressLocked(target) {
		e.mu.Unlock()
		return false
	}

	tr := Transition{
		From:           e.current,
		To:             target,
		ComplexityUsed: e.used,
		TaskCount:      len(e.tasks),
		At:             timeNow().UTC(),
	}
	e.history = append(e.history, e.current)
	e.current = target
	e.entered = timeNow()
	clear(e.satisfied)
	hooks := slices.Clone(e.onTransition)
	e.mu.Unlock()

	e.logger.Info("phase progression",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.Int("complexity_used", tr.ComplexityUsed),
		zap.Int("task_count", tr.TaskCount))
	for _, fn := range hooks {
		fn(tr)
	}
	return true
}

// PhaseStatus returns a snapshot of the current phase and budget.
func (e *Engine) PhaseStatus() PhaseStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	pc := e.phases[e.current]
	reserved := e.reservedTotal()
	pending := e.pendingLocked()
	next, hasNext := NextPhase(e.current)
	elapsed := timeNow().Sub(e.entered)

	st := PhaseStatus{
		CurrentPhase:        e.current,
		PhaseName:           pc.Name,
		ComplexityBudget:    e.budget,
		ComplexityUsed:      e.used,
		ComplexityReserved:  reserved,
		ComplexityRemaining: e.budget - e.used - reserved,
		TasksCompleted:      len(e.tasks),
		PendingCriteria:     pending,
		PhaseElapsed:        elapsed,
		PhaseOverdue:        pc.Timeout > 0 && elapsed > pc.Timeout,
		History:             slices.Clone(e.history),
	}
	if n := len(pc.CompletionCriteria); n > 0 {
		st.PhaseProgress = float64(n-len(pending)) / float64(n)
	}
	if hasNext {
		st.NextPhase = next
		st.CanProgress = e.canProgressLocked(next)
	}
	if st.PendingCriteria == nil {
		st.PendingCriteria = []string{}
	}
	return st
}

// ResetBudget clears spent complexity and task history, for a new project
// or part. Outstanding reservations are kept.
func (e *Engine) ResetBudget() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.used = 0
	e.tasks = nil
}

// AddAgentCapability registers agentType and the task types it handles.
// Calling it again extends the set.
func (e *Engine) AddAgentCapability(agentType string, taskTypes ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.agents[agentType]
	if !ok {
		set = make(map[string]struct{})
		e.agents[agentType] = set
	}
	for _, t := range taskTypes {
		set[t] = struct{}{}
	}
}

// AgentTypes returns registered agent types, sorted.
func (e *Engine) AgentTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.agents))
	for k := range e.agents {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
