// Package orchestrator runs task specs on agents: agent selection,
// deadlines, cancellation, a worker pool for queued work, and an execution
// history that is persisted through a Sink.
package orchestrator

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// maxHistory bounds the in-memory execution history.
const maxHistory = 1000

// Event types recorded on executions.
const (
	EventCreated   = "created"
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventTimeout   = "timeout"
)

// Sink persists execution records. *store.Store implements it.
type Sink interface {
	SaveExecution(rec task.ExecutionRecord) error
}

// Observer is told about every event recorded on an execution. It runs
// with the orchestrator unlocked.
type Observer func(rec task.ExecutionRecord, ev task.Event)

// Callback receives the outcome of a queued task.
type Callback func(res *task.Result, err error)

// Metrics summarizes orchestrator activity.
type Metrics struct {
	ActiveTasks          int           `json:"active_tasks"`
	QueuedTasks          int           `json:"queued_tasks"`
	TotalTasks           int           `json:"total_tasks"`
	CompletedTasks       int           `json:"completed_tasks"`
	FailedTasks          int           `json:"failed_tasks"`
	CancelledTasks       int           `json:"cancelled_tasks"`
	TimedOutTasks        int           `json:"timed_out_tasks"`
	SuccessRate          float64       `json:"success_rate"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	MaxConcurrentTasks   int           `json:"max_concurrent_tasks"`
	BackgroundWorkers    int           `json:"background_tasks_running"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink persists every finished execution.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithObserver registers an event observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.Named(l, "orchestrator") }
}

type execution struct {
	rec    task.ExecutionRecord
	spec   task.Spec
	cancel context.CancelFunc
	reason task.Status // set when the checker or Cancel ends the task
}

type queued struct {
	spec    task.Spec
	actx    *task.Context
	timeout time.Duration
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	registry       Registry
	maxConcurrent  int
	defaultTimeout time.Duration
	checkInterval  time.Duration
	sink           Sink
	observers      []Observer
	logger         *zap.Logger

	queue chan queued

	mu        sync.Mutex
	active    map[string]*execution
	pending   map[string]task.ExecutionRecord
	callbacks map[string]Callback
	claimed   map[string]bool // claimed by a worker; true when cancel was requested
	history   []task.ExecutionRecord
	completed int
	failed    int
	cancelled int
	timedOut  int
	totalTime time.Duration
	workers   int
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an orchestrator drawing agents from registry.
func New(cfg config.OrchestratorConfig, registry Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		maxConcurrent:  cfg.MaxConcurrentTasks,
		defaultTimeout: time.Duration(cfg.DefaultTimeout) * time.Second,
		checkInterval:  time.Duration(cfg.TimeoutCheckInterval) * time.Second,
		logger:         zap.NewNop(),
		active:         map[string]*execution{},
		pending:        map[string]task.ExecutionRecord{},
		callbacks:      map[string]Callback{},
		claimed:        map[string]bool{},
	}
	if o.maxConcurrent <= 0 {
		o.maxConcurrent = 10
	}
	if o.defaultTimeout <= 0 {
		o.defaultTimeout = 300 * time.Second
	}
	if o.checkInterval <= 0 {
		o.checkInterval = 30 * time.Second
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	o.queue = make(chan queued, size)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DefaultTimeout is applied when Execute is given no timeout.
func (o *Orchestrator) DefaultTimeout() time.Duration { return o.defaultTimeout }

// Start launches the queue workers and the timeout checker. They stop
// when ctx is done or Shutdown is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.stop != nil {
		o.mu.Unlock()
		return
	}
	ctx, o.stop = context.WithCancel(ctx)
	o.workers = o.maxConcurrent + 1
	o.mu.Unlock()

	for i := 0; i < o.maxConcurrent; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	o.wg.Add(1)
	go o.timeoutChecker(ctx)
	o.logger.Info("orchestrator started", zap.Int("workers", o.maxConcurrent))
}

// Shutdown stops the background goroutines and cancels every active
// execution. Tasks still queued are cancelled and their callbacks run
// with a cancellation error.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	stop := o.stop
	for _, ex := range o.active {
		if ex.reason == "" {
			ex.reason = task.StatusCancelled
		}
		ex.cancel()
	}
	o.mu.Unlock()

	if stop != nil {
		stop()
		o.wg.Wait()
	}
	o.mu.Lock()
	o.workers = 0
	dropped := make([]string, 0, len(o.pending))
	for id := range o.pending {
		dropped = append(dropped, id)
	}
	o.mu.Unlock()
drain:
	for {
		select {
		case <-o.queue:
		default:
			break drain
		}
	}
	for _, id := range dropped {
		o.cancelPending(id)
	}
	o.logger.Info("orchestrator stopped", zap.Int("dropped", len(dropped)))
}

// Execute runs spec on the best available agent and waits for the
// outcome. A zero timeout uses the default. Every outcome ends up in the
// history and the sink.
func (o *Orchestrator) Execute(ctx context.Context, spec task.Spec, actx *task.Context, timeout time.Duration) (*task.Result, error) {
	if spec.TaskID == "" {
		spec.TaskID = uuid.NewString()
	}
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}

	o.mu.Lock()
	if _, dup := o.active[spec.TaskID]; dup {
		o.mu.Unlock()
		return nil, sdkerr.Validation("task %s is already running", spec.TaskID).WithCode("DUPLICATE_TASK")
	}
	o.mu.Unlock()

	now := timeNow()
	rec := task.ExecutionRecord{
		TaskID:     spec.TaskID,
		AgentType:  spec.AgentType,
		TaskType:   spec.TaskType,
		Status:     task.StatusPending,
		Complexity: spec.Complexity,
		CreatedAt:  now,
		Metadata:   map[string]any{"priority": spec.Priority},
		Events:     []task.Event{{Type: EventCreated, Timestamp: now}},
	}
	if spec.ProjectID != "" {
		rec.Metadata["project_id"] = spec.ProjectID
	}
	if actx != nil && actx.Hash != "" {
		rec.Metadata["context_hash"] = actx.Hash
	}

	agent, err := o.registry.BestAgent(spec.AgentType, spec.TaskType, spec.Complexity)
	if err != nil {
		rec.Status = task.StatusFailed
		rec.Error = err.Error()
		rec.CompletedAt = &now
		rec.Events = append(rec.Events, task.Event{Type: EventFailed, Timestamp: now, Data: map[string]any{"error": err.Error()}})
		o.archive(rec)
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline := now.Add(timeout)
	rec.AgentID = agent.ID()
	rec.Status = task.StatusInProgress
	rec.StartedAt = &now
	rec.TimeoutAt = &deadline
	ex := &execution{rec: rec, spec: spec, cancel: cancel}

	o.mu.Lock()
	if _, dup := o.active[spec.TaskID]; dup {
		o.mu.Unlock()
		return nil, sdkerr.Validation("task %s is already running", spec.TaskID).WithCode("DUPLICATE_TASK")
	}
	delete(o.pending, spec.TaskID)
	if o.claimed[spec.TaskID] {
		ex.reason = task.StatusCancelled
		cancel()
	}
	delete(o.claimed, spec.TaskID)
	o.active[spec.TaskID] = ex
	o.mu.Unlock()
	o.record(spec.TaskID, EventStarted, map[string]any{"agent_id": agent.ID(), "timeout_seconds": timeout.Seconds()})

	type outcome struct {
		res *task.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := agent.Execute(runCtx, spec, actx)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		// The agent may not honour cancellation; do not wait for it.
		out = outcome{err: runCtx.Err()}
	}
	return o.complete(ex, runCtx, agent, out.res, out.err)
}

func (o *Orchestrator) complete(ex *execution, runCtx context.Context, agent Agent, res *task.Result, err error) (*task.Result, error) {
	now := timeNow()

	o.mu.Lock()
	reason := ex.reason
	o.mu.Unlock()

	status := task.StatusCompleted
	switch {
	case err != nil && (reason == task.StatusTimeout || errors.Is(runCtx.Err(), context.DeadlineExceeded)):
		status = task.StatusTimeout
		err = sdkerr.Timeout("task %s timed out", ex.spec.TaskID).
			WithDetail("task_id", ex.spec.TaskID).
			WithDetail("timeout_at", ex.rec.TimeoutAt)
		res = nil
	case err != nil && (reason == task.StatusCancelled || errors.Is(runCtx.Err(), context.Canceled)):
		status = task.StatusCancelled
		err = errCancelled(ex.spec.TaskID)
		res = nil
	case err != nil:
		status = task.StatusFailed
	case res == nil:
		status = task.StatusFailed
		err = sdkerr.TaskExecution("agent %s returned no result", agent.ID()).WithCode("EMPTY_RESULT")
	}

	if res != nil {
		if res.TaskID == "" {
			res.TaskID = ex.spec.TaskID
		}
		if res.AgentID == "" {
			res.AgentID = agent.ID()
		}
		if res.Status == "" {
			res.Status = task.StatusCompleted
		}
		if res.ExecutionTime == 0 && ex.rec.StartedAt != nil {
			res.ExecutionTime = now.Sub(*ex.rec.StartedAt)
		}
		if res.CreatedAt.IsZero() {
			res.CreatedAt = now
		}
	}

	o.mu.Lock()
	delete(o.active, ex.spec.TaskID)
	ex.rec.Status = status
	ex.rec.CompletedAt = &now
	ex.rec.Result = res
	evData := map[string]any{}
	if err != nil {
		ex.rec.Error = err.Error()
		evData["error"] = err.Error()
	} else {
		ex.rec.Progress = 100
		evData["confidence_score"] = res.ConfidenceScore
	}
	ev := task.Event{Type: eventFor(status), Timestamp: now, Data: evData}
	ex.rec.Events = append(ex.rec.Events, ev)
	rec := cloneRecord(ex.rec)
	o.mu.Unlock()

	o.notify(rec, ev)
	o.archive(rec)

	if err != nil {
		o.logger.Warn("task execution ended",
			zap.String("task_id", rec.TaskID), zap.String("status", string(status)), zap.Error(err))
		return nil, err
	}
	o.logger.Info("task execution completed",
		zap.String("task_id", rec.TaskID), zap.String("agent_id", rec.AgentID))
	return res, nil
}

func errCancelled(taskID string) error {
	return sdkerr.TaskExecution("task %s was cancelled", taskID).WithCode("TASK_CANCELLED")
}

func eventFor(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return EventCompleted
	case task.StatusTimeout:
		return EventTimeout
	case task.StatusCancelled:
		return EventCancelled
	}
	return EventFailed
}

// archive appends a finished record to the history, updates counters and
// persists it.
func (o *Orchestrator) archive(rec task.ExecutionRecord) {
	o.mu.Lock()
	delete(o.pending, rec.TaskID)
	delete(o.claimed, rec.TaskID)
	o.history = append(o.history, rec)
	if len(o.history) > maxHistory {
		o.history = slices.Clone(o.history[len(o.history)-maxHistory:])
	}
	switch rec.Status {
	case task.StatusCompleted:
		o.completed++
		if rec.StartedAt != nil && rec.CompletedAt != nil {
			o.totalTime += rec.CompletedAt.Sub(*rec.StartedAt)
		}
	case task.StatusTimeout:
		o.timedOut++
		o.failed++
	case task.StatusCancelled:
		o.cancelled++
	default:
		o.failed++
	}
	sink := o.sink
	o.mu.Unlock()

	if sink != nil {
		if err := sink.SaveExecution(rec); err != nil {
			o.logger.Warn("failed to persist execution", zap.String("task_id", rec.TaskID), zap.Error(err))
		}
	}
}

// record appends an event to an active execution.
func (o *Orchestrator) record(taskID, typ string, data map[string]any) bool {
	o.mu.Lock()
	ex, ok := o.active[taskID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	ev := task.Event{Type: typ, Timestamp: timeNow(), Data: data}
	ex.rec.Events = append(ex.rec.Events, ev)
	rec := cloneRecord(ex.rec)
	o.mu.Unlock()

	o.notify(rec, ev)
	return true
}

func (o *Orchestrator) notify(rec task.ExecutionRecord, ev task.Event) {
	for _, fn := range o.observers {
		fn(rec, ev)
	}
}

// LogEvent records a custom event on an active execution. It reports
// false when the task is not active.
func (o *Orchestrator) LogEvent(taskID, eventType string, data map[string]any) bool {
	return o.record(taskID, eventType, data)
}

// UpdateProgress sets an active execution's progress, clamped to 0..100.
func (o *Orchestrator) UpdateProgress(taskID string, pct float64, message string) bool {
	pct = max(0, min(100, pct))
	o.mu.Lock()
	ex, ok := o.active[taskID]
	if ok {
		ex.rec.Progress = pct
		ex.rec.Message = message
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	return o.record(taskID, EventProgress, map[string]any{"progress": pct, "message": message})
}

// Queue schedules spec for a worker and returns its task id. cb may be
// nil. Queued work only runs after Start.
func (o *Orchestrator) Queue(spec task.Spec, actx *task.Context, timeout time.Duration, cb Callback) (string, error) {
	if spec.TaskID == "" {
		spec.TaskID = uuid.NewString()
	}
	rec := task.ExecutionRecord{
		TaskID:     spec.TaskID,
		AgentType:  spec.AgentType,
		TaskType:   spec.TaskType,
		Status:     task.StatusPending,
		Complexity: spec.Complexity,
		CreatedAt:  timeNow(),
		Metadata:   map[string]any{"queued": true},
	}
	if actx != nil && actx.Hash != "" {
		rec.Metadata["context_hash"] = actx.Hash
	}
	rec.Events = []task.Event{{Type: EventCreated, Timestamp: rec.CreatedAt}}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.active[spec.TaskID]; dup {
		return "", sdkerr.Validation("task %s is already running", spec.TaskID).WithCode("DUPLICATE_TASK")
	}
	if _, dup := o.pending[spec.TaskID]; dup {
		return "", sdkerr.Validation("task %s is already queued", spec.TaskID).WithCode("DUPLICATE_TASK")
	}
	select {
	case o.queue <- queued{spec: spec, actx: actx, timeout: timeout}:
	default:
		return "", sdkerr.TaskExecution("task queue is full (%d)", cap(o.queue)).WithCode("QUEUE_FULL")
	}
	o.pending[spec.TaskID] = rec
	if cb != nil {
		o.callbacks[spec.TaskID] = cb
	}
	o.logger.Debug("task queued", zap.String("task_id", spec.TaskID))
	return spec.TaskID, nil
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-o.queue:
			cb, ok := o.claim(q.spec.TaskID)
			if !ok {
				// Cancelled while queued.
				continue
			}
			res, err := o.Execute(ctx, q.spec, q.actx, q.timeout)
			if cb != nil {
				cb(res, err)
			}
		}
	}
}

// claim takes a queued task for a worker. Once claimed, Cancel treats it
// as active and the callback belongs to the worker.
func (o *Orchestrator) claim(taskID string) (Callback, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[taskID]; !ok {
		return nil, false
	}
	cb := o.callbacks[taskID]
	delete(o.callbacks, taskID)
	o.claimed[taskID] = false
	return cb, true
}

func (o *Orchestrator) timeoutChecker(ctx context.Context) {
	defer o.wg.Done()
	t := time.NewTicker(o.checkInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.checkTimeouts()
		}
	}
}

// checkTimeouts cancels active executions past their deadline and
// returns how many it cancelled.
func (o *Orchestrator) checkTimeouts() int {
	now := timeNow()
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, ex := range o.active {
		if ex.reason != "" || ex.rec.TimeoutAt == nil || now.Before(*ex.rec.TimeoutAt) {
			continue
		}
		ex.reason = task.StatusTimeout
		ex.cancel()
		n++
		o.logger.Warn("task timed out", zap.String("task_id", id))
	}
	return n
}

// Cancel stops an active or queued task. It reports false when the task
// is neither.
func (o *Orchestrator) Cancel(taskID string) bool {
	o.mu.Lock()
	if ex, ok := o.active[taskID]; ok {
		if ex.reason == "" {
			ex.reason = task.StatusCancelled
		}
		ex.cancel()
		o.mu.Unlock()
		o.logger.Info("task cancelled", zap.String("task_id", taskID))
		return true
	}
	if _, ok := o.claimed[taskID]; ok {
		o.claimed[taskID] = true
		o.mu.Unlock()
		o.logger.Info("task cancelled", zap.String("task_id", taskID))
		return true
	}
	o.mu.Unlock()
	return o.cancelPending(taskID)
}

// cancelPending archives a queued task that no worker has claimed and
// runs its callback with a cancellation error.
func (o *Orchestrator) cancelPending(taskID string) bool {
	o.mu.Lock()
	rec, ok := o.pending[taskID]
	_, claimed := o.claimed[taskID]
	if !ok || claimed {
		o.mu.Unlock()
		return false
	}
	cb := o.callbacks[taskID]
	delete(o.pending, taskID)
	delete(o.callbacks, taskID)
	o.mu.Unlock()

	now := timeNow()
	rec.Status = task.StatusCancelled
	rec.CompletedAt = &now
	rec.Events = append(rec.Events, task.Event{Type: EventCancelled, Timestamp: now})
	o.archive(rec)
	o.logger.Info("queued task cancelled", zap.String("task_id", taskID))
	if cb != nil {
		cb(nil, errCancelled(taskID))
	}
	return true
}

// TaskStatus returns the record of an active, queued or finished task.
func (o *Orchestrator) TaskStatus(taskID string) (task.ExecutionRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ex, ok := o.active[taskID]; ok {
		return cloneRecord(ex.rec), true
	}
	if rec, ok := o.pending[taskID]; ok {
		return cloneRecord(rec), true
	}
	for i := len(o.history) - 1; i >= 0; i-- {
		if o.history[i].TaskID == taskID {
			return cloneRecord(o.history[i]), true
		}
	}
	return task.ExecutionRecord{}, false
}

// ActiveTasks returns running executions, oldest first.
func (o *Orchestrator) ActiveTasks() []task.ExecutionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]task.ExecutionRecord, 0, len(o.active))
	for _, ex := range o.active {
		out = append(out, cloneRecord(ex.rec))
	}
	slices.SortFunc(out, func(a, b task.ExecutionRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// History returns up to limit finished executions, newest first. A
// non-positive limit returns everything.
func (o *Orchestrator) History(limit int) []task.ExecutionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]task.ExecutionRecord, 0, n)
	for i := len(o.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneRecord(o.history[i]))
	}
	return out
}

// Metrics returns current counters.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := o.completed + o.failed + o.cancelled
	m := Metrics{
		ActiveTasks:        len(o.active),
		QueuedTasks:        len(o.pending),
		TotalTasks:         total,
		CompletedTasks:     o.completed,
		FailedTasks:        o.failed,
		CancelledTasks:     o.cancelled,
		TimedOutTasks:      o.timedOut,
		MaxConcurrentTasks: o.maxConcurrent,
		BackgroundWorkers:  o.workers,
	}
	if total > 0 {
		m.SuccessRate = float64(o.completed) / float64(total)
	}
	if o.completed > 0 {
		m.AverageExecutionTime = o.totalTime / time.Duration(o.completed)
	}
	return m
}

func cloneRecord(r task.ExecutionRecord) task.ExecutionRecord {
	r.Events = slices.Clone(r.Events)
	r.Metadata = maps.Clone(r.Metadata)
	if r.Result != nil {
		res := *r.Result
		r.Result = &res
	}
	return r
}
