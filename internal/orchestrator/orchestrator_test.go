package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// --- Fakes ---

type fakeAgent struct {
	id      string
	run     func(ctx context.Context, spec task.Spec) (*task.Result, error)
	started chan string
}

func (a *fakeAgent) ID() string   { return a.id }
func (a *fakeAgent) Type() string { return "research" }

func (a *fakeAgent) Execute(ctx context.Context, spec task.Spec, _ *task.Context) (*task.Result, error) {
	if a.started != nil {
		a.started <- spec.TaskID
	}
	if a.run != nil {
		return a.run(ctx, spec)
	}
	return &task.Result{Content: "done", ConfidenceScore: 0.9}, nil
}

type fakeRegistry struct{ agent *fakeAgent }

func (r fakeRegistry) BestAgent(agentType, taskType string, _ int) (Agent, error) {
	if r.agent == nil || agentType != "research" {
		return nil, sdkerr.AgentUnavailable("no agent for %s", agentType)
	}
	return r.agent, nil
}

func (r fakeRegistry) All() []Agent {
	if r.agent == nil {
		return nil
	}
	return []Agent{r.agent}
}

type memSink struct {
	mu   sync.Mutex
	recs []task.ExecutionRecord
}

func (s *memSink) SaveExecution(rec task.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func newOrch(t *testing.T, agent *fakeAgent, opts ...Option) (*Orchestrator, *memSink) {
	t.Helper()
	sink := &memSink{}
	o := New(config.OrchestratorConfig{MaxConcurrentTasks: 2, DefaultTimeout: 5, TimeoutCheckInterval: 1, QueueSize: 4},
		fakeRegistry{agent}, append([]Option{WithSink(sink)}, opts...)...)
	t.Cleanup(o.Shutdown)
	return o, sink
}

func spec(id string) task.Spec {
	return task.Spec{TaskID: id, AgentType: "research", TaskType: "research", Task: "x", Complexity: 3, Priority: 5}
}

// blockingAgent runs until ctx is done or release is closed.
func blockingAgent(release chan struct{}) *fakeAgent {
	return &fakeAgent{
		id:      "research_block",
		started: make(chan string, 8),
		run: func(ctx context.Context, spec task.Spec) (*task.Result, error) {
			select {
			case <-release:
				return &task.Result{Content: "released"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// --- Execute ---

func TestExecute_Success(t *testing.T) {
	var events []string
	o, sink := newOrch(t, &fakeAgent{id: "research_1"}, WithObserver(func(_ task.ExecutionRecord, ev task.Event) {
		events = append(events, ev.Type)
	}))

	res, err := o.Execute(context.Background(), spec("t1"), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.AgentID != "research_1" || res.TaskID != "t1" || res.Status != task.StatusCompleted || res.CreatedAt.IsZero() {
		t.Errorf("result not filled in: %+v", res)
	}

	rec, ok := o.TaskStatus("t1")
	if !ok || rec.Status != task.StatusCompleted || rec.Progress != 100 {
		t.Fatalf("status = %+v, %v", rec, ok)
	}
	if rec.TimeoutAt == nil || rec.TimeoutAt.Sub(*rec.StartedAt) != 5*time.Second {
		t.Errorf("timeout_at = %v", rec.TimeoutAt)
	}
	if len(events) != 2 || events[0] != EventStarted || events[1] != EventCompleted {
		t.Errorf("events = %v", events)
	}
	if sink.len() != 1 {
		t.Errorf("persisted %d records", sink.len())
	}
	if m := o.Metrics(); m.CompletedTasks != 1 || m.SuccessRate != 1 || m.ActiveTasks != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestExecute_NoAgent(t *testing.T) {
	o, sink := newOrch(t, nil)
	_, err := o.Execute(context.Background(), spec("t1"), nil, 0)
	if !errors.Is(err, sdkerr.ErrAgentUnavailable) {
		t.Fatalf("err = %v", err)
	}
	rec, ok := o.TaskStatus("t1")
	if !ok || rec.Status != task.StatusFailed {
		t.Errorf("record = %+v", rec)
	}
	if sink.len() != 1 {
		t.Errorf("failure not persisted")
	}
}

func TestExecute_AgentErrorAndNilResult(t *testing.T) {
	boom := sdkerr.TaskExecution("boom")
	o, _ := newOrch(t, &fakeAgent{id: "a", run: func(context.Context, task.Spec) (*task.Result, error) { return nil, boom }})
	if _, err := o.Execute(context.Background(), spec("t1"), nil, 0); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}

	o2, _ := newOrch(t, &fakeAgent{id: "a", run: func(context.Context, task.Spec) (*task.Result, error) { return nil, nil }})
	_, err := o2.Execute(context.Background(), spec("t2"), nil, 0)
	var se *sdkerr.Error
	if !errors.As(err, &se) || se.Code != "EMPTY_RESULT" {
		t.Errorf("err = %v", err)
	}
	if rec, _ := o2.TaskStatus("t2"); rec.Status != task.StatusFailed {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestExecute_Timeout(t *testing.T) {
	o, _ := newOrch(t, blockingAgent(make(chan struct{})))
	_, err := o.Execute(context.Background(), spec("t1"), nil, 20*time.Millisecond)
	if !errors.Is(err, sdkerr.ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
	rec, _ := o.TaskStatus("t1")
	if rec.Status != task.StatusTimeout {
		t.Errorf("status = %s", rec.Status)
	}
	if m := o.Metrics(); m.TimedOutTasks != 1 || m.FailedTasks != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestExecute_AgentIgnoringContextStillTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o, _ := newOrch(t, &fakeAgent{id: "stubborn", run: func(context.Context, task.Spec) (*task.Result, error) {
		<-release
		return &task.Result{}, nil
	}})
	start := time.Now()
	if _, err := o.Execute(context.Background(), spec("t1"), nil, 20*time.Millisecond); !errors.Is(err, sdkerr.ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Execute waited for an agent that ignores cancellation")
	}
}

func TestCancel_Active(t *testing.T) {
	release := make(chan struct{})
	agent := blockingAgent(release)
	o, _ := newOrch(t, agent)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Execute(context.Background(), spec("t1"), nil, 0)
		errc <- err
	}()
	<-agent.started

	if got := o.ActiveTasks(); len(got) != 1 || got[0].Status != task.StatusInProgress {
		t.Fatalf("active = %+v", got)
	}
	if !o.UpdateProgress("t1", 140, "almost") {
		t.Fatal("UpdateProgress on active task returned false")
	}
	if rec, _ := o.TaskStatus("t1"); rec.Progress != 100 || rec.Message != "almost" {
		t.Errorf("progress = %v %q", rec.Progress, rec.Message)
	}
	if !o.LogEvent("t1", "checkpoint", map[string]any{"step": 2}) {
		t.Fatal("LogEvent returned false")
	}
	if !o.Cancel("t1") {
		t.Fatal("Cancel returned false")
	}

	err := <-errc
	var se *sdkerr.Error
	if !errors.As(err, &se) || se.Code != "TASK_CANCELLED" {
		t.Fatalf("err = %v", err)
	}
	rec, _ := o.TaskStatus("t1")
	if rec.Status != task.StatusCancelled {
		t.Errorf("status = %s", rec.Status)
	}
	var sawCheckpoint bool
	for _, ev := range rec.Events {
		if ev.Type == "checkpoint" {
			sawCheckpoint = true
		}
	}
	if !sawCheckpoint {
		t.Errorf("events = %+v", rec.Events)
	}
	if o.Cancel("t1") || o.Cancel("unknown") {
		t.Error("Cancel of finished or unknown task returned true")
	}
	if o.UpdateProgress("t1", 10, "") || o.LogEvent("t1", "x", nil) {
		t.Error("events recorded on a finished task")
	}
}

func TestCheckTimeouts(t *testing.T) {
	agent := blockingAgent(make(chan struct{}))
	o, _ := newOrch(t, agent)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Execute(context.Background(), spec("t1"), nil, time.Hour)
		errc <- err
	}()
	<-agent.started

	if n := o.checkTimeouts(); n != 0 {
		t.Fatalf("cancelled %d tasks before their deadline", n)
	}

	orig := timeNow
	timeNow = func() time.Time { return orig().Add(2 * time.Hour) }
	defer func() { timeNow = orig }()

	if n := o.checkTimeouts(); n != 1 {
		t.Fatalf("checkTimeouts = %d, want 1", n)
	}
	if err := <-errc; !errors.Is(err, sdkerr.ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
	if rec, _ := o.TaskStatus("t1"); rec.Status != task.StatusTimeout {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestExecute_DuplicateID(t *testing.T) {
	agent := blockingAgent(make(chan struct{}))
	o, _ := newOrch(t, agent)
	go o.Execute(context.Background(), spec("t1"), nil, 0)
	<-agent.started

	if _, err := o.Execute(context.Background(), spec("t1"), nil, 0); !errors.Is(err, sdkerr.ErrValidation) {
		t.Errorf("err = %v", err)
	}
	o.Cancel("t1")
}

// --- Queue ---

func TestQueue_WorkersRunTasks(t *testing.T) {
	o, _ := newOrch(t, &fakeAgent{id: "research_1"})
	o.Start(context.Background())

	var wg sync.WaitGroup
	results := make(chan string, 3)
	for _, id := range []string{"q1", "q2", "q3"} {
		wg.Add(1)
		got, err := o.Queue(spec(id), nil, 0, func(res *task.Result, err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("callback err: %v", err)
				return
			}
			results <- res.TaskID
		})
		if err != nil || got != id {
			t.Fatalf("Queue = %q, %v", got, err)
		}
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for id := range results {
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Errorf("results = %v", seen)
	}
	m := o.Metrics()
	if m.CompletedTasks != 3 || m.QueuedTasks != 0 || m.BackgroundWorkers != 3 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestQueue_FullAndCancelPending(t *testing.T) {
	o, sink := newOrch(t, &fakeAgent{id: "a"})
	// Not started: tasks stay queued.
	for i, id := range []string{"a", "b", "c", "d"} {
		if _, err := o.Queue(spec(id), nil, 0, nil); err != nil {
			t.Fatalf("Queue %d: %v", i, err)
		}
	}
	_, err := o.Queue(spec("e"), nil, 0, nil)
	var se *sdkerr.Error
	if !errors.As(err, &se) || se.Code != "QUEUE_FULL" {
		t.Fatalf("err = %v", err)
	}
	if _, err := o.Queue(spec("a"), nil, 0, nil); !errors.Is(err, sdkerr.ErrValidation) {
		t.Errorf("duplicate queue: err = %v", err)
	}

	if rec, ok := o.TaskStatus("b"); !ok || rec.Status != task.StatusPending {
		t.Fatalf("pending status = %+v", rec)
	}
	if !o.Cancel("b") {
		t.Fatal("Cancel pending returned false")
	}
	if rec, _ := o.TaskStatus("b"); rec.Status != task.StatusCancelled {
		t.Errorf("status = %s", rec.Status)
	}
	if sink.len() != 1 {
		t.Errorf("cancelled task not persisted")
	}

	o.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for o.Metrics().CompletedTasks < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("metrics = %+v", o.Metrics())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec, _ := o.TaskStatus("b"); rec.Status != task.StatusCancelled {
		t.Errorf("cancelled task ran: %s", rec.Status)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	o, _ := newOrch(t, &fakeAgent{id: "a"})
	for _, id := range []string{"h1", "h2", "h3"} {
		if _, err := o.Execute(context.Background(), spec(id), nil, 0); err != nil {
			t.Fatal(err)
		}
	}
	h := o.History(2)
	if len(h) != 2 || h[0].TaskID != "h3" || h[1].TaskID != "h2" {
		t.Errorf("history = %v", h)
	}
	if all := o.History(0); len(all) != 3 {
		t.Errorf("history(0) = %d", len(all))
	}
}

func TestShutdown_CancelsActive(t *testing.T) {
	agent := blockingAgent(make(chan struct{}))
	o := New(config.OrchestratorConfig{}, fakeRegistry{agent})
	o.Start(context.Background())
	if _, err := o.Queue(spec("s1"), nil, 0, nil); err != nil {
		t.Fatal(err)
	}
	<-agent.started
	o.Shutdown()

	rec, _ := o.TaskStatus("s1")
	if rec.Status != task.StatusCancelled {
		t.Errorf("status = %s", rec.Status)
	}
	if m := o.Metrics(); m.BackgroundWorkers != 0 || m.MaxConcurrentTasks != 10 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestCancel_PendingRunsCallback(t *testing.T) {
	o, _ := newOrch(t, &fakeAgent{id: "a"})
	got := make(chan error, 1)
	if _, err := o.Queue(spec("p1"), nil, 0, func(res *task.Result, err error) {
		if res != nil {
			t.Errorf("result = %+v, want nil", res)
		}
		got <- err
	}); err != nil {
		t.Fatal(err)
	}
	if !o.Cancel("p1") {
		t.Fatal("Cancel returned false")
	}

	select {
	case err := <-got:
		var se *sdkerr.Error
		if !errors.As(err, &se) || se.Code != "TASK_CANCELLED" {
			t.Errorf("callback err = %v, want TASK_CANCELLED", err)
		}
	default:
		t.Fatal("callback not run on cancel")
	}

	o.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if len(got) != 0 {
		t.Error("callback ran twice")
	}
}

func TestShutdown_RunsPendingCallbacks(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	agent := blockingAgent(release)
	o := New(config.OrchestratorConfig{MaxConcurrentTasks: 1, QueueSize: 4}, fakeRegistry{agent})
	o.Start(context.Background())

	var mu sync.Mutex
	outcomes := map[string]error{}
	cb := func(id string) Callback {
		return func(_ *task.Result, err error) {
			mu.Lock()
			outcomes[id] = err
			mu.Unlock()
		}
	}
	for _, id := range []string{"run", "wait1", "wait2"} {
		if _, err := o.Queue(spec(id), nil, 0, cb(id)); err != nil {
			t.Fatal(err)
		}
	}
	<-agent.started
	o.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 3 {
		t.Fatalf("callbacks run = %d, want 3: %v", len(outcomes), outcomes)
	}
	for id, err := range outcomes {
		if err == nil {
			t.Errorf("%s: err = nil, want cancellation", id)
		}
		if rec, _ := o.TaskStatus(id); rec.Status != task.StatusCancelled {
			t.Errorf("%s: status = %s", id, rec.Status)
		}
	}
	if m := o.Metrics(); m.QueuedTasks != 0 {
		t.Errorf("queued = %d after shutdown", m.QueuedTasks)
	}
}
