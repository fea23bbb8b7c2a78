package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/devteam/internal/store"
	"github.com/HendryAvila/devteam/internal/task"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "devteam.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(id string, created time.Time) task.ExecutionRecord {
	started := created.Add(time.Second)
	done := created.Add(3 * time.Second)
	return task.ExecutionRecord{
		TaskID:      id,
		AgentID:     "research_1",
		AgentType:   "research",
		TaskType:    "market_research",
		Status:      task.StatusCompleted,
		Complexity:  4,
		CreatedAt:   created,
		StartedAt:   &started,
		CompletedAt: &done,
		Progress:    1,
		Message:     "done",
		Events: []task.Event{
			{Type: "task_submitted", Timestamp: created},
			{Type: "task_completed", Timestamp: done, Data: map[string]any{"confidence": 0.8}},
		},
		Result: &task.Result{
			TaskID:          id,
			AgentID:         "research_1",
			Status:          task.StatusCompleted,
			Content:         "market is growing",
			ExecutionTime:   2 * time.Second,
			ConfidenceScore: 0.8,
			Sources:         []string{"perplexity"},
			Metadata:        map[string]any{"research_type": "market_research"},
		},
		Metadata: map[string]any{"project_id": "p1"},
	}
}

// ─── Open ───────────────────────────────────────────────────────────────────

func TestOpen_WALMode(t *testing.T) {
	s := newTestStore(t)
	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "devteam.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.SaveExecution(sampleRecord("t1", time.Now())); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()
	if _, ok, err := s2.Execution("t1"); err != nil || !ok {
		t.Errorf("Execution(t1) after reopen = ok %v, err %v", ok, err)
	}
}

// ─── Executions ─────────────────────────────────────────────────────────────

func TestSaveExecution_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.SaveExecution(sampleRecord("t1", created)); err != nil {
		t.Fatalf("SaveExecution() error: %v", err)
	}

	got, ok, err := s.Execution("t1")
	if err != nil || !ok {
		t.Fatalf("Execution() = ok %v, err %v", ok, err)
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("Status = %q", got.Status)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(created.Add(time.Second)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
	if got.TimeoutAt != nil {
		t.Errorf("TimeoutAt = %v, want nil", got.TimeoutAt)
	}
	if got.Metadata["project_id"] != "p1" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if got.Result == nil {
		t.Fatal("Result is nil")
	}
	if got.Result.Content != "market is growing" || got.Result.ConfidenceScore != 0.8 {
		t.Errorf("Result = %+v", got.Result)
	}
	if got.Result.ExecutionTime != 2*time.Second {
		t.Errorf("ExecutionTime = %v", got.Result.ExecutionTime)
	}
	if len(got.Result.Sources) != 1 || got.Result.Sources[0] != "perplexity" {
		t.Errorf("Sources = %v", got.Result.Sources)
	}
	if got.Result.Metadata["research_type"] != "market_research" {
		t.Errorf("Result.Metadata = %v", got.Result.Metadata)
	}
	if len(got.Events) != 2 || got.Events[1].Type != "task_completed" {
		t.Fatalf("Events = %+v", got.Events)
	}
	if got.Events[1].Data["confidence"] != 0.8 {
		t.Errorf("event data = %v", got.Events[1].Data)
	}
}

func TestSaveExecution_Upsert(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord("t1", time.Now())
	rec.Status = task.StatusInProgress
	rec.Result = nil
	rec.Events = rec.Events[:1]
	if err := s.SaveExecution(rec); err != nil {
		t.Fatal(err)
	}

	rec = sampleRecord("t1", rec.CreatedAt)
	if err := s.SaveExecution(rec); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.Execution("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if len(got.Events) != 2 {
		t.Errorf("Events len = %d, want 2 (replaced, not appended)", len(got.Events))
	}
}

func TestSaveExecution_RequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveExecution(task.ExecutionRecord{}); err == nil {
		t.Error("expected error for empty task id")
	}
}

func TestExecution_Missing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Execution("nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("ok = true for missing execution")
	}
}

func TestRecentExecutions_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.SaveExecution(sampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentExecutions(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].TaskID != "c" || got[1].TaskID != "b" {
		t.Errorf("order = %s, %s; want c, b", got[0].TaskID, got[1].TaskID)
	}
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SaveExecution(sampleRecord("old", base))
	s.SaveExecution(sampleRecord("new", base.Add(48*time.Hour)))

	n, err := s.PruneBefore(base.Add(24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	var events int
	s.DB().QueryRow("SELECT COUNT(*) FROM task_events WHERE task_id = 'old'").Scan(&events)
	if events != 0 {
		t.Errorf("events for pruned task = %d, want 0", events)
	}
}

// ─── Phase transitions / stats ──────────────────────────────────────────────

func TestPhaseTransitions(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.RecordPhaseTransition(store.PhaseTransition{From: "initialization", To: "research", ComplexityUsed: 3, TaskCount: 1, At: at}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordPhaseTransition(store.PhaseTransition{From: "research", To: "planning"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.PhaseTransitions()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].To != "research" || !got[0].At.Equal(at) || got[0].ComplexityUsed != 3 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].At.IsZero() {
		t.Error("zero At should default to now")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.SaveExecution(sampleRecord("a", now))
	failed := sampleRecord("b", now)
	failed.Status = task.StatusFailed
	failed.AgentType = "backend"
	failed.Result = nil
	failed.Error = "boom"
	s.SaveExecution(failed)
	s.RecordPhaseTransition(store.PhaseTransition{From: "initialization", To: "research"})

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalExecutions != 2 {
		t.Errorf("TotalExecutions = %d", st.TotalExecutions)
	}
	if st.ByStatus["completed"] != 1 || st.ByStatus["failed"] != 1 {
		t.Errorf("ByStatus = %v", st.ByStatus)
	}
	if st.ByAgentType["backend"] != 1 {
		t.Errorf("ByAgentType = %v", st.ByAgentType)
	}
	if st.AverageConfidence != 0.8 {
		t.Errorf("AverageConfidence = %v, want 0.8", st.AverageConfidence)
	}
	if st.AverageDuration != 2*time.Second {
		t.Errorf("AverageDuration = %v", st.AverageDuration)
	}
	if st.TotalComplexity != 8 {
		t.Errorf("TotalComplexity = %d, want 8", st.TotalComplexity)
	}
	if st.PhaseTransitions != 1 {
		t.Errorf("PhaseTransitions = %d", st.PhaseTransitions)
	}
}
