package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/mcpclient"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/security"
	"github.com/HendryAvila/devteam/internal/task"
)

func TestInitialize_RequiresProvider(t *testing.T) {
	a := NewResearch(config.AgentConfig{})
	err := a.Initialize(context.Background(), nil, nil)
	if !errors.Is(err, sdkerr.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if a.Status() != StatusError {
		t.Errorf("status = %s, want error", a.Status())
	}
}

func TestInitialize_RegistersCapabilitiesAndIntegrations(t *testing.T) {
	mcp := &fakeMCP{servers: map[string]bool{mcpclient.ServerPerplexity: true}}
	a := onlineAgent(t, NewResearch, &fakeProvider{}, mcp)

	if a.Status() != StatusOnline {
		t.Fatalf("status = %s", a.Status())
	}
	if !strings.HasPrefix(a.ID(), "research_") || len(a.ID()) != len("research_")+8 {
		t.Errorf("id = %q", a.ID())
	}
	for _, tt := range []string{"competitive_research", "market_analysis", "fact_checking", "research"} {
		if !a.Supports(tt) {
			t.Errorf("should support %s", tt)
		}
	}
	snap := a.Snapshot()
	if len(snap.MCPIntegrations) != 1 || snap.MCPIntegrations[0] != mcpclient.ServerPerplexity {
		t.Errorf("integrations = %v", snap.MCPIntegrations)
	}
	if snap.MaxConcurrentTasks != 3 {
		t.Errorf("max concurrent = %d, want 3", snap.MaxConcurrentTasks)
	}
}

func TestInitialize_SkipsServersClientDoesNotServe(t *testing.T) {
	a := onlineAgent(t, NewCodebaseAnalyzer, &fakeProvider{}, &fakeMCP{servers: map[string]bool{}})
	if got := a.Snapshot().MCPIntegrations; len(got) != 0 {
		t.Errorf("integrations = %v, want none", got)
	}
}

func TestExecute_Rejections(t *testing.T) {
	p := &fakeProvider{}

	offline := NewResearch(config.AgentConfig{}, WithProvider(p))
	if _, err := offline.Execute(context.Background(), newSpec(TypeResearch, "research"), nil); !errors.Is(err, sdkerr.ErrTaskExecution) {
		t.Errorf("offline: err = %v", err)
	}

	a := onlineAgent(t, NewResearch, p, nil)
	_, err := a.Execute(context.Background(), newSpec(TypeResearch, "api_development"), nil)
	var se *sdkerr.Error
	if !errors.As(err, &se) || se.Code != "UNSUPPORTED_TASK_TYPE" {
		t.Errorf("unsupported: err = %v", err)
	}

	a.SetMaintenance(true)
	if _, err := a.Execute(context.Background(), newSpec(TypeResearch, "research"), nil); err == nil {
		t.Error("maintenance agent accepted a task")
	}
	a.SetMaintenance(false)
	if a.Status() != StatusOnline {
		t.Errorf("status = %s after maintenance", a.Status())
	}
}

func TestExecute_PermissionDenied(t *testing.T) {
	a := NewResearch(config.AgentConfig{}, WithProvider(&fakeProvider{}))
	sec := &security.Context{Role: TypeResearch, Permissions: []string{"task:market_research"}}
	if err := a.Initialize(context.Background(), nil, sec); err != nil {
		t.Fatal(err)
	}

	_, err := a.Execute(context.Background(), newSpec(TypeResearch, "research"), nil)
	var se *sdkerr.Error
	if !errors.As(err, &se) || se.Code != "PERMISSION_DENIED" {
		t.Fatalf("err = %v, want PERMISSION_DENIED", err)
	}
	if _, err := a.Execute(context.Background(), newSpec(TypeResearch, "market_research"), nil); err != nil {
		t.Fatalf("permitted task failed: %v", err)
	}
}

func TestExecute_ConcurrencyLimit(t *testing.T) {
	p := &fakeProvider{block: make(chan struct{})}
	a := NewResearch(config.AgentConfig{MaxConcurrentTasks: 1}, WithProvider(p))
	if err := a.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.Execute(context.Background(), newSpec(TypeResearch, "research"), nil)
		done <- err
	}()
	for i := 0; p.count() == 0; i++ {
		if i > 200 {
			t.Fatal("first task never reached the provider")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if a.Available() {
		t.Error("agent at capacity reported available")
	}
	if got := a.Load(); got != 1 {
		t.Errorf("load = %v, want 1", got)
	}

	second := newSpec(TypeResearch, "research")
	second.TaskID = "task-2"
	_, err := a.Execute(context.Background(), second, nil)
	var se *sdkerr.Error
	if !errors.As(err, &se) || se.Code != "AGENT_AT_CAPACITY" {
		t.Errorf("err = %v, want AGENT_AT_CAPACITY", err)
	}

	close(p.block)
	if err := <-done; err != nil {
		t.Fatalf("first task: %v", err)
	}
	m := a.Metrics()
	if m.TotalTasks != 1 || m.SuccessfulTasks != 1 || m.CurrentLoad != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestExecute_LLMFailureCountsAsFailed(t *testing.T) {
	p := &fakeProvider{err: errors.New("boom")}
	a := onlineAgent(t, NewResearch, p, nil)

	_, err := a.Execute(context.Background(), newSpec(TypeResearch, "research"), nil)
	if !errors.Is(err, sdkerr.ErrTaskExecution) {
		t.Fatalf("err = %v, want task execution error", err)
	}
	if m := a.Metrics(); m.FailedTasks != 1 || m.SuccessfulTasks != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestExecute_UsesContextPromptAndHistory(t *testing.T) {
	p := &fakeProvider{}
	a := onlineAgent(t, NewResearch, p, nil)

	actx := &task.Context{
		SystemPrompt: "custom system prompt",
		History:      []task.Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}},
	}
	res, err := a.Execute(context.Background(), newSpec(TypeResearch, "research"), actx)
	if err != nil {
		t.Fatal(err)
	}
	req := p.last()
	if req.System != "custom system prompt" {
		t.Errorf("system = %q", req.System)
	}
	if len(req.Messages) != 3 || req.Messages[2].Role != "user" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Model != "test-model" || req.MaxTokens != 1000 {
		t.Errorf("model/max tokens = %s/%d", req.Model, req.MaxTokens)
	}
	if res.AgentID != a.ID() || res.Status != task.StatusCompleted {
		t.Errorf("result = %+v", res)
	}
	if res.Metadata["complexity_level"] != 5 {
		t.Errorf("complexity_level = %v", res.Metadata["complexity_level"])
	}
}

func TestExecute_DefaultPromptWithoutContext(t *testing.T) {
	p := &fakeProvider{}
	a := onlineAgent(t, NewBackend, p, nil)
	if _, err := a.Execute(context.Background(), newSpec(TypeBackend, "api_development"), nil); err != nil {
		t.Fatal(err)
	}
	if p.last().System != backendSystemPrompt {
		t.Errorf("system prompt = %q", p.last().System)
	}
}

func TestHeartbeatAndShutdown(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := start
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })

	a := onlineAgent(t, NewFrontend, &fakeProvider{}, nil)
	now = start.Add(90 * time.Second)
	a.SendHeartbeat()
	m := a.Metrics()
	if m.Uptime != 90*time.Second || !m.LastHeartbeat.Equal(now) {
		t.Errorf("metrics = %+v", m)
	}

	a.Shutdown(context.Background())
	if a.Status() != StatusOffline {
		t.Errorf("status = %s, want offline", a.Status())
	}
}
