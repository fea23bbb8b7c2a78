package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/security"
)

func TestBuild_CreatesConfiguredInstances(t *testing.T) {
	cfg := config.Default()
	cfg.AgentRegistry = map[string]config.AgentConfig{
		TypeResearch: {Instances: 2},
		TypeBackend:  {},
	}
	r, err := Build(cfg, &fakeProvider{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(r.ByType(TypeResearch)); got != 2 {
		t.Errorf("research instances = %d, want 2", got)
	}
	if got := len(r.ByType(TypeBackend)); got != 1 {
		t.Errorf("backend instances = %d, want 1", got)
	}
	if got := len(r.All()); got != 3 {
		t.Errorf("all = %d", got)
	}
}

func TestBuild_UnknownType(t *testing.T) {
	cfg := config.Default()
	cfg.AgentRegistry = map[string]config.AgentConfig{"designer": {}}
	if _, err := Build(cfg, nil, nil); !errors.Is(err, sdkerr.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistry_InitializeReportsFailures(t *testing.T) {
	r := NewRegistry(nil)
	good := NewBackend(config.AgentConfig{}, WithProvider(&fakeProvider{}))
	bad := NewFrontend(config.AgentConfig{})
	r.Register(good)
	r.Register(bad)

	policy := security.NewPolicy(config.SecurityConfig{}, "")
	err := r.Initialize(context.Background(), nil, policy)
	if !errors.Is(err, sdkerr.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
	if good.Status() != StatusOnline || bad.Status() != StatusError {
		t.Errorf("statuses = %s/%s", good.Status(), bad.Status())
	}
	online := r.Online()
	if _, ok := online[TypeFrontend]; ok {
		t.Error("failed agent listed as online")
	}
	if len(online[TypeBackend]) == 0 {
		t.Error("backend task types missing")
	}
}

func TestRegistry_BestAgentPicksLowestLoad(t *testing.T) {
	p := &fakeProvider{block: make(chan struct{})}
	r := NewRegistry(nil)
	busy := NewBackend(config.AgentConfig{MaxConcurrentTasks: 2}, WithProvider(p), WithID("backend_busy"))
	idle := NewBackend(config.AgentConfig{MaxConcurrentTasks: 2}, WithProvider(p), WithID("backend_idle"))
	r.Register(busy)
	r.Register(idle)
	if err := r.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}

	// Occupy one slot on busy.
	if err := busy.begin(newSpec(TypeBackend, "api_development")); err != nil {
		t.Fatal(err)
	}
	got, err := r.BestAgent(TypeBackend, "api_development", 5)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != "backend_idle" {
		t.Errorf("picked %s, want backend_idle", got.ID())
	}

	if _, err := r.BestAgent(TypeBackend, "competitive_research", 5); !errors.Is(err, sdkerr.ErrAgentUnavailable) {
		t.Errorf("unsupported task type: err = %v", err)
	}
	if _, err := r.BestAgent(TypeResearch, "research", 5); !errors.Is(err, sdkerr.ErrAgentUnavailable) {
		t.Errorf("missing type: err = %v", err)
	}

	idle.SetMaintenance(true)
	got, err = r.BestAgent(TypeBackend, "api_development", 5)
	if err != nil || got.ID() != "backend_busy" {
		t.Errorf("with idle in maintenance got %v, %v", got, err)
	}
	busy.finish("task-1", 0, true)
}

func TestRegistry_Snapshots(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(NewResearch(config.AgentConfig{}, WithID("research_b")))
	r.Register(NewBackend(config.AgentConfig{}, WithID("backend_a")))
	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].AgentID != "backend_a" || snaps[1].Status != StatusOffline {
		t.Errorf("snapshots = %+v", snaps)
	}
	r.Shutdown(context.Background())
}
