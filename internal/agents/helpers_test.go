package agents

import (
	"context"
	"sync"
	"testing"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/llm"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// fakeProvider records requests and answers with a fixed text.
type fakeProvider struct {
	mu    sync.Mutex
	reqs  []llm.Request
	text  string
	err   error
	block chan struct{} // when set, Complete waits for it to close
}

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	text := p.text
	if text == "" {
		text = "A thorough, concrete analysis with real findings."
	}
	return &llm.Response{Text: text}, nil
}

func (p *fakeProvider) last() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

type mcpCall struct {
	server, method string
	params         map[string]any
}

// fakeMCP serves canned responses per server.
type fakeMCP struct {
	mu        sync.Mutex
	servers   map[string]bool
	responses map[string]map[string]any
	err       error
	calls     []mcpCall
}

func (m *fakeMCP) Has(server string) bool { return m.servers[server] }

func (m *fakeMCP) Call(_ context.Context, server, method string, params map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mcpCall{server, method, params})
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.responses[server]; ok {
		return r, nil
	}
	return nil, sdkerr.MCPServer("no response for %s", server)
}

func onlineAgent(t *testing.T, factory Factory, p *fakeProvider, mcp MCPCaller) *Agent {
	t.Helper()
	a := factory(config.AgentConfig{Model: "test-model", MaxTokens: 1000}, WithProvider(p))
	if err := a.Initialize(context.Background(), mcp, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return a
}

func newSpec(agentType, taskType string) task.Spec {
	return task.Spec{
		TaskID:     "task-1",
		AgentType:  agentType,
		TaskType:   taskType,
		Task:       "Evaluate the payments domain",
		Complexity: 5,
		Priority:   5,
		Metadata:   map[string]any{},
	}
}
