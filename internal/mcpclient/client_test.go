package mcpclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/sdkerr"
)

func init() {
	retryDelay = func(int) time.Duration { return time.Millisecond }
}

// newFakeServer builds an in-process MCP server standing in for Perplexity.
func newFakeServer() *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("fake-perplexity", "1.0.0", mcpserver.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("search", mcp.WithString("query", mcp.Required())),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			q, _ := req.RequireString("query")
			return mcp.NewToolResultText(`{"content":"results for ` + q + `","citations":["a","b"]}`), nil
		})
	s.AddTool(mcp.NewTool("plain"),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("just text"), nil
		})
	s.AddTool(mcp.NewTool("broken"),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("upstream exploded"), nil
		})
	return s
}

func inProcessDialer(srv *mcpserver.MCPServer) DialFunc {
	return func(ctx context.Context, name string, cfg config.MCPServerConfig) (Conn, error) {
		c, err := client.NewInProcessClient(srv)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newConnectedClient(t *testing.T) *Client {
	t.Helper()
	cfg := config.MCPConfig{
		Timeout:       2,
		RetryAttempts: 3,
		Servers: map[string]config.MCPServerConfig{
			ServerPerplexity: {Command: "in-process"},
		},
	}
	c := New(cfg, WithDialer(inProcessDialer(newFakeServer())))
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInitialize_ConnectsAndListsTools(t *testing.T) {
	c := newConnectedClient(t)
	if got := c.Servers(); len(got) != 1 || got[0] != ServerPerplexity {
		t.Errorf("Servers() = %v", got)
	}
	tools := c.Tools(ServerPerplexity)
	if len(tools) != 3 {
		t.Errorf("Tools() = %v, want 3 tools", tools)
	}
	av := c.Availability()
	if av["perplexity_available"] != true || av["serena_available"] != false {
		t.Errorf("Availability() = %v", av)
	}
}

func TestInitialize_SkipsFailingServers(t *testing.T) {
	cfg := config.MCPConfig{Servers: map[string]config.MCPServerConfig{
		ServerPerplexity: {Command: "ok"},
		ServerSerena:     {Command: "bad"},
		"nocommand":      {},
	}}
	good := inProcessDialer(newFakeServer())
	dial := func(ctx context.Context, name string, sc config.MCPServerConfig) (Conn, error) {
		if sc.Command == "bad" {
			return nil, errors.New("exec: not found")
		}
		return good(ctx, name, sc)
	}
	c := New(cfg, WithDialer(dial))
	defer c.Close()

	err := c.Initialize(context.Background())
	if !errors.Is(err, sdkerr.ErrMCPServer) {
		t.Errorf("Initialize() error = %v, want MCP server error", err)
	}
	if !c.Has(ServerPerplexity) || c.Has(ServerSerena) {
		t.Errorf("Servers() = %v, want only perplexity", c.Servers())
	}
}

func TestCall_DecodesJSON(t *testing.T) {
	c := newConnectedClient(t)
	got, err := c.Call(context.Background(), ServerPerplexity, "search", map[string]any{"query": "go"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if got["content"] != "results for go" {
		t.Errorf("content = %v", got["content"])
	}
	if cites, ok := got["citations"].([]any); !ok || len(cites) != 2 {
		t.Errorf("citations = %v", got["citations"])
	}
}

func TestCall_PlainText(t *testing.T) {
	c := newConnectedClient(t)
	got, err := c.Call(context.Background(), ServerPerplexity, "plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got["text"] != "just text" {
		t.Errorf("got = %v", got)
	}
}

func TestCall_ToolError(t *testing.T) {
	c := newConnectedClient(t)
	_, err := c.Call(context.Background(), ServerPerplexity, "broken", nil)
	e, ok := sdkerr.As(err)
	if !ok || e.Kind != sdkerr.KindMCPServer {
		t.Fatalf("error = %v, want MCP server error", err)
	}
	if e.Details["method"] != "broken" {
		t.Errorf("details = %v", e.Details)
	}
}

func TestCall_UnknownServer(t *testing.T) {
	c := newConnectedClient(t)
	if _, err := c.Call(context.Background(), ServerSerena, "analyze_code", nil); !errors.Is(err, sdkerr.ErrMCPServer) {
		t.Errorf("error = %v, want MCP server error", err)
	}
}

// flakyConn fails CallTool a fixed number of times before succeeding.
type flakyConn struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyConn) Initialize(ctx context.Context, _ mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{ServerInfo: mcp.Implementation{Name: "flaky"}}, nil
}

func (f *flakyConn) ListTools(ctx context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{}, nil
}

func (f *flakyConn) CallTool(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("transport hiccup")
	}
	return mcp.NewToolResultText(`{"ok":true}`), nil
}

func (f *flakyConn) Close() error { return nil }

func TestCall_RetriesTransportErrors(t *testing.T) {
	tests := []struct {
		name     string
		failures int32
		wantErr  bool
	}{
		{"recovers", 2, false},
		{"exhausts", 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(config.MCPConfig{Timeout: 1, RetryAttempts: 3})
			conn := &flakyConn{failures: tt.failures}
			if err := c.Attach(context.Background(), "flaky", conn); err != nil {
				t.Fatal(err)
			}
			got, err := c.Call(context.Background(), "flaky", "anything", nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Call() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got["ok"] != true {
				t.Errorf("got = %v", got)
			}
			if conn.calls.Load() != 3 {
				t.Errorf("calls = %d, want 3", conn.calls.Load())
			}
		})
	}
}

func TestClose_DropsServers(t *testing.T) {
	c := newConnectedClient(t)
	c.Close()
	if len(c.Servers()) != 0 {
		t.Errorf("Servers() after Close = %v", c.Servers())
	}
}
