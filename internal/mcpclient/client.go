// Package mcpclient connects to external MCP servers (Perplexity for
// research, Serena for code analysis) over stdio and exposes their tools to
// the agents as plain method calls.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/sdkerr"
)

// Version is reported to servers during the handshake.
var Version = "dev"

// Well-known server names.
const (
	ServerPerplexity = "perplexity"
	ServerSerena     = "serena"
)

// retryDelay is the pause between call attempts.
var retryDelay = func(attempt int) time.Duration {
	return time.Duration(attempt) * 200 * time.Millisecond
}

// Conn is the subset of *client.Client used here.
type Conn interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// DialFunc starts a transport for one configured server. The returned
// connection is not yet initialized.
type DialFunc func(ctx context.Context, name string, cfg config.MCPServerConfig) (Conn, error)

// DialStdio launches the configured command and speaks MCP over its stdio.
func DialStdio(_ context.Context, _ string, cfg config.MCPServerConfig) (Conn, error) {
	return client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
}

type server struct {
	name  string
	conn  Conn
	info  mcp.Implementation
	tools []string
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces DialStdio.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.Named(l, "mcpclient") }
}

// Client multiplexes calls across the configured MCP servers. Safe for
// concurrent use.
type Client struct {
	cfg     config.MCPConfig
	dial    DialFunc
	logger  *zap.Logger
	timeout time.Duration
	retries int

	mu      sync.RWMutex
	servers map[string]*server
}

// New creates a client for cfg. No connection is made until Initialize.
func New(cfg config.MCPConfig, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		dial:    DialStdio,
		logger:  zap.NewNop(),
		timeout: time.Duration(cfg.Timeout) * time.Second,
		retries: cfg.RetryAttempts,
		servers: map[string]*server{},
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.retries <= 0 {
		c.retries = 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize connects to every configured server and performs the MCP
// handshake. A server that fails is logged and skipped; the error lists
// every failure but the healthy servers stay usable.
func (c *Client) Initialize(ctx context.Context) error {
	names := make([]string, 0, len(c.cfg.Servers))
	for name := range c.cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := c.connect(ctx, name, c.cfg.Servers[name]); err != nil {
			c.logger.Warn("MCP server unavailable", zap.String("server", name), zap.Error(err))
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
			continue
		}
	}
	if len(failed) > 0 {
		return sdkerr.MCPServer("failed to initialize MCP servers: %s", strings.Join(failed, "; ")).
			WithDetail("failed", len(failed))
	}
	return nil
}

func (c *Client) connect(ctx context.Context, name string, cfg config.MCPServerConfig) error {
	if cfg.Command == "" {
		return fmt.Errorf("no command configured")
	}
	conn, err := c.dial(ctx, name, cfg)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return c.Attach(ctx, name, conn)
}

// Attach performs the handshake on an already-started connection and
// registers it under name, replacing any previous connection.
func (c *Client) Attach(ctx context.Context, name string, conn Conn) error {
	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := conn.Initialize(hctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "devteam", Version: Version},
			Capabilities:    mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	s := &server{name: name, conn: conn, info: res.ServerInfo}
	if tools, err := conn.ListTools(hctx, mcp.ListToolsRequest{}); err == nil {
		for _, t := range tools.Tools {
			s.tools = append(s.tools, t.Name)
		}
		sort.Strings(s.tools)
	} else {
		c.logger.Debug("list tools failed", zap.String("server", name), zap.Error(err))
	}

	c.mu.Lock()
	old := c.servers[name]
	c.servers[name] = s
	c.mu.Unlock()
	if old != nil {
		old.conn.Close()
	}

	c.logger.Info("MCP server connected",
		zap.String("server", name),
		zap.String("implementation", res.ServerInfo.Name),
		zap.Int("tools", len(s.tools)))
	return nil
}

// Servers lists connected server names, sorted.
func (c *Client) Servers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.servers))
	for name := range c.servers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name is connected.
func (c *Client) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.servers[name]
	return ok
}

// Tools lists the tools a connected server advertised.
func (c *Client) Tools(name string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.servers[name]; ok {
		return append([]string(nil), s.tools...)
	}
	return nil
}

// Availability is the MCP section of an agent context.
func (c *Client) Availability() map[string]any {
	return map[string]any{
		"perplexity_available": c.Has(ServerPerplexity),
		"serena_available":     c.Has(ServerSerena),
		"servers":              c.Servers(),
	}
}

// Call invokes tool method on server with params. Transport failures are
// retried up to the configured attempt count; a tool error result is not.
// JSON object text is decoded into the returned map; any other text is
// returned under "text".
func (c *Client) Call(ctx context.Context, serverName, method string, params map[string]any) (map[string]any, error) {
	c.mu.RLock()
	s, ok := c.servers[serverName]
	c.mu.RUnlock()
	if !ok {
		return nil, sdkerr.MCPServer("MCP server %q not connected", serverName).
			WithDetail("server", serverName)
	}

	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: method, Arguments: params}}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, sdkerr.Wrap(sdkerr.KindTimeout, ctx.Err(), "MCP call %s.%s cancelled", serverName, method)
			case <-time.After(retryDelay(attempt - 1)):
			}
		}

		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		res, err := s.conn.CallTool(cctx, req)
		cancel()
		if err != nil {
			lastErr = err
			c.logger.Debug("MCP call failed",
				zap.String("server", serverName), zap.String("method", method),
				zap.Int("attempt", attempt), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		text := resultText(res)
		if res.IsError {
			return nil, sdkerr.MCPServer("MCP tool %s.%s failed: %s", serverName, method, text).
				WithDetail("server", serverName).
				WithDetail("method", method)
		}
		return decodeResult(res, text), nil
	}

	return nil, sdkerr.Wrap(sdkerr.KindMCPServer, lastErr, "MCP call %s.%s failed after %d attempts", serverName, method, c.retries).
		WithDetail("server", serverName).
		WithDetail("method", method)
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		switch tc := content.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func decodeResult(res *mcp.CallToolResult, text string) map[string]any {
	if m, ok := res.StructuredContent.(map[string]any); ok {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err == nil && out != nil {
		return out
	}
	return map[string]any{"text": text}
}

// Close disconnects every server.
func (c *Client) Close() error {
	c.mu.Lock()
	servers := c.servers
	c.servers = map[string]*server{}
	c.mu.Unlock()

	for name, s := range servers {
		if err := s.conn.Close(); err != nil {
			c.logger.Debug("close MCP server", zap.String("server", name), zap.Error(err))
		}
	}
	return nil
}
