// Package hub broadcasts team leader events to WebSocket clients and serves
// a small HTTP status surface next to them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/logging"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

const (
	defaultMaxConnections = 100
	sendBuffer            = 64
	writeWait             = 10 * time.Second
	pongWait              = 60 * time.Second
	pingPeriod            = (pongWait * 9) / 10
	maxMessageSize        = 4096
)

// EventConnected is the first message every client receives.
const EventConnected = "connected"

// Message is the JSON envelope sent to clients.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.logger = logging.Named(l, "hub") }
}

// WithStatus sets the function behind GET /status.
func WithStatus(fn func() any) Option {
	return func(h *Hub) { h.status = fn }
}

// WithAuthorizer checks the bearer token of every /ws request.
func WithAuthorizer(fn func(token string) error) Option {
	return func(h *Hub) { h.authorize = fn }
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// Hub fans events out to connected clients. A client whose send buffer is
// full is dropped; Publish never blocks.
type Hub struct {
	addr      string
	max       int
	logger    *zap.Logger
	status    func() any
	authorize func(string) error
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// New creates a hub for cfg. Nothing listens until ListenAndServe.
func New(cfg config.WebSocketConfig, opts ...Option) *Hub {
	h := &Hub{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		max:     cfg.MaxConnections,
		logger:  zap.NewNop(),
		clients: map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if h.max <= 0 {
		h.max = defaultMaxConnections
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns the HTTP routes: /ws, /status and /healthz.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/status", h.serveStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": h.Clients()})
	})
	return mux
}

// ListenAndServe serves until ctx is done, then closes every client.
func (h *Hub) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	h.logger.Info("hub listening", zap.String("addr", h.addr), zap.Int("max_connections", h.max))

	select {
	case err := <-errc:
		h.Close()
		return err
	case <-ctx.Done():
	}
	h.Close()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends an event to every client.
func (h *Hub) Publish(eventType string, data any) {
	msg, err := json.Marshal(Message{Type: eventType, Data: data, Timestamp: timeNow().UTC()})
	if err != nil {
		h.logger.Warn("unencodable event", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow client", zap.String("remote", c.addr))
			h.removeLocked(c)
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// removeLocked unregisters c and closes its send channel, which tells the
// writer to close the connection. Callers hold h.mu.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// register adds c unless the hub is closed or full.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.max {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) full() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed || len(h.clients) >= h.max
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	if h.authorize != nil {
		if err := h.authorize(bearerToken(r)); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
			return
		}
	}
	if h.full() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "too many connections"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), addr: r.RemoteAddr}
	welcome, _ := json.Marshal(Message{Type: EventConnected, Timestamp: timeNow().UTC()})
	c.send <- welcome
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			timeNow().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.Info("client connected", zap.String("remote", c.addr))

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client messages and keeps the pong deadline fresh. It
// unregisters the client when the connection fails.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("client read", zap.String("remote", c.addr), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		h.logger.Info("client disconnected", zap.String("remote", c.addr))
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) serveStatus(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "status not available"})
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for browser clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
