package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/security"
)

func newServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestPublish_ReachesClients(t *testing.T) {
	h := New(config.WebSocketConfig{})
	srv := newServer(t, h)

	a := dial(t, wsURL(srv), nil)
	b := dial(t, wsURL(srv), nil)
	for _, c := range []*websocket.Conn{a, b} {
		if msg := readMessage(t, c); msg.Type != EventConnected {
			t.Fatalf("first message = %+v", msg)
		}
	}
	if h.Clients() != 2 {
		t.Fatalf("clients = %d", h.Clients())
	}

	h.Publish("task_completed", map[string]any{"task_id": "t1"})
	for _, c := range []*websocket.Conn{a, b} {
		msg := readMessage(t, c)
		if msg.Type != "task_completed" {
			t.Errorf("type = %q", msg.Type)
		}
		data, _ := msg.Data.(map[string]any)
		if data["task_id"] != "t1" {
			t.Errorf("data = %v", msg.Data)
		}
	}
}

func TestServeWS_Authorization(t *testing.T) {
	policy := security.NewPolicy(config.SecurityConfig{}, "s3cret")
	h := New(config.WebSocketConfig{}, WithAuthorizer(policy.Authorize))
	srv := newServer(t, h)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: err = %v, resp = %v", err, resp)
	}

	header := http.Header{"Authorization": {"Bearer s3cret"}}
	conn := dial(t, wsURL(srv), header)
	if msg := readMessage(t, conn); msg.Type != EventConnected {
		t.Errorf("message = %+v", msg)
	}

	conn2 := dial(t, wsURL(srv)+"?token=s3cret", nil)
	if msg := readMessage(t, conn2); msg.Type != EventConnected {
		t.Errorf("message = %+v", msg)
	}
}

func TestServeWS_MaxConnections(t *testing.T) {
	h := New(config.WebSocketConfig{MaxConnections: 1})
	srv := newServer(t, h)

	conn := dial(t, wsURL(srv), nil)
	readMessage(t, conn)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second client: err = %v, resp = %v", err, resp)
	}
}

func TestPublish_DropsSlowClient(t *testing.T) {
	h := New(config.WebSocketConfig{})
	slow := &client{send: make(chan []byte, 1), addr: "slow"}
	if !h.register(slow) {
		t.Fatal("register failed")
	}

	h.Publish("a", nil)
	if h.Clients() != 1 {
		t.Fatalf("dropped after one message")
	}
	h.Publish("b", nil)
	if h.Clients() != 0 {
		t.Fatalf("slow client kept")
	}
	if _, ok := <-slow.send; !ok {
		t.Fatal("buffered message lost")
	}
	if _, ok := <-slow.send; ok {
		t.Fatal("send channel not closed")
	}
}

func TestClose_RefusesNewClients(t *testing.T) {
	h := New(config.WebSocketConfig{})
	h.Close()
	if h.register(&client{send: make(chan []byte, 1)}) {
		t.Error("registered after Close")
	}
}

func TestStatusAndHealth(t *testing.T) {
	h := New(config.WebSocketConfig{}, WithStatus(func() any {
		return map[string]any{"status": "operational"}
	}))
	srv := newServer(t, h)

	tests := []struct {
		path string
		key  string
		want string
	}{
		{"/status", "status", "operational"},
		{"/healthz", "status", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status code = %d", resp.StatusCode)
			}
			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body[tt.key] != tt.want {
				t.Errorf("%s = %v", tt.key, body[tt.key])
			}
		})
	}
}

func TestStatus_NotConfigured(t *testing.T) {
	h := New(config.WebSocketConfig{})
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "Bearer abc", "", "abc"},
		{"wrong scheme", "Basic abc", "xyz", ""},
		{"query", "", "xyz", "xyz"},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?token="+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(r); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
