package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/multi-agent/session-bridge/internal/protocol"
	"github.com/multi-agent/session-bridge/internal/session"
)

func TestBuildTurnInputs(t *testing.T) {
	tests := []struct {
		name  string
		batch []session.UserMessage
		want  []turnInput
	}{
		{
			"single text",
			[]session.UserMessage{{Text: "hello"}},
			[]turnInput{{Type: "text", Text: "hello"}},
		},
		{
			"batch merges paragraphs",
			[]session.UserMessage{{Text: "one"}, {Text: "two"}},
			[]turnInput{{Type: "text", Text: "one\n\ntwo"}},
		},
		{
			"remote and local images",
			[]session.UserMessage{{Text: "look", Images: []string{"https://x/y.png", "/tmp/z.png"}}},
			[]turnInput{
				{Type: "text", Text: "look"},
				{Type: "image", URL: "https://x/y.png"},
				{Type: "localImage", Path: "/tmp/z.png"},
			},
		},
		{
			"empty batch still yields one text input",
			nil,
			[]turnInput{{Type: "text"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildTurnInputs(tt.batch)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d inputs, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("input[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseThreadResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"nested thread object", `{"thread":{"id":"th-1"}}`, "th-1"},
		{"flat threadId", `{"threadId":"th-2"}`, "th-2"},
		{"empty result", ``, ""},
		{"no id fields", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseThreadResult(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("parseThreadResult: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsTurnIDMismatchError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("rpc error: turn not found (code -32000)"), true},
		{errors.New("unknown turn tu-9"), true},
		{errors.New("turn_id mismatch"), true},
		{errors.New("method not found"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isTurnIDMismatchError(tt.err); got != tt.want {
			t.Errorf("isTurnIDMismatchError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// ========================================
// WebSocket 往返
// ========================================

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fakeRuntimeServer 最小 runtime 替身: 应答 RPC 并可主动推通知。
type fakeRuntimeServer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	methods []string
}

func (s *fakeRuntimeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		for {
			var req protocol.RPCMessage
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			s.mu.Lock()
			s.methods = append(s.methods, req.Method)
			s.mu.Unlock()

			var result any
			switch req.Method {
			case "initialize":
				result = map[string]any{"capabilities": map[string]any{}}
			case "thread/start":
				result = map[string]any{"thread": map[string]any{"id": "th-ws"}}
			case "thread/resume":
				result = map[string]any{"thread": map[string]any{"id": "th-resumed"}}
			case "turn/start":
				result = map[string]any{"turn": map[string]any{"id": "tu-1"}}
			default:
				result = map[string]any{}
			}
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}
			s.mu.Lock()
			_ = conn.WriteJSON(resp)
			s.mu.Unlock()
		}
	}
}

func (s *fakeRuntimeServer) notify(t *testing.T, method string, params map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		t.Fatal("no client connected")
	}
	if err := s.conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	}); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func startFakeRuntime(t *testing.T) (*fakeRuntimeServer, string) {
	t.Helper()
	srv := &fakeRuntimeServer{}
	ts := httptest.NewServer(srv.handler(t))
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClient_RoundTrip(t *testing.T) {
	srv, url := startFakeRuntime(t)

	notifications := make(chan string, 8)
	client := NewClient(url, func(method string, payload map[string]any) {
		notifications <- method
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	threadID, err := client.StartThread(ctx)
	if err != nil {
		t.Fatalf("StartThread: %v", err)
	}
	if threadID != "th-ws" {
		t.Errorf("threadID = %q", threadID)
	}

	resolved, err := client.ResumeThread(ctx, "th-ws")
	if err != nil {
		t.Fatalf("ResumeThread: %v", err)
	}
	if resolved != "th-resumed" {
		t.Errorf("resolved = %q", resolved)
	}

	if err := client.StartTurn(ctx, threadID, []session.UserMessage{{Text: "hi"}}); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	// 服务端主动通知经 handler 回调
	srv.notify(t, "turn/started", map[string]any{"threadId": "th-ws", "turnId": "tu-1"})
	select {
	case method := <-notifications:
		if method != "turn/started" {
			t.Errorf("notification method = %q", method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestClient_InterruptFallsBackToThreadScope(t *testing.T) {
	srv := &fakeRuntimeServer{}
	var withTurnSeen, threadScopedSeen bool
	var mu sync.Mutex

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		srv.mu.Lock()
		srv.conn = conn
		srv.mu.Unlock()
		for {
			var req protocol.RPCMessage
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == "turn/interrupt" {
				params := protocol.DecodeParams(req.Params)
				if _, ok := params["turnId"]; ok {
					mu.Lock()
					withTurnSeen = true
					mu.Unlock()
					_ = conn.WriteJSON(map[string]any{
						"jsonrpc": "2.0", "id": req.ID,
						"error": map[string]any{"code": -32000, "message": "turn not found"},
					})
					continue
				}
				mu.Lock()
				threadScopedSeen = true
				mu.Unlock()
			}
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{}})
		}
	}))
	defer ts.Close()

	client := NewClient("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := client.InterruptTurn(ctx, "th-1", "tu-stale"); err != nil {
		t.Fatalf("InterruptTurn: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !withTurnSeen || !threadScopedSeen {
		t.Errorf("withTurn=%v threadScoped=%v, want both attempts", withTurnSeen, threadScopedSeen)
	}
}
