package apiserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/session-bridge/internal/normalizer"
	"github.com/multi-agent/session-bridge/internal/session"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleUpgrade))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	hub.Broadcast(map[string]any{"type": "ready"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "ready" {
		t.Errorf("type = %v", msg["type"])
	}
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestBridgeTransport_ForwardShape(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	transport := NewBridgeTransport(hub, nil, nil)
	transport.Forward(normalizer.Event{
		Type:     normalizer.EventTokenCount,
		ThreadID: "th-1",
		Payload:  map[string]any{"total_tokens": float64(42)},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != normalizer.EventTokenCount || msg["thread_id"] != "th-1" {
		t.Errorf("msg = %v", msg)
	}
	payload, _ := msg["payload"].(map[string]any)
	if payload["total_tokens"] != float64(42) {
		t.Errorf("payload = %v", payload)
	}
}

func TestBridgeTransport_ToolCallRoundTrip(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	transport := NewBridgeTransport(hub, nil, nil)
	transport.SendToolCall(session.ToolCall{
		Type:   "tool-call",
		ID:     "m-1",
		Name:   "execute_command",
		CallID: "call-1",
		Input:  map[string]any{"command": "ls"},
	})
	transport.SendToolCallResult(session.ToolCallResult{
		Type:   "tool-call-result",
		ID:     "m-2",
		CallID: "call-1",
		Output: map[string]any{"output": "ok"},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var call map[string]any
	if err := conn.ReadJSON(&call); err != nil {
		t.Fatalf("read call: %v", err)
	}
	if call["callId"] != "call-1" || call["name"] != "execute_command" {
		t.Errorf("call = %v", call)
	}
	var result map[string]any
	if err := conn.ReadJSON(&result); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if result["callId"] != "call-1" || result["is_error"] != false {
		t.Errorf("result = %v", result)
	}
}
