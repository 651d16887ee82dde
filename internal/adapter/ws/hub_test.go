package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func waitForConnections(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("connection count = %d, want %d", hub.ConnectionCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastEvent(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	waitForConnections(t, hub, 1)

	hub.BroadcastEvent(ctx, EventRunLifecycle, RunLifecycleEvent{
		RunID:     "run-1",
		TenantID:  "t1",
		EventType: "run_started",
		Version:   2,
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if msg.Type != EventRunLifecycle {
		t.Errorf("type = %q, want %q", msg.Type, EventRunLifecycle)
	}

	var payload RunLifecycleEvent
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RunID != "run-1" || payload.Version != 2 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHubConnectionCount(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	if hub.ConnectionCount() != 0 {
		t.Fatalf("count = %d, want 0", hub.ConnectionCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForConnections(t, hub, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitForConnections(t, hub, 0)
}
