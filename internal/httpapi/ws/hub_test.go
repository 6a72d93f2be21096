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

// Real websocket round trip over an in-process HTTP server, mirroring
// the teacher's full-stack websocket integration test.
func TestHubBroadcastDeliversToConnectedClient(t *testing.T) {
	hub := NewHub(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// give HandleWS time to register the connection before we broadcast.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for client registration")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast("NODE_EVENT", map[string]any{"node_uuid": "0.0.1.1.1"})

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	_, payload, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("expected to read broadcast message: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}
	if env.MessageType != "NODE_EVENT" {
		t.Fatalf("expected messageType NODE_EVENT, got %q", env.MessageType)
	}
}

func TestHubBroadcastWithNoClientsDoesNotPanic(t *testing.T) {
	hub := NewHub(nil)
	hub.Broadcast("NODE_EVENT", map[string]any{"node_uuid": "0.0.1.1.1"})
}
