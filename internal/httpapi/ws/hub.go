// Package ws implements a broadcast hub for live meter/node events,
// ported from internal/web/ws.go's client-registry-and-fan-out shape
// and narrowed to this domain's event types.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Envelope is the wire shape of every pushed message.
type Envelope struct {
	MessageType string      `json:"messageType"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// Hub registers connected dashboard clients and fans out events to
// all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	logger  *zap.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[*websocket.Conn]struct{}), logger: logger}
}

// HandleWS upgrades the connection and registers it until the client
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		http.Error(w, "websocket_accept_failed", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client connected", zap.Int("total_clients", count))

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.Read(context.Background()); err != nil {
			return
		}
	}
}

// Broadcast sends data to every connected client tagged with
// messageType.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	env := Envelope{MessageType: messageType, Data: data, Timestamp: time.Now().UnixMilli()}
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn("failed to marshal broadcast envelope", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		go func(conn *websocket.Conn) {
			_ = conn.Write(context.Background(), websocket.MessageText, payload)
		}(c)
	}
}
