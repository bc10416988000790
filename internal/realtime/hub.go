// Package realtime pushes call-room events (joins, leaves, recording state)
// to websocket watchers.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Heartbeat intervals in seconds.
const (
	PingInterval = 30
	PongWait     = 60
)

// WSMessage is the websocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub maintains room_id -> watcher connections and broadcasts room events.
// It carries no call state of its own; the registry stays authoritative.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Client
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{rooms: make(map[string]map[string]*Client), logger: logger}
}

// Register adds a watcher to a room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.RoomID] == nil {
		h.rooms[c.RoomID] = make(map[string]*Client)
	}
	h.rooms[c.RoomID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("watcher connected", zap.String("client_id", c.ID), zap.String("room_id", c.RoomID))
}

// Unregister removes a watcher from its room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[c.RoomID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.RoomID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("watcher disconnected", zap.String("client_id", c.ID), zap.String("room_id", c.RoomID))
}

// Broadcast sends an event to every watcher of the room. Slow consumers with a
// full buffer are skipped rather than blocking the caller.
func (h *Hub) Broadcast(roomID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.rooms[roomID]
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Watchers returns the number of connected watchers for a room.
func (h *Hub) Watchers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
