// Package hub routes websocket traffic between the pipeline and the
// connected clients, one registry entry per (room, user).
package hub

import (
	"sync"
)

// Sender is the fan-out surface the pipeline depends on. Tests swap in
// a recording implementation.
type Sender interface {
	BroadcastJSON(roomID string, payload interface{}, exclude ...string)
	BroadcastBinary(roomID string, data []byte, exclude ...string)
	SendJSONTo(roomID, userID string, payload interface{})
	SendBinaryTo(roomID, userID string, data []byte)
}

// Hub is the live connection registry.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn
}

func New() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Conn)}
}

// Register adds a connection. An existing connection for the same user
// is returned so the caller can close it; last join wins.
func (h *Hub) Register(roomID string, conn *Conn) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[roomID]
	if !ok {
		conns = make(map[string]*Conn)
		h.rooms[roomID] = conns
	}
	prev := conns[conn.UserID]
	conns[conn.UserID] = conn
	return prev
}

// Unregister removes a connection if it is still the registered one.
func (h *Hub) Unregister(roomID string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		if conns[conn.UserID] == conn {
			delete(conns, conn.UserID)
		}
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) connsFor(roomID string, exclude []string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := make([]*Conn, 0, len(conns))
	for id, c := range conns {
		if _, ok := skip[id]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// BroadcastJSON sends a text frame to every member except the excluded.
func (h *Hub) BroadcastJSON(roomID string, payload interface{}, exclude ...string) {
	for _, c := range h.connsFor(roomID, exclude) {
		_ = c.SendJSON(payload)
	}
}

// BroadcastBinary sends an audio frame to every member except the excluded.
func (h *Hub) BroadcastBinary(roomID string, data []byte, exclude ...string) {
	for _, c := range h.connsFor(roomID, exclude) {
		_ = c.SendBinary(data)
	}
}

// SendJSONTo sends a text frame to one member.
func (h *Hub) SendJSONTo(roomID, userID string, payload interface{}) {
	h.mu.RLock()
	c := h.rooms[roomID][userID]
	h.mu.RUnlock()
	if c != nil {
		_ = c.SendJSON(payload)
	}
}

// SendBinaryTo sends an audio frame to one member.
func (h *Hub) SendBinaryTo(roomID, userID string, data []byte) {
	h.mu.RLock()
	c := h.rooms[roomID][userID]
	h.mu.RUnlock()
	if c != nil {
		_ = c.SendBinary(data)
	}
}

// Size returns the number of live connections in a room.
func (h *Hub) Size(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
