package room

import "sync"

// Manager owns the live room states. States are created on first join
// and dropped when the room empties, so sequence numbers and dedup
// history reset between meetings.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*State
}

func NewManager() *Manager {
	return &Manager{rooms: make(map[string]*State)}
}

// GetOrCreate returns the live state for a room, creating it with the
// given policy when the room has no connected members yet.
func (m *Manager) GetOrCreate(roomID string, policy Policy) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rooms[roomID]; ok {
		return s
	}
	s := newState(roomID, policy)
	m.rooms[roomID] = s
	return s
}

// Peek returns the live state without creating one.
func (m *Manager) Peek(roomID string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rooms[roomID]
	return s, ok
}

// Dispose removes the state if the room is empty. It reports whether the
// state was removed; a concurrent join keeps it alive.
func (m *Manager) Dispose(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	if s.Size() > 0 {
		return false
	}
	delete(m.rooms, roomID)
	return true
}
