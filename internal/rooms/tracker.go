package rooms

import (
	"sort"
	"sync"
)

// Tracker maps room ids to the connections that joined them.
type Tracker struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{}
	byConn map[string]map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to room. It reports false when the connection was already there.
func (t *Tracker) Join(connID, room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rooms[room][connID]; ok {
		return false
	}
	if _, ok := t.rooms[room]; !ok {
		t.rooms[room] = make(map[string]struct{})
	}
	t.rooms[room][connID] = struct{}{}
	if _, ok := t.byConn[connID]; !ok {
		t.byConn[connID] = make(map[string]struct{})
	}
	t.byConn[connID][room] = struct{}{}
	return true
}

// Members returns the connections currently in room.
func (t *Tracker) Members(room string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := t.rooms[room]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// Rooms returns the rooms connID has joined, sorted.
func (t *Tracker) Rooms(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	joined := t.byConn[connID]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// LeaveAll removes connID from every room and returns the rooms it left.
func (t *Tracker) LeaveAll(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	joined := t.byConn[connID]
	left := make([]string, 0, len(joined))
	for room := range joined {
		if conns, ok := t.rooms[room]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(t.rooms, room)
			}
		}
		left = append(left, room)
	}
	delete(t.byConn, connID)
	sort.Strings(left)
	return left
}

// Count returns the number of connections in room.
func (t *Tracker) Count(room string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[room])
}

// RoomCount returns the number of non-empty rooms.
func (t *Tracker) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}
