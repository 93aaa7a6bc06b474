// Package presence tracks which users are online in each live room.
package presence

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/nfrund/orgchat/internal/domain"
)

// Departure describes one room a dropped connection was present in.
type Departure struct {
	Room   domain.RoomKey
	UserID string
	// Last is true when this connection was the user's final one in the room.
	Last bool
}

// room holds userID -> set of connection ids. A user is online while the set
// is non-empty.
type room struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
	dead  bool
}

// Tracker is the in-memory presence table. Each room has its own lock; the
// top-level map lock is held only to find, create or retire a room.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]*room

	connMu sync.Mutex
	conns  map[string]map[domain.RoomKey]string // connID -> room -> userID

	logger *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		rooms:  make(map[domain.RoomKey]*room),
		conns:  make(map[string]map[domain.RoomKey]string),
		logger: slog.Default().With("component", "presence"),
	}
}

// Join records connID for userID in key. It reports whether the user just
// came online in the room (first connection).
func (t *Tracker) Join(key domain.RoomKey, userID, connID string) bool {
	for {
		r := t.roomFor(key, true)
		r.mu.Lock()
		if r.dead {
			// Retired between lookup and lock; fetch the replacement.
			r.mu.Unlock()
			continue
		}
		conns, ok := r.users[userID]
		if !ok {
			conns = make(map[string]struct{})
			r.users[userID] = conns
		}
		_, already := conns[connID]
		conns[connID] = struct{}{}
		first := len(conns) == 1 && !already
		r.mu.Unlock()

		t.index(connID, key, userID)
		if first {
			t.logger.Debug("User came online in room", "room", key.String(), "user_id", userID, "conn_id", connID)
		}
		return first
	}
}

// Leave removes connID for userID from key. Leaving a room that was never
// joined is a no-op. It reports whether the user went offline in the room.
func (t *Tracker) Leave(key domain.RoomKey, userID, connID string) bool {
	t.unindex(connID, key)

	r := t.roomFor(key, false)
	if r == nil {
		return false
	}
	r.mu.Lock()
	conns, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, ok := conns[connID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(conns, connID)
	last := len(conns) == 0
	if last {
		delete(r.users, userID)
	}
	empty := len(r.users) == 0
	if empty {
		r.dead = true
	}
	r.mu.Unlock()

	if empty {
		t.retire(key, r)
	}
	if last {
		t.logger.Debug("User went offline in room", "room", key.String(), "user_id", userID, "conn_id", connID)
	}
	return last
}

// ListOnline returns the sorted ids of users with at least one connection in key.
func (t *Tracker) ListOnline(key domain.RoomKey) []string {
	online := []string{}
	r := t.roomFor(key, false)
	if r == nil {
		return online
	}
	r.mu.Lock()
	for userID := range r.users {
		online = append(online, userID)
	}
	r.mu.Unlock()
	sort.Strings(online)
	return online
}

// IsOnline reports whether userID has a connection in key.
func (t *Tracker) IsOnline(key domain.RoomKey, userID string) bool {
	r := t.roomFor(key, false)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// Rooms returns the rooms connID is currently present in.
func (t *Tracker) Rooms(connID string) []domain.RoomKey {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	keys := make([]domain.RoomKey, 0, len(t.conns[connID]))
	for k := range t.conns[connID] {
		keys = append(keys, k)
	}
	return keys
}

// DropAllForConnection removes connID from every room it joined.
func (t *Tracker) DropAllForConnection(connID string) []Departure {
	t.connMu.Lock()
	joined := t.conns[connID]
	delete(t.conns, connID)
	t.connMu.Unlock()

	out := make([]Departure, 0, len(joined))
	for key, userID := range joined {
		last := t.Leave(key, userID, connID)
		out = append(out, Departure{Room: key, UserID: userID, Last: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room.String() < out[j].Room.String() })
	return out
}

// RoomCount returns the number of rooms with at least one user online.
func (t *Tracker) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

func (t *Tracker) roomFor(key domain.RoomKey, create bool) *room {
	t.mu.RLock()
	r := t.rooms[key]
	t.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r = t.rooms[key]; r == nil {
		r = &room{users: make(map[string]map[string]struct{})}
		t.rooms[key] = r
	}
	return r
}

func (t *Tracker) retire(key domain.RoomKey, r *room) {
	t.mu.Lock()
	if t.rooms[key] == r {
		delete(t.rooms, key)
	}
	t.mu.Unlock()
}

func (t *Tracker) index(connID string, key domain.RoomKey, userID string) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	m, ok := t.conns[connID]
	if !ok {
		m = make(map[domain.RoomKey]string)
		t.conns[connID] = m
	}
	m[key] = userID
}

func (t *Tracker) unindex(connID string, key domain.RoomKey) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if m, ok := t.conns[connID]; ok {
		delete(m, key)
		if len(m) == 0 {
			delete(t.conns, connID)
		}
	}
}
