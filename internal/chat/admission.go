package chat

import (
	"sync"

	"github.com/nfrund/orgchat/internal/domain"
)

// admission serializes the room-state changes of one room, so a peer is
// admitted to the router exactly when its user is recorded in presence.
// Nothing blocking may run while a room is locked: the bus subscriber takes
// the same lock to apply evictions.
type admission struct {
	mu    sync.Mutex
	rooms map[domain.RoomKey]*roomGate
}

type roomGate struct {
	mu   sync.Mutex
	refs int
}

func newAdmission() *admission {
	return &admission{rooms: make(map[domain.RoomKey]*roomGate)}
}

// lock locks key and returns the matching unlock. Entries exist only while
// someone holds or waits for them.
func (a *admission) lock(key domain.RoomKey) func() {
	a.mu.Lock()
	g, ok := a.rooms[key]
	if !ok {
		g = &roomGate{}
		a.rooms[key] = g
	}
	g.refs++
	a.mu.Unlock()

	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		a.mu.Lock()
		g.refs--
		if g.refs == 0 {
			delete(a.rooms, key)
		}
		a.mu.Unlock()
	}
}

func (a *admission) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rooms)
}
