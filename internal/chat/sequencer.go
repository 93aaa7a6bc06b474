package chat

import (
	"sync"
	"time"

	"github.com/nfrund/orgchat/internal/domain"
)

// ticket is a reserved position in a room's outbound order.
type ticket struct {
	room *roomSeq
	seq  uint64
	// At is the creation time assigned to the message. It is strictly greater
	// than every earlier ticket's time in the same room.
	At time.Time
}

type roomSeq struct {
	key     domain.RoomKey
	mu      sync.Mutex
	closed  bool
	next    uint64
	head    uint64
	last    time.Time
	pending map[uint64]func()
}

// sequencer releases completed sends in the order they were reserved, so the
// broadcast order of a room always matches its (createdAt, id) order. No lock
// is held while a send is being persisted. Room entries hold only counters and
// the last issued time; retire drops the entry of a room that is closed.
type sequencer struct {
	mu    sync.Mutex
	rooms map[domain.RoomKey]*roomSeq
	now   func() time.Time
}

func newSequencer(now func() time.Time) *sequencer {
	return &sequencer{rooms: make(map[domain.RoomKey]*roomSeq), now: now}
}

// Reserve takes the next ticket for key.
func (s *sequencer) Reserve(key domain.RoomKey) ticket {
	r := s.room(key)
	r.mu.Lock()
	defer r.mu.Unlock()

	at := domain.StoredTime(s.now())
	if !at.After(r.last) {
		at = r.last.Add(time.Microsecond)
	}
	r.last = at
	t := ticket{room: r, seq: r.next, At: at}
	r.next++
	return t
}

// Release marks t complete. publish runs once every earlier ticket of the
// room has been released; a nil publish aborts the ticket. Publish functions
// run in ticket order, on whichever goroutine unblocks them.
func (s *sequencer) Release(t ticket, publish func()) {
	r := t.room
	r.mu.Lock()
	if publish == nil {
		publish = func() {}
	}
	r.pending[t.seq] = publish
	for {
		fn, ok := r.pending[r.head]
		if !ok {
			break
		}
		delete(r.pending, r.head)
		r.head++
		fn()
	}
	idle := r.closed && r.next == r.head
	r.mu.Unlock()

	if idle {
		s.mu.Lock()
		if s.rooms[r.key] == r {
			delete(s.rooms, r.key)
		}
		s.mu.Unlock()
	}
}

func (s *sequencer) room(key domain.RoomKey) *roomSeq {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		r = &roomSeq{key: key, pending: make(map[uint64]func())}
		s.rooms[key] = r
	}
	return r
}

// inFlight reports the reserved but unreleased tickets of key.
func (s *sequencer) inFlight(key domain.RoomKey) int {
	s.mu.Lock()
	r := s.rooms[key]
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.next - r.head)
}

// retire closes the entry of key. It is dropped now when idle, otherwise by
// the Release that completes its last ticket. Tickets already issued keep
// their room and still release in order.
func (s *sequencer) retire(key domain.RoomKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.next == r.head {
		delete(s.rooms, key)
	}
}

func (s *sequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
