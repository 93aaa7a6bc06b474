// Package hub routes encoded frames to the live connections admitted to a room.
package hub

import (
	"log/slog"
	"sync"

	"github.com/nfrund/orgchat/internal/domain"
)

// Peer is a live connection that can receive frames.
type Peer interface {
	// ConnID uniquely identifies the connection.
	ConnID() string
	// UserID is the authenticated user owning the connection.
	UserID() string
	// Deliver queues frame without blocking. It returns false when the frame
	// was dropped because the peer is closed or its buffer is full.
	Deliver(frame []byte) bool
}

type roomPeers struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// Router maps RoomKey to the set of admitted peers. There is no way to reach
// a room without its full key, so rooms of different organizations never mix.
type Router struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]*roomPeers

	// OnDrop is called for every frame a peer could not accept.
	OnDrop func(key domain.RoomKey, peer Peer)

	logger *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		rooms:  make(map[domain.RoomKey]*roomPeers),
		logger: slog.Default().With("component", "router"),
	}
}

// Admit adds peer to the room. It reports whether the peer was newly admitted.
func (r *Router) Admit(key domain.RoomKey, peer Peer) bool {
	r.mu.Lock()
	room, ok := r.rooms[key]
	if !ok {
		room = &roomPeers{peers: make(map[string]Peer)}
		r.rooms[key] = room
	}
	// Holding the map lock while taking the room lock keeps Dismiss from
	// retiring this room underneath us.
	room.mu.Lock()
	r.mu.Unlock()
	defer room.mu.Unlock()

	if _, exists := room.peers[peer.ConnID()]; exists {
		return false
	}
	room.peers[peer.ConnID()] = peer
	r.logger.Debug("Peer admitted", "room", key.String(), "conn_id", peer.ConnID(), "room_size", len(room.peers))
	return true
}

// Dismiss removes peer from the room. Dismissing a peer that is not admitted
// is a no-op. It reports whether the peer was removed.
func (r *Router) Dismiss(key domain.RoomKey, peer Peer) bool {
	return r.dismissConn(key, peer.ConnID())
}

func (r *Router) dismissConn(key domain.RoomKey, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[key]
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if _, ok := room.peers[connID]; !ok {
		return false
	}
	delete(room.peers, connID)
	if len(room.peers) == 0 {
		delete(r.rooms, key)
	}
	r.logger.Debug("Peer dismissed", "room", key.String(), "conn_id", connID, "room_size", len(room.peers))
	return true
}

// IsAdmitted reports whether connID is admitted to key.
func (r *Router) IsAdmitted(key domain.RoomKey, connID string) bool {
	room := r.room(key)
	if room == nil {
		return false
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	_, ok := room.peers[connID]
	return ok
}

// Broadcast delivers frame to every peer in key except the one whose
// connection id equals exclude. Peers that cannot accept the frame are
// skipped; that never fails the broadcast. It returns the delivered count.
func (r *Router) Broadcast(key domain.RoomKey, frame []byte, exclude string) int {
	peers := r.Peers(key)
	delivered := 0
	for _, p := range peers {
		if exclude != "" && p.ConnID() == exclude {
			continue
		}
		if p.Deliver(frame) {
			delivered++
			continue
		}
		r.logger.Warn("Dropping frame for peer", "room", key.String(), "conn_id", p.ConnID(), "user_id", p.UserID())
		if r.OnDrop != nil {
			r.OnDrop(key, p)
		}
	}
	return delivered
}

// Peers returns a snapshot of the peers admitted to key.
func (r *Router) Peers(key domain.RoomKey) []Peer {
	room := r.room(key)
	if room == nil {
		return nil
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	out := make([]Peer, 0, len(room.peers))
	for _, p := range room.peers {
		out = append(out, p)
	}
	return out
}

// PeersOfUser returns the peers in key owned by userID.
func (r *Router) PeersOfUser(key domain.RoomKey, userID string) []Peer {
	var out []Peer
	for _, p := range r.Peers(key) {
		if p.UserID() == userID {
			out = append(out, p)
		}
	}
	return out
}

// Size returns the number of peers admitted to key.
func (r *Router) Size(key domain.RoomKey) int {
	room := r.room(key)
	if room == nil {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.peers)
}

func (r *Router) room(key domain.RoomKey) *roomPeers {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[key]
}
