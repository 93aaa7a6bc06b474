// Package chat implements the live messaging core: room joins, presence,
// ordered message fan-out and the per-connection session state machine.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nfrund/orgchat/internal/domain"
	"github.com/nfrund/orgchat/internal/hub"
	"github.com/nfrund/orgchat/internal/membership"
	"github.com/nfrund/orgchat/internal/presence"
	"github.com/nfrund/orgchat/internal/pubsub"
)

// Send paths, used as a metrics label.
const (
	PathLive = "live"
	PathREST = "rest"
)

// RoomEvents is the bus topic that carries every room-scoped frame.
var RoomEvents = pubsub.NewEvent[roomEvent]("chat.room.events")

// roomEvent is one frame addressed to a room. When Evict is set the
// matching peers are removed from the room after receiving Frame.
type roomEvent struct {
	Room    domain.RoomKey  `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
	Evict   *eviction       `json:"evict,omitempty"`
}

type eviction struct {
	// UserID selects one user's peers. Empty evicts everyone in the room.
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Observer receives counters for the live path.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	RoomJoined()
	MessageSent(path string)
	PeerDropped()
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()  {}
func (nopObserver) ConnectionClosed()  {}
func (nopObserver) RoomJoined()        {}
func (nopObserver) MessageSent(string) {}
func (nopObserver) PeerDropped()       {}

// Deps are the collaborators of a Service. Router and Presence are owned by
// the caller so tests can inspect them.
type Deps struct {
	Auth     domain.Authenticator
	Users    domain.UserRepository
	Groups   domain.GroupRepository
	Messages domain.MessageStore
	Router   *hub.Router
	Presence *presence.Tracker
	Bus      pubsub.Bus
}

// Option configures a Service.
type Option func(*Service)

// WithSendTimeout bounds the durable append of a single send.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Service) { s.sendTimeout = d }
}

// WithObserver installs metrics hooks.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is shared by every live session and by the REST handlers.
type Service struct {
	auth      domain.Authenticator
	users     domain.UserRepository
	groups    domain.GroupRepository
	messages  domain.MessageStore
	authority *membership.Authority
	router    *hub.Router
	presence  *presence.Tracker
	bus       pubsub.Bus
	seq       *sequencer
	admission *admission

	sendTimeout time.Duration
	observer    Observer
	now         func() time.Time
	logger      *slog.Logger
}

// NewService wires a Service. Call Start before serving connections.
func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		auth:        deps.Auth,
		users:       deps.Users,
		groups:      deps.Groups,
		messages:    deps.Messages,
		authority:   membership.NewAuthority(deps.Groups),
		router:      deps.Router,
		presence:    deps.Presence,
		bus:         deps.Bus,
		sendTimeout: 5 * time.Second,
		observer:    nopObserver{},
		now:         time.Now,
		logger:      slog.Default().With("component", "chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seq = newSequencer(s.now)
	s.admission = newAdmission()
	if s.router.OnDrop == nil {
		s.router.OnDrop = func(domain.RoomKey, hub.Peer) { s.observer.PeerDropped() }
	}
	return s
}

// Authority exposes the membership checks to the REST layer.
func (s *Service) Authority() *membership.Authority {
	return s.authority
}

// Start subscribes the local router to the room event bus.
func (s *Service) Start(ctx context.Context) error {
	return pubsub.Subscribe(ctx, s.bus, RoomEvents, s.deliver)
}

// deliver applies one room event to the local router. It runs on the bus
// subscriber goroutine, one event at a time.
func (s *Service) deliver(_ context.Context, ev roomEvent) error {
	if ev.Evict == nil {
		s.router.Broadcast(ev.Room, ev.Frame, ev.Exclude)
		return nil
	}

	var peers []hub.Peer
	if ev.Evict.UserID == "" {
		peers = s.router.Peers(ev.Room)
	} else {
		peers = s.router.PeersOfUser(ev.Room, ev.Evict.UserID)
	}
	for _, p := range peers {
		p.Deliver(ev.Frame)
		if last := s.dismiss(ev.Room, p.UserID(), p); last && ev.Evict.UserID != "" {
			s.router.Broadcast(ev.Room, eventFrame(EventMemberLeft, MemberPayload{
				UserID:  ev.Evict.UserID,
				Email:   ev.Evict.Email,
				GroupID: ev.Room.GroupID,
			}), "")
		}
	}
	if len(peers) > 0 {
		s.logger.Info("Evicted peers from room", "room", ev.Room.String(), "user_id", ev.Evict.UserID, "count", len(peers))
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev roomEvent) {
	// A cancelled request must not suppress a broadcast for an operation
	// that already took effect.
	ctx = context.WithoutCancel(ctx)
	if err := pubsub.Publish(ctx, s.bus, RoomEvents, "", ev); err != nil {
		s.logger.Error("Failed to publish room event", "room", ev.Room.String(), "error", err)
	}
}

func (s *Service) broadcast(ctx context.Context, key domain.RoomKey, frame []byte, exclude string) {
	s.publish(ctx, roomEvent{Room: key, Exclude: exclude, Frame: frame})
}

// Join admits peer to the group's room. Members and org admins may join. On
// success the rest of the room learns about the user if this is their first
// connection there, and the current online set is returned.
func (s *Service) Join(ctx context.Context, id domain.Identity, peer hub.Peer, groupID string) ([]string, error) {
	if err := s.authority.CanJoin(ctx, id, groupID); err != nil {
		return nil, err
	}

	key := domain.NewRoomKey(id, groupID)
	unlock := s.admission.lock(key)
	s.router.Admit(key, peer)
	first := s.presence.Join(key, id.UserID, peer.ConnID())
	unlock()

	// A removal committed after the first check has either already evicted
	// the peer or is caught here, before the room hears about the join.
	if err := s.authority.CanJoin(ctx, id, groupID); err != nil {
		s.dismiss(key, id.UserID, peer)
		return nil, err
	}
	if !s.router.IsAdmitted(key, peer.ConnID()) {
		return nil, domain.Errorf(domain.ErrForbidden, "not a member of this group")
	}
	s.observer.RoomJoined()

	if first {
		s.broadcast(ctx, key, eventFrame(EventMemberJoined, memberPayload(id, groupID)), peer.ConnID())
	}
	return s.presence.ListOnline(key), nil
}

// dismiss takes peer out of the router and presence together. It reports
// whether that was the user's last connection in the room.
func (s *Service) dismiss(key domain.RoomKey, userID string, peer hub.Peer) bool {
	unlock := s.admission.lock(key)
	defer unlock()
	if !s.router.Dismiss(key, peer) {
		return false
	}
	return s.presence.Leave(key, userID, peer.ConnID())
}

// Leave removes peer from the group's room. Leaving a room that was never
// joined does nothing.
func (s *Service) Leave(ctx context.Context, id domain.Identity, peer hub.Peer, groupID string) error {
	if groupID == "" {
		return domain.Errorf(domain.ErrValidation, "groupId is required")
	}
	key := domain.NewRoomKey(id, groupID)
	if s.dismiss(key, id.UserID, peer) {
		s.broadcast(ctx, key, eventFrame(EventMemberLeft, memberPayload(id, groupID)), peer.ConnID())
	}
	return nil
}

// Send validates, persists and broadcasts a message. Only actual members may
// author messages. The stored message is broadcast to the whole room,
// sender included, after every earlier send to the room has been broadcast.
func (s *Service) Send(ctx context.Context, id domain.Identity, groupID, content, path string) (*domain.Message, error) {
	content, err := domain.NormalizeContent(content)
	if err != nil {
		return nil, err
	}
	if err := s.authority.CanAuthor(ctx, id, groupID); err != nil {
		return nil, err
	}

	key := domain.NewRoomKey(id, groupID)
	t := s.seq.Reserve(key)

	storeCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	msg, err := s.messages.AppendMessage(storeCtx, domain.Message{
		GroupID:   groupID,
		SenderID:  id.UserID,
		Content:   content,
		CreatedAt: t.At,
	})
	cancel()
	if err != nil {
		s.seq.Release(t, nil)
		return nil, s.storeError(err, "failed to store message", "room", key.String(), "user_id", id.UserID)
	}

	frame := eventFrame(EventMessageReceived, MessagePayload{Message: *msg})
	s.seq.Release(t, func() {
		s.broadcast(ctx, key, frame, "")
	})
	s.observer.MessageSent(path)
	return msg, nil
}

// Typing relays a typing signal to the rest of the room. Signals for rooms
// the peer has not joined are dropped.
func (s *Service) Typing(ctx context.Context, id domain.Identity, peer hub.Peer, groupID string, started bool) {
	key := domain.NewRoomKey(id, groupID)
	if groupID == "" || !s.router.IsAdmitted(key, peer.ConnID()) {
		return
	}
	name := EventUserStoppedTyping
	if started {
		name = EventUserTyping
	}
	s.broadcast(ctx, key, eventFrame(name, memberPayload(id, groupID)), peer.ConnID())
}

// Disconnect removes peer from every room it joined and announces users whose
// last connection in a room went away.
func (s *Service) Disconnect(ctx context.Context, id domain.Identity, peer hub.Peer) {
	departures := s.presence.DropAllForConnection(peer.ConnID())
	for _, d := range departures {
		unlock := s.admission.lock(d.Room)
		s.router.Dismiss(d.Room, peer)
		unlock()
		if d.Last {
			s.broadcast(ctx, d.Room, eventFrame(EventMemberLeft, memberPayload(id, d.Room.GroupID)), peer.ConnID())
		}
	}
	if len(departures) > 0 {
		s.logger.Debug("Connection cleaned up", "conn_id", peer.ConnID(), "user_id", id.UserID, "rooms", len(departures))
	}
}

// Page returns one window of a group's history for members and org admins.
func (s *Service) Page(ctx context.Context, id domain.Identity, groupID string, req domain.PageRequest) (*domain.Page, error) {
	req, err := domain.NormalizePageRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.authority.CanRead(ctx, id, groupID); err != nil {
		return nil, err
	}
	page, err := s.messages.PageMessages(ctx, groupID, req)
	if err != nil {
		return nil, s.storeError(err, "failed to load messages", "group_id", groupID)
	}
	return page, nil
}

// Online lists the users currently joined to the group's room.
func (s *Service) Online(ctx context.Context, id domain.Identity, groupID string) ([]string, error) {
	if err := s.authority.CanRead(ctx, id, groupID); err != nil {
		return nil, err
	}
	return s.presence.ListOnline(domain.NewRoomKey(id, groupID)), nil
}

// storeError logs unexpected store failures and maps them to Internal.
// Classified errors pass through.
func (s *Service) storeError(err error, msg string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error("Store call timed out", append(args, "error", err)...)
		return domain.Wrap(domain.ErrInternal, err, msg)
	}
	if domain.Code(err) != domain.CodeInternal {
		return err
	}
	s.logger.Error(msg, append(args, "error", err)...)
	return domain.Wrap(domain.ErrInternal, err, msg)
}
