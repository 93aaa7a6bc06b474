package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nfrund/orgchat/internal/domain"
)

// State is the lifecycle position of a live connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Conn is the transport half of a live connection.
type Conn interface {
	ConnID() string
	// Send queues a frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
}

// Session owns the state machine of one live connection. It implements
// hub.Peer so the router can address it directly.
type Session struct {
	svc  *Service
	conn Conn

	mu       sync.RWMutex
	state    State
	identity domain.Identity

	logger *slog.Logger
}

// NewSession starts a session in the Connecting state.
func (s *Service) NewSession(conn Conn) *Session {
	return &Session{
		svc:    s,
		conn:   conn,
		state:  StateConnecting,
		logger: s.logger.With("conn_id", conn.ConnID()),
	}
}

func (ss *Session) ConnID() string { return ss.conn.ConnID() }

func (ss *Session) UserID() string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.identity.UserID
}

func (ss *Session) Deliver(frame []byte) bool { return ss.conn.Send(frame) }

// Identity returns the identity resolved at authentication.
func (ss *Session) Identity() domain.Identity {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.identity
}

// State returns the current lifecycle state.
func (ss *Session) State() State {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.state
}

// Authenticate resolves credential once for the lifetime of the session.
// Failure moves the session to Disconnected; the caller then sends
// ErrorFrame(err) and closes the transport.
func (ss *Session) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	ss.mu.Lock()
	if ss.state != StateConnecting {
		state := ss.state
		ss.mu.Unlock()
		if state == StateAuthenticated {
			return domain.Identity{}, domain.Errorf(domain.ErrValidation, "already authenticated")
		}
		return domain.Identity{}, domain.Errorf(domain.ErrUnauthenticated, "connection closed")
	}
	ss.mu.Unlock()

	if credential == "" {
		ss.setState(StateDisconnected)
		return domain.Identity{}, domain.Errorf(domain.ErrUnauthenticated, "authentication token required")
	}
	id, err := ss.svc.auth.Authenticate(ctx, credential)
	if err != nil {
		ss.setState(StateDisconnected)
		ss.logger.Info("Live connection rejected", "error", err)
		return domain.Identity{}, err
	}

	ss.mu.Lock()
	if ss.state != StateConnecting {
		ss.mu.Unlock()
		return domain.Identity{}, domain.Errorf(domain.ErrUnauthenticated, "connection closed")
	}
	ss.identity = id
	ss.state = StateAuthenticated
	ss.logger = ss.logger.With("user_id", id.UserID, "org_id", id.OrgID)
	ss.mu.Unlock()

	ss.svc.observer.ConnectionOpened()
	ss.logger.Info("Live connection authenticated")
	ss.Deliver(encode(Event{Type: TypeReady, Payload: id}))
	return id, nil
}

// Handle processes one inbound frame. Replies are delivered through the
// connection; requests carrying an id get exactly one ack.
func (ss *Session) Handle(ctx context.Context, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		ss.Deliver(AckFrame("", nil, domain.Errorf(domain.ErrValidation, "malformed frame")))
		return
	}
	if ss.State() != StateAuthenticated {
		ss.Deliver(AckFrame(req.ID, nil, domain.Errorf(domain.ErrUnauthenticated, "not authenticated")))
		return
	}
	id := ss.Identity()

	switch req.Type {
	case TypeJoinGroup:
		var p GroupRequest
		if !ss.decode(req, &p) {
			return
		}
		online, err := ss.svc.Join(ctx, id, ss, p.GroupID)
		ss.Deliver(AckFrame(req.ID, GroupPayload{GroupID: p.GroupID}, err))
		if err == nil {
			ss.Deliver(eventFrame(EventOnlineUsers, OnlineUsersPayload{GroupID: p.GroupID, UserIDs: online}))
		}

	case TypeLeaveGroup:
		var p GroupRequest
		if !ss.decode(req, &p) {
			return
		}
		err := ss.svc.Leave(ctx, id, ss, p.GroupID)
		if req.ID != "" || err != nil {
			ss.Deliver(AckFrame(req.ID, GroupPayload{GroupID: p.GroupID}, err))
		}

	case TypeSendMessage:
		var p SendRequest
		if !ss.decode(req, &p) {
			return
		}
		msg, err := ss.svc.Send(ctx, id, p.GroupID, p.Content, PathLive)
		if err != nil {
			ss.Deliver(AckFrame(req.ID, nil, err))
			return
		}
		ss.Deliver(AckFrame(req.ID, MessagePayload{Message: *msg}, nil))

	case TypeTypingStart, TypeTypingStop:
		var p GroupRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return
		}
		ss.svc.Typing(ctx, id, ss, p.GroupID, req.Type == TypeTypingStart)

	case TypeAuthenticate:
		ss.Deliver(AckFrame(req.ID, nil, domain.Errorf(domain.ErrValidation, "already authenticated")))

	default:
		ss.Deliver(AckFrame(req.ID, nil, domain.Errorf(domain.ErrValidation, "unknown frame type %q", req.Type)))
	}
}

func (ss *Session) decode(req Request, v any) bool {
	if err := json.Unmarshal(req.Payload, v); err != nil {
		ss.Deliver(AckFrame(req.ID, nil, domain.Errorf(domain.ErrValidation, "invalid payload for %s", req.Type)))
		return false
	}
	return true
}

// Close moves the session to Disconnected and removes it from every room.
// It is safe to call more than once.
func (ss *Session) Close(ctx context.Context) {
	ss.mu.Lock()
	prev := ss.state
	ss.state = StateDisconnected
	ss.mu.Unlock()

	if prev != StateAuthenticated {
		return
	}
	ss.svc.Disconnect(ctx, ss.Identity(), ss)
	ss.svc.observer.ConnectionClosed()
	ss.logger.Info("Live connection closed")
}

func (ss *Session) setState(state State) {
	ss.mu.Lock()
	ss.state = state
	ss.mu.Unlock()
}
