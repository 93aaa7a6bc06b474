package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/orgchat/internal/auth"
	"github.com/nfrund/orgchat/internal/database"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/nfrund/orgchat/internal/hub"
	"github.com/nfrund/orgchat/internal/presence"
	"github.com/nfrund/orgchat/internal/pubsub"
	"github.com/nfrund/orgchat/internal/testutils"
	"github.com/stretchr/testify/require"
)

// frame is the decoded form of anything the server sends.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrorBody      `json:"error"`
}

// fakeConn records delivered frames. A positive limit makes it refuse
// frames once that many are buffered.
type fakeConn struct {
	id    string
	limit int

	mu     sync.Mutex
	frames [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.NewString()}
}

func (c *fakeConn) ConnID() string { return c.id }

func (c *fakeConn) Send(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && len(c.frames) >= c.limit {
		return false
	}
	c.frames = append(c.frames, append([]byte(nil), b...))
	return true
}

func (c *fakeConn) all(t *testing.T) []frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ string) []frame {
	t.Helper()
	var out []frame
	for _, f := range c.all(t) {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) ack(t *testing.T, id string) frame {
	t.Helper()
	for _, f := range c.ofType(t, TypeAck) {
		if f.ID == id {
			return f
		}
	}
	t.Fatalf("no ack for request %q", id)
	return frame{}
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type countingObserver struct {
	opened, closed, joins, sent, drops atomic.Int64
}

func (o *countingObserver) ConnectionOpened()  { o.opened.Add(1) }
func (o *countingObserver) ConnectionClosed()  { o.closed.Add(1) }
func (o *countingObserver) RoomJoined()        { o.joins.Add(1) }
func (o *countingObserver) MessageSent(string) { o.sent.Add(1) }
func (o *countingObserver) PeerDropped()       { o.drops.Add(1) }

type harness struct {
	svc      *Service
	store    *database.Store
	router   *hub.Router
	presence *presence.Tracker
	observer *countingObserver
}

// newHarness wires a Service to an in-memory SQLite store and an in-process
// bus. Bus publishes block until the router has handled them, so frames are
// visible as soon as an operation returns.
func newHarness(t *testing.T) *harness {
	t.Helper()
	store := testutils.NewSQLiteStore(t)
	return newHarnessWith(t, Deps{
		Auth:     auth.NewJWTAuthenticator([]byte(testutils.TestJWTSecret), "orgchat", store),
		Users:    store,
		Groups:   store,
		Messages: store,
	}, store)
}

func newHarnessWith(t *testing.T, deps Deps, store *database.Store) *harness {
	t.Helper()
	bus := pubsub.NewWatermillBridge()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
	})

	deps.Router = hub.NewRouter()
	deps.Presence = presence.NewTracker()
	deps.Bus = bus
	observer := &countingObserver{}
	svc := NewService(deps, WithSendTimeout(2*time.Second), WithObserver(observer))
	require.NoError(t, svc.Start(ctx))

	return &harness{svc: svc, store: store, router: deps.Router, presence: deps.Presence, observer: observer}
}

func (h *harness) connect(t *testing.T, u *domain.User) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	ss := h.svc.NewSession(conn)
	_, err := ss.Authenticate(context.Background(), testutils.Token(t, u))
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close(context.Background()) })
	return ss, conn
}

func send(t *testing.T, ss *Session, typ, id string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(Request{Type: typ, ID: id, Payload: raw})
	require.NoError(t, err)
	ss.Handle(context.Background(), b)
}

func decodePayload[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

// gatedPeer parks its gateAt-th ConnID call until release is closed, so a
// test can interleave other operations with a Join in progress.
type gatedPeer struct {
	id     string
	userID string
	gateAt int32

	calls   atomic.Int32
	reached chan struct{}
	release chan struct{}

	mu     sync.Mutex
	frames [][]byte
}

func newGatedPeer(userID string, gateAt int32) *gatedPeer {
	return &gatedPeer{
		id:      uuid.NewString(),
		userID:  userID,
		gateAt:  gateAt,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *gatedPeer) ConnID() string {
	if p.calls.Add(1) == p.gateAt {
		close(p.reached)
		<-p.release
	}
	return p.id
}

func (p *gatedPeer) UserID() string { return p.userID }

func (p *gatedPeer) Deliver(b []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, b)
	return true
}
