package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/orgchat/internal/auth"
	"github.com/nfrund/orgchat/internal/chat"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/nfrund/orgchat/internal/hub"
	"github.com/nfrund/orgchat/internal/presence"
	"github.com/nfrund/orgchat/internal/pubsub"
	"github.com/nfrund/orgchat/internal/testutils"
	ws "github.com/nfrund/orgchat/internal/websocket"
)

type inFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload"`
	Error   *chat.ErrorBody `json:"error"`
}

type testEnv struct {
	url      string
	bridge   *ws.Bridge
	presence *presence.Tracker
	tenant   testutils.Tenant
}

func newTestEnv(t *testing.T, opts ws.Options) *testEnv {
	t.Helper()
	store := testutils.NewSQLiteStore(t)
	tenant := testutils.SeedTenant(t, store, "acme")

	bus := pubsub.NewWatermillBridge()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
	})

	tracker := presence.NewTracker()
	svc := chat.NewService(chat.Deps{
		Auth:     auth.NewJWTAuthenticator([]byte(testutils.TestJWTSecret), "orgchat", store),
		Users:    store,
		Groups:   store,
		Messages: store,
		Router:   hub.NewRouter(),
		Presence: tracker,
		Bus:      bus,
	})
	require.NoError(t, svc.Start(ctx))

	bridge := ws.NewBridge(svc, opts)
	e := echo.New()
	e.GET("/ws", bridge.Handler())
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &testEnv{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		bridge:   bridge,
		presence: tracker,
		tenant:   tenant,
	}
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) inFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f inFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) inFrame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readFrame(t, conn); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return inFrame{}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func request(typ, id string, payload any) map[string]any {
	return map[string]any{"type": typ, "id": id, "payload": payload}
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestBridge_HeaderAuthJoinAndSend(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := dial(t, env.url, bearer(testutils.Token(t, env.tenant.Admin)))

	ready := readFrame(t, conn)
	require.Equal(t, chat.TypeReady, ready.Type)

	writeJSON(t, conn, request(chat.TypeJoinGroup, "1", chat.GroupRequest{GroupID: env.tenant.Group.ID}))
	ack := readUntil(t, conn, chat.TypeAck)
	assert.True(t, ack.OK)
	assert.Equal(t, "1", ack.ID)

	online := readUntil(t, conn, chat.EventOnlineUsers)
	var payload chat.OnlineUsersPayload
	require.NoError(t, json.Unmarshal(online.Payload, &payload))
	assert.Equal(t, []string{env.tenant.Admin.ID}, payload.UserIDs)

	writeJSON(t, conn, request(chat.TypeSendMessage, "2", chat.SendRequest{GroupID: env.tenant.Group.ID, Content: "hello"}))
	received := readUntil(t, conn, chat.EventMessageReceived)
	sent := readUntil(t, conn, chat.TypeAck)
	require.True(t, sent.OK)

	var live, acked chat.MessagePayload
	require.NoError(t, json.Unmarshal(received.Payload, &live))
	require.NoError(t, json.Unmarshal(sent.Payload, &acked))
	assert.Equal(t, acked.Message.ID, live.Message.ID)
	assert.Equal(t, "hello", live.Message.Content)
}

func TestBridge_QueryTokenAuth(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := dial(t, env.url+"?token="+testutils.Token(t, env.tenant.Member), nil)
	assert.Equal(t, chat.TypeReady, readFrame(t, conn).Type)
}

func TestBridge_FirstFrameAuth(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := dial(t, env.url, nil)

	writeJSON(t, conn, request(chat.TypeAuthenticate, "", chat.AuthenticateRequest{Token: testutils.Token(t, env.tenant.Member)}))
	ready := readFrame(t, conn)
	require.Equal(t, chat.TypeReady, ready.Type)

	var id domain.Identity
	require.NoError(t, json.Unmarshal(ready.Payload, &id))
	assert.Equal(t, env.tenant.Member.ID, id.UserID)
	assert.Equal(t, domain.RoleMember, id.Role)
}

func TestBridge_RejectsBadCredential(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := dial(t, env.url, bearer("garbage"))

	f := readFrame(t, conn)
	assert.Equal(t, chat.TypeError, f.Type)
	require.NotNil(t, f.Error)
	assert.Equal(t, domain.CodeUnauthenticated, f.Error.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestBridge_AuthTimeout(t *testing.T) {
	env := newTestEnv(t, ws.Options{AuthTimeout: 100 * time.Millisecond})
	conn := dial(t, env.url, nil)

	f := readFrame(t, conn)
	assert.Equal(t, chat.TypeError, f.Type)
	assert.Equal(t, "authentication timed out", f.Error.Message)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestBridge_RequestFrameValidation(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := dial(t, env.url, bearer(testutils.Token(t, env.tenant.Admin)))
	readFrame(t, conn)

	tests := []struct {
		name    string
		frame   map[string]any
		message string
	}{
		{
			name:    "unknown type",
			frame:   request("delete_group", "9", chat.GroupRequest{GroupID: env.tenant.Group.ID}),
			message: `unknown frame type "delete_group"`,
		},
		{
			name:    "authenticate after ready",
			frame:   request(chat.TypeAuthenticate, "10", chat.AuthenticateRequest{Token: testutils.Token(t, env.tenant.Admin)}),
			message: "already authenticated",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeJSON(t, conn, tt.frame)
			f := readFrame(t, conn)
			assert.Equal(t, chat.TypeAck, f.Type)
			assert.Equal(t, tt.frame["id"], f.ID)
			assert.False(t, f.OK)
			require.NotNil(t, f.Error)
			assert.Equal(t, domain.CodeValidation, f.Error.Code)
			assert.Equal(t, tt.message, f.Error.Message)
		})
	}

	// The connection stays usable after rejected frames.
	writeJSON(t, conn, request(chat.TypeJoinGroup, "11", chat.GroupRequest{GroupID: env.tenant.Group.ID}))
	f := readUntil(t, conn, chat.TypeAck)
	assert.Equal(t, "11", f.ID)
	assert.True(t, f.OK)
}

func TestBridge_DisconnectCleansPresence(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	key := domain.NewRoomKey(testutils.IdentityOf(env.tenant.Admin, env.tenant.Org), env.tenant.Group.ID)

	conn := dial(t, env.url, bearer(testutils.Token(t, env.tenant.Admin)))
	readFrame(t, conn)
	writeJSON(t, conn, request(chat.TypeJoinGroup, "1", chat.GroupRequest{GroupID: env.tenant.Group.ID}))
	readUntil(t, conn, chat.TypeAck)
	require.True(t, env.presence.IsOnline(key, env.tenant.Admin.ID))
	assert.Equal(t, 1, env.bridge.Clients().Count())

	// Drop the transport without leaving any room.
	require.NoError(t, conn.CloseNow())

	assert.Eventually(t, func() bool {
		return !env.presence.IsOnline(key, env.tenant.Admin.ID) && env.bridge.Clients().Count() == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBridge_Shutdown(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := dial(t, env.url, bearer(testutils.Token(t, env.tenant.Admin)))
	readFrame(t, conn)

	go env.bridge.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
