// Package websocket carries the live chat protocol over WebSocket
// connections.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/orgchat/internal/auth"
	"github.com/nfrund/orgchat/internal/chat"
	"github.com/nfrund/orgchat/internal/domain"
)

// Options configures a Bridge.
type Options struct {
	// AuthTimeout bounds how long a connection may stay unauthenticated.
	AuthTimeout time.Duration
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// AllowedOrigins are host patterns accepted in the Origin header, in
	// addition to the request's own host.
	AllowedOrigins []string
}

// Bridge upgrades HTTP requests to WebSocket connections and drives one chat
// session per connection.
type Bridge struct {
	svc     *chat.Service
	clients *ClientManager
	opts    Options
	logger  *slog.Logger
}

// NewBridge initializes a Bridge for svc.
func NewBridge(svc *chat.Service, opts Options) *Bridge {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Bridge{
		svc:     svc,
		clients: NewClientManager(),
		opts:    opts,
		logger:  slog.Default().With("component", "websocket"),
	}
}

// Clients returns the registry of open connections.
func (b *Bridge) Clients() *ClientManager {
	return b.clients
}

// Handler returns an echo.HandlerFunc serving the live endpoint. The
// credential may come from the Authorization header, a token query
// parameter or a first authenticate frame.
func (b *Bridge) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		credential := auth.BearerToken(req.Header.Get(echo.HeaderAuthorization))
		if credential == "" {
			credential = req.URL.Query().Get("token")
		}

		conn, err := websocket.Accept(c.Response(), req, &websocket.AcceptOptions{
			OriginPatterns: b.opts.AllowedOrigins,
		})
		if err != nil {
			// Accept has already written the HTTP error response.
			b.logger.Warn("Failed to upgrade connection to WebSocket", "error", err)
			return nil
		}

		b.serve(req.Context(), conn, credential)
		return nil
	}
}

func (b *Bridge) serve(ctx context.Context, conn *websocket.Conn, credential string) {
	client := newClient(uuid.NewString(), conn, b.opts.SendBuffer)
	session := b.svc.NewSession(client)

	if credential == "" {
		var err error
		credential, err = b.awaitCredential(ctx, conn)
		if err != nil {
			session.Close(ctx)
			b.reject(conn, err)
			return
		}
	}

	authCtx, cancel := context.WithTimeout(ctx, b.opts.AuthTimeout)
	_, err := session.Authenticate(authCtx, credential)
	cancel()
	if err != nil {
		b.reject(conn, err)
		return
	}

	b.clients.Add(client)
	done := make(chan struct{})
	go client.writePump(done)

	client.readPump(ctx, func(raw []byte) {
		session.Handle(ctx, raw)
	})

	session.Close(context.WithoutCancel(ctx))
	b.clients.Remove(client.id)
	client.Close()
	<-done
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// awaitCredential waits for an authenticate frame. The read runs on its own
// goroutine because cancelling a coder/websocket read closes the connection,
// and the client must still receive the error frame.
func (b *Bridge) awaitCredential(ctx context.Context, conn *websocket.Conn) (string, error) {
	type result struct {
		data []byte
		err  error
	}
	read := make(chan result, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		read <- result{data: data, err: err}
	}()

	timer := time.NewTimer(b.opts.AuthTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return "", domain.Errorf(domain.ErrUnauthenticated, "authentication timed out")
	case r := <-read:
		if r.err != nil {
			return "", domain.Errorf(domain.ErrUnauthenticated, "connection closed before authentication")
		}
		var req chat.Request
		if err := json.Unmarshal(r.data, &req); err != nil || req.Type != chat.TypeAuthenticate {
			return "", domain.Errorf(domain.ErrUnauthenticated, "authentication required")
		}
		var p chat.AuthenticateRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil || p.Token == "" {
			return "", domain.Errorf(domain.ErrUnauthenticated, "authentication token required")
		}
		return p.Token, nil
	}
}

// reject tells the client why and closes with a policy violation.
func (b *Bridge) reject(conn *websocket.Conn, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if werr := conn.Write(ctx, websocket.MessageText, chat.ErrorFrame(err)); werr != nil {
		b.logger.Debug("Failed to send authentication error", "error", werr)
	}
	_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
}

// Shutdown closes every open connection with a going-away status.
func (b *Bridge) Shutdown() {
	if n := b.clients.CloseAll(websocket.StatusGoingAway, "server shutting down"); n > 0 {
		b.logger.Info("Closed live connections for shutdown", "count", n)
	}
}
