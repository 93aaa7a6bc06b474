package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Client represents a single connected WebSocket client.
type Client struct {
	id   string
	conn *websocket.Conn

	mu   sync.RWMutex
	send chan []byte

	logger *slog.Logger
}

func newClient(id string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, buffer),
		logger: slog.Default().With("component", "websocket", "conn_id", id),
	}
}

// ConnID returns the connection id.
func (c *Client) ConnID() string { return c.id }

// Send queues msg without blocking. It reports false when the client is
// closed or its buffer is full, in which case msg is dropped.
func (c *Client) Send(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// If the channel is nil, it means the client is disconnected.
	if c.send == nil {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("Client send channel full, dropping message")
		return false
	}
}

// Close safely closes the client's send channel, which ends writePump.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.send != nil {
		close(c.send)
		c.send = nil
	}
}

// writePump pumps messages from the send channel to the connection. It
// returns when the channel is closed or a write fails.
func (c *Client) writePump(done chan<- struct{}) {
	defer close(done)

	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()
	if send == nil {
		return
	}

	for message := range send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			c.logger.Debug("WebSocket write error", "error", err)
			// Unblock the reader so the session is torn down.
			_ = c.conn.CloseNow()
			// Drain so Send never sees a full channel for a dead client.
			for range send {
			}
			return
		}
	}
}

// readPump hands every inbound text frame to handle until the connection
// fails or ctx is cancelled.
func (c *Client) readPump(ctx context.Context, handle func([]byte)) {
	for {
		typ, message, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.logger.Info("WebSocket closed normally by client")
			case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			default:
				c.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		handle(message)
	}
}
