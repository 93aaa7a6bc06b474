package surrealstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/orgchat/internal/config"
	"github.com/nfrund/orgchat/internal/database"
	"github.com/surrealdb/surrealdb.go"
)

// Connection manages a signed-in SurrealDB session.
type Connection struct {
	cfg     config.SurrealConfig
	conn    *surrealdb.DB
	retryer *database.Retryer
	mu      sync.RWMutex
	healthy bool
}

// NewConnection creates an unconnected session for cfg.
func NewConnection(cfg config.SurrealConfig) *Connection {
	return &Connection{cfg: cfg, retryer: database.NewRetryer()}
}

// Connect establishes the session, retrying with backoff while the server starts.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	return c.retryer.Retry(ctx, func() error { return c.connect(ctx) })
}

func (c *Connection) connect(ctx context.Context) error {
	url := database.RedactURL(c.cfg.URL)
	conn, err := surrealdb.FromEndpointURLString(ctx, c.cfg.URL)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create database connection", "db_url", url, "error", err)
		return fmt.Errorf("failed to connect to database at %s: %w", url, err)
	}

	if c.cfg.User != "" {
		if _, err = conn.SignIn(ctx, &surrealdb.Auth{Username: c.cfg.User, Password: c.cfg.Pass}); err != nil {
			conn.Close(ctx)
			return fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if err = conn.Use(ctx, c.cfg.NS, c.cfg.DB); err != nil {
		conn.Close(ctx)
		return fmt.Errorf("failed to use namespace/db: %w", err)
	}

	c.conn = conn
	c.healthy = true
	slog.InfoContext(ctx, "Connected to SurrealDB", "db_url", url, "namespace", c.cfg.NS, "database", c.cfg.DB)
	return nil
}

// DB returns the live session or ErrNotConnected.
func (c *Connection) DB() (*surrealdb.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.healthy {
		return nil, database.NewDBError(database.ErrNotConnected, "surrealdb not connected or unhealthy")
	}
	return c.conn, nil
}

// Ping checks the session by asking the server for its version.
func (c *Connection) Ping(ctx context.Context) error {
	db, err := c.DB()
	if err != nil {
		return err
	}
	if _, err := db.Version(ctx); err != nil {
		c.mu.Lock()
		c.healthy = false
		c.mu.Unlock()
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close ends the session.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.conn = nil
	c.healthy = false
	return err
}
