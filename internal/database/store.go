package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/orgchat/internal/domain"
)

// Store implements the user, group and message repositories on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

var (
	_ domain.UserRepository  = (*Store)(nil)
	_ domain.GroupRepository = (*Store)(nil)
	_ domain.MessageStore    = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithQueryTimeout bounds every store call.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithClock overrides the time source used for created_at columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore wraps an open pool. dialect must match the driver used to open it.
func NewStore(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "store", "dialect", string(dialect)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string { return s.dialect.rebind(query) }

func (s *Store) newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Store) stamp() time.Time { return domain.StoredTime(s.now()) }

// fail logs unexpected failures before they are surfaced as Internal.
func (s *Store) fail(ctx context.Context, err error, op, query, notFound, conflict string) error {
	out := classify(err, op, query, notFound, conflict)
	if domain.Code(out) == domain.CodeInternal {
		s.logger.ErrorContext(ctx, "database operation failed", "op", op, "error", err)
	}
	return out
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
