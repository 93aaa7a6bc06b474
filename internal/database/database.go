package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Dialect captures the small syntax differences between the supported drivers.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Open creates a connection pool for driver and waits until it answers a ping.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var d Dialect
	switch driver {
	case string(SQLite):
		d = SQLite
	case string(Postgres):
		d = Postgres
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, NewDBError(err, "failed to open database")
	}
	if d == SQLite {
		// A single writer avoids SQLITE_BUSY and keeps in-memory databases
		// shared across the pool.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := NewRetryer().Retry(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		slog.ErrorContext(ctx, "Failed to connect to database", "driver", driver, "dsn", RedactURL(dsn), "error", err)
		return nil, NewDBError(fmt.Errorf("%w: %v", ErrNotConnected, err), "failed to connect to database")
	}
	slog.InfoContext(ctx, "Connected to database", "driver", driver)
	return db, nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// withTimeout applies the store's default query timeout unless ctx already
// has an earlier deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }
