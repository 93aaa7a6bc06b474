// Package app assembles the process-wide collaborators from configuration.
// Both the server and the chatctl tool start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/orgchat/internal/config"
	"github.com/nfrund/orgchat/internal/database"
	"github.com/nfrund/orgchat/internal/database/surrealstore"
	"github.com/nfrund/orgchat/internal/pubsub"
	"github.com/nfrund/orgchat/internal/server"
)

// Store is a durable backend with its lifecycle.
type Store interface {
	server.Store
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*database.Store)(nil)
	_ Store = (*surrealstore.Store)(nil)
)

// Dependencies holds the core services the server is built on.
type Dependencies struct {
	Store Store
	Bus   pubsub.Bus

	shutdownTracing func()
}

// OpenStore connects to the backend selected by DB_DRIVER.
func OpenStore(ctx context.Context, cfg config.Provider) (Store, error) {
	switch cfg.GetDBDriver() {
	case config.DriverSQLite, config.DriverPostgres:
		db, err := database.Open(ctx, cfg.GetDBDriver(), cfg.GetDBDSN())
		if err != nil {
			return nil, err
		}
		return database.NewStore(db, database.Dialect(cfg.GetDBDriver()),
			database.WithQueryTimeout(cfg.GetDBQueryTimeout())), nil
	case config.DriverSurreal:
		conn := surrealstore.NewConnection(cfg.GetSurreal())
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		return surrealstore.New(conn, cfg.GetDBQueryTimeout()), nil
	default:
		return nil, fmt.Errorf("%w: %q", database.ErrUnsupportedDriver, cfg.GetDBDriver())
	}
}

// Build opens and migrates the store, sets up bus tracing and connects the
// room event bus.
func Build(ctx context.Context, cfg config.Provider) (*Dependencies, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	tracer, shutdownTracing, err := pubsub.SetupOTel(ctx, pubsub.TracingConfigFrom(cfg.GetPubSub()))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	bus, err := pubsub.New(cfg.GetPubSub(), tracer)
	if err != nil {
		shutdownTracing()
		_ = store.Close()
		return nil, fmt.Errorf("connect bus: %w", err)
	}

	slog.Info("Dependencies ready", "db_driver", cfg.GetDBDriver(), "pubsub_driver", cfg.GetPubSub().Driver)
	return &Dependencies{Store: store, Bus: bus, shutdownTracing: shutdownTracing}, nil
}

// Close releases the bus, the tracer and the store, in that order.
func (d *Dependencies) Close() error {
	var errs []error
	if err := d.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	if d.shutdownTracing != nil {
		d.shutdownTracing()
	}
	if err := d.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
