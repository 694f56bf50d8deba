// Package store selects and opens the ledger backend named by STORE_DRIVER.
// The backends themselves live in the sqlite, postgres and mongo subpackages;
// the in-memory store lives in leave/store.
package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
	memstore "github.com/warp/leave-ledger/leave/store"
	"github.com/warp/leave-ledger/store/mongo"
	"github.com/warp/leave-ledger/store/postgres"
	"github.com/warp/leave-ledger/store/sqlite"
)

// Backend is an opened ledger store together with its employee directory.
// Every driver implements both on the same database.
type Backend struct {
	Driver   string
	Store    leave.Store
	Registry leave.Registry
	close    func(ctx context.Context) error
}

// Close releases the backend's connections.
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// ledgerStore is what every driver provides.
type ledgerStore interface {
	leave.Store
	leave.Registry
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Backend, error) {
	log := logger.With().Str("component", "store").Str("driver", cfg.Store.Driver).Logger()

	var (
		s       ledgerStore
		closeFn func(ctx context.Context) error
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		s = memstore.NewMemory()

	case config.DriverSQLite:
		db, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		s = db
		closeFn = func(context.Context) error { return db.Close() }

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		s = db
		closeFn = func(context.Context) error { return db.Close() }

	case config.DriverMongo:
		db, err := mongo.Open(ctx, cfg.MongoDB, log)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		s = db
		closeFn = db.Close

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	log.Info().Msg("ledger store ready")
	return &Backend{Driver: cfg.Store.Driver, Store: s, Registry: s, close: closeFn}, nil
}
