package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/xraph/hookrelay/internal/config"
	relaystore "github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/store/bunstore"
	"github.com/xraph/hookrelay/store/memory"
)

// openStore opens the configured backend, waits for it to answer a ping and
// runs its migrations.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (relaystore.Store, error) {
	var store relaystore.Store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using the in-memory store; data is lost on restart")
		return memory.New(), nil
	case config.StorePostgres:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store = bunstore.New(bun.NewDB(sqldb, pgdialect.New()))
	case config.StoreSQLite:
		sqldb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		store = bunstore.New(bun.NewDB(sqldb, sqlitedialect.New()))
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, store.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("store not ready", "store", cfg.Store, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Store, err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Store, err)
	}
	return store, nil
}
