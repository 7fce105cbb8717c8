// Package store selects the game state backend named in the configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"beergame/internal/config"
	"beergame/internal/db"
	"beergame/internal/game"
	"beergame/internal/store/memory"
	"beergame/internal/store/postgres"
	"beergame/internal/store/sqlite"
)

// Backend is an opened store. Pool is set only for Postgres, where it also
// carries cross-process events.
type Backend struct {
	Store game.Store
	Pool  *pgxpool.Pool
	close func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

func Open(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) (*Backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: postgres.New(pool, logger), Pool: pool, close: pool.Close}, nil
	case config.StoreSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: sqlite.New(conn), close: func() { _ = conn.Close() }}, nil
	case config.StoreMemory:
		return &Backend{Store: memory.New()}, nil
	}
	return nil, fmt.Errorf("unsupported store %q", cfg.Store)
}
