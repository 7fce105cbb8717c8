package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing for one classroom: each order or advance is a short
// serializable unit, so a handful of connections covers every seat of
// every team. Long-lived stream clients hold no connection.
const (
	maxConns        = 10
	minConns        = 1
	maxConnLifetime = 30 * time.Minute
	maxConnIdleTime = 5 * time.Minute
	pingTimeout     = 5 * time.Second
)

// Connect opens a Postgres pool for the game store, checks that the server
// answers and applies pending migrations before handing the pool out.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = maxConnLifetime
	cfg.MaxConnIdleTime = maxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open game store pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping game store: %w", err)
	}
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
