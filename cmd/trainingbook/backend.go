package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/reminator329/trainingbook/internal/config"
	"github.com/reminator329/trainingbook/internal/store"
	"github.com/reminator329/trainingbook/internal/store/postgres"
	redisstore "github.com/reminator329/trainingbook/internal/store/redis"
	"github.com/reminator329/trainingbook/internal/store/sqlite"
)

// openBackend builds the backend selected by cfg. The returned close
// function releases its connections.
func openBackend(ctx context.Context, cfg config.Config) (store.Backend, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case config.BackendFile:
		return store.NewFileBackend(cfg.Store.DataPath), noop, nil
	case config.BackendSQLite:
		backend, err := sqlite.Open(cfg.Store.SQLitePath, cfg.Store.DocumentName)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend.Close, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: connect: %w", err)
		}
		backend := postgres.NewBackend(pool, cfg.Store.DocumentName)
		if err := backend.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return backend, func() error { pool.Close(); return nil }, nil
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Store.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: ping %s: %w", cfg.Store.RedisAddr, err)
		}
		return redisstore.NewBackend(client, cfg.Store.DocumentName), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
