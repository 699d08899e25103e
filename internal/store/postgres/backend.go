// Package postgres stores the document as one row of a PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reminator329/trainingbook/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	name TEXT PRIMARY KEY,
	body JSON NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Backend implements store.Backend on a pgx pool.
type Backend struct {
	pool *pgxpool.Pool
	name string
}

// NewBackend constructs a Backend storing the document under name.
func NewBackend(pool *pgxpool.Pool, name string) *Backend {
	return &Backend{pool: pool, name: name}
}

// EnsureSchema creates the documents table when missing.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Read implements store.Backend.
func (b *Backend) Read(ctx context.Context) ([]byte, error) {
	const query = `SELECT body::text FROM documents WHERE name = $1`

	var body string
	if err := b.pool.QueryRow(ctx, query, b.name).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoDocument
		}
		return nil, fmt.Errorf("postgres: read %s: %w", b.name, err)
	}
	return []byte(body), nil
}

// Write implements store.Backend. The upsert is a single statement, so
// readers never observe a partial document.
func (b *Backend) Write(ctx context.Context, data []byte) error {
	const query = `INSERT INTO documents (name, body, updated_at) VALUES ($1, $2::json, now())
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`

	if _, err := b.pool.Exec(ctx, query, b.name, string(data)); err != nil {
		return fmt.Errorf("postgres: write %s: %w", b.name, err)
	}
	return nil
}
