// Package sqlite stores the document as one row of a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reminator329/trainingbook/internal/store"
)

// Backend implements store.Backend on a SQLite database file.
type Backend struct {
	db   *sql.DB
	name string
}

// Open creates or opens the database at path and prepares its schema. name
// selects the row holding the document.
func Open(path, name string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	b := &Backend{db: db, name: name}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return b, nil
}

// Close releases the database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) initSchema() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`)
	return err
}

// Read implements store.Backend.
func (b *Backend) Read(ctx context.Context) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, b.name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", b.name, err)
	}
	return []byte(body), nil
}

// Write implements store.Backend with a single upsert statement.
func (b *Backend) Write(ctx context.Context, data []byte) error {
	_, err := b.db.ExecContext(ctx, `INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		b.name, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: write %s: %w", b.name, err)
	}
	return nil
}
