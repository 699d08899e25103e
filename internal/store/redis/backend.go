// Package redis stores the document under one Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/reminator329/trainingbook/internal/store"
)

// Backend implements store.Backend with a single string key. SET replaces
// the value atomically.
type Backend struct {
	client goredis.UniversalClient
	key    string
}

// NewBackend constructs a Backend storing the document at key.
func NewBackend(client goredis.UniversalClient, key string) *Backend {
	return &Backend{client: client, key: key}
}

// Read implements store.Backend.
func (b *Backend) Read(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read %s: %w", b.key, err)
	}
	return data, nil
}

// Write implements store.Backend.
func (b *Backend) Write(ctx context.Context, data []byte) error {
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: write %s: %w", b.key, err)
	}
	return nil
}
