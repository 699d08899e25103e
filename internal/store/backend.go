package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrNoDocument is returned by a Backend that holds no document yet.
	ErrNoDocument = errors.New("store: no document")
	// ErrUnknownCollection is returned for a collection the store was not opened with.
	ErrUnknownCollection = errors.New("store: unknown collection")
)

// Backend persists the single document. Write must be atomic: a reader sees
// either the previous document or the new one, never a partial write.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// FileBackend keeps the document in one file on the local file system.
type FileBackend struct {
	path string
	perm fs.FileMode
}

// NewFileBackend constructs a FileBackend for path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, perm: 0o644}
}

// Path returns the document location.
func (b *FileBackend) Path() string {
	return b.path
}

// Read implements Backend.
func (b *FileBackend) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", b.path, err)
	}
	return data, nil
}

// Write implements Backend by writing a sibling temp file, syncing it and
// renaming it over the document.
func (b *FileBackend) Write(ctx context.Context, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err = tmp.Chmod(b.perm); err != nil {
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", b.path, err)
	}
	return nil
}

// MemoryBackend keeps the document in memory. It is used by tests and by
// tooling that works on a document without persisting it.
type MemoryBackend struct {
	data   []byte
	writes int
}

// NewMemoryBackend returns a backend holding data; nil means no document.
func NewMemoryBackend(data []byte) *MemoryBackend {
	return &MemoryBackend{data: data}
}

// Read implements Backend.
func (b *MemoryBackend) Read(ctx context.Context) ([]byte, error) {
	if b.data == nil {
		return nil, ErrNoDocument
	}
	return append([]byte(nil), b.data...), nil
}

// Write implements Backend.
func (b *MemoryBackend) Write(ctx context.Context, data []byte) error {
	b.data = append([]byte(nil), data...)
	b.writes++
	return nil
}

// Bytes returns the current document.
func (b *MemoryBackend) Bytes() []byte {
	return b.data
}

// Writes returns how many times the document was written.
func (b *MemoryBackend) Writes() int {
	return b.writes
}
