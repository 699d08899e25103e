// Package store keeps every collection of records in one document, loads it
// once into a canonical in-memory graph and persists it on every upsert.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reminator329/trainingbook/internal/entity"
	"github.com/reminator329/trainingbook/internal/graph"
	"github.com/reminator329/trainingbook/internal/observability"
)

// Listener is notified after an upsert has been written. The record it
// receives is a copy detached from the store.
type Listener interface {
	Upserted(ctx context.Context, collection string, e entity.Entity) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, collection string, e entity.Entity) error

// Upserted implements Listener.
func (f ListenerFunc) Upserted(ctx context.Context, collection string, e entity.Entity) error {
	return f(ctx, collection, e)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithListener registers l for upsert notifications.
func WithListener(l Listener) Option {
	return func(s *Store) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// WithCollectionAlias reads the legacy top-level key into collection current.
// Documents are always written under current.
func WithCollectionAlias(legacy, current string) Option {
	return func(s *Store) {
		s.aliases[legacy] = current
	}
}

// Store owns the document, the collections decoded from it and the identity
// table that makes every id map to exactly one instance. All methods are
// serialized behind one mutex.
type Store struct {
	mu          sync.Mutex
	backend     Backend
	codec       *graph.Codec
	names       []string
	aliases     map[string]string
	collections map[string][]entity.Entity
	identities  *graph.IdentityTable
	listeners   []Listener
	logger      *zap.Logger
}

// Open constructs a store over backend holding the given collections, in the
// order they are written, and loads it.
func Open(ctx context.Context, backend Backend, codec *graph.Codec, collections []string, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("store: backend is nil")
	}
	if codec == nil {
		return nil, errors.New("store: codec is nil")
	}
	s := &Store{
		backend:     backend,
		codec:       codec,
		aliases:     make(map[string]string),
		collections: make(map[string][]entity.Entity),
		identities:  graph.NewIdentityTable(),
		logger:      zap.NewNop(),
	}
	seen := make(map[string]struct{}, len(collections))
	for _, name := range collections {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("store: collection name required")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("store: collection %q listed twice", name)
		}
		seen[name] = struct{}{}
		s.names = append(s.names, name)
	}
	if len(s.names) == 0 {
		return nil, errors.New("store: at least one collection required")
	}
	for _, opt := range opts {
		opt(s)
	}
	for legacy, current := range s.aliases {
		if _, ok := seen[current]; !ok {
			return nil, fmt.Errorf("%w: alias %q targets %q", ErrUnknownCollection, legacy, current)
		}
		if _, ok := seen[legacy]; ok {
			return nil, fmt.Errorf("store: alias %q shadows a collection", legacy)
		}
	}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Codec returns the codec the store encodes with.
func (s *Store) Codec() *graph.Codec {
	return s.codec
}

// Collections returns the collection names in document order.
func (s *Store) Collections() []string {
	return slices.Clone(s.names)
}

// Load reads the document and replaces the in-memory state with it. An absent
// or empty document is initialized to empty collections and written. On
// error the previous state is kept.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	data, err := s.backend.Read(ctx)
	if errors.Is(err, ErrNoDocument) || (err == nil && len(bytes.TrimSpace(data)) == 0) {
		s.logger.Info("initializing empty document", zap.Strings("collections", s.names))
		prevCollections, prevIdentities := s.collections, s.identities
		s.collections = make(map[string][]entity.Entity, len(s.names))
		s.identities = graph.NewIdentityTable()
		if err := s.write(ctx); err != nil {
			s.collections, s.identities = prevCollections, prevIdentities
			return err
		}
		s.publishSizes()
		observability.RecordStoreLoad(time.Now().UTC())
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read document: %w", err)
	}

	collections, table, err := s.decode(data)
	if err != nil {
		return err
	}
	s.collections = collections
	s.identities = table
	s.publishSizes()
	observability.RecordStoreLoad(time.Now().UTC())
	s.logger.Info("document loaded",
		zap.Int("entities", table.Len()),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Store) decode(data []byte) (map[string][]entity.Entity, *graph.IdentityTable, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, &graph.MalformedDocumentError{Reason: "invalid JSON", Err: err}
	}

	for key := range raw {
		if !slices.Contains(s.names, key) {
			if _, ok := s.aliases[key]; !ok {
				s.logger.Warn("dropping unknown collection", zap.String("collection", key))
			}
		}
	}

	collections := make(map[string][]entity.Entity, len(s.names))
	table := graph.NewIdentityTable()
	for _, name := range s.names {
		seen := make(map[entity.ID]struct{})
		for _, key := range s.sourceKeys(name) {
			value, ok := raw[key]
			if !ok || value == nil {
				continue
			}
			list, ok := value.([]any)
			if !ok {
				return nil, nil, &graph.MalformedDocumentError{Path: key, Reason: fmt.Sprintf("expected a list, got %T", value)}
			}
			for i, node := range list {
				path := fmt.Sprintf("%s[%d]", key, i)
				decoded, err := s.codec.DecodeAt(path, node)
				if err != nil {
					return nil, nil, err
				}
				id := decoded.EntityID()
				if id.IsZero() {
					return nil, nil, &graph.MalformedDocumentError{Path: path + ".id", Reason: "missing id"}
				}
				canonical, err := graph.Adopt(decoded, table)
				if err != nil {
					return nil, nil, fmt.Errorf("store: resolve %s: %w", path, err)
				}
				if _, dup := seen[id]; dup {
					s.logger.Warn("skipping repeated record", zap.String("collection", name), zap.String("id", id.String()))
					continue
				}
				seen[id] = struct{}{}
				collections[name] = append(collections[name], canonical)
			}
		}
	}
	return collections, table, nil
}

// sourceKeys lists the top-level keys read into collection name.
func (s *Store) sourceKeys(name string) []string {
	keys := []string{name}
	var legacy []string
	for alias, current := range s.aliases {
		if current == name {
			legacy = append(legacy, alias)
		}
	}
	slices.Sort(legacy)
	return append(keys, legacy...)
}

// collection maps a collection name or alias to the collection name.
func (s *Store) collection(name string) (string, error) {
	if slices.Contains(s.names, name) {
		return name, nil
	}
	if current, ok := s.aliases[name]; ok {
		return current, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCollection, name)
}

// All returns the live canonical records of a collection in stored order.
// The slice is a copy; the records are not.
func (s *Store) All(collection string) ([]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.collections[name]), nil
}

// Snapshot returns deep copies of the records of a collection. Mutating them
// has no effect on the store until they are upserted.
func (s *Store) Snapshot(collection string) ([]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	records := s.collections[name]
	out := make([]entity.Entity, 0, len(records))
	table := graph.NewIdentityTable()
	for _, record := range records {
		doc, err := s.codec.Encode(record)
		if err != nil {
			return nil, err
		}
		decoded, err := s.codec.Decode(doc)
		if err != nil {
			return nil, err
		}
		clone, err := graph.Adopt(decoded, table)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

// Find returns the first live record of a collection accepted by match.
func (s *Store) Find(collection string, match func(entity.Entity) bool) (entity.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(collection, match)
}

func (s *Store) find(collection string, match func(entity.Entity) bool) (entity.Entity, bool) {
	name, err := s.collection(collection)
	if err != nil {
		return nil, false
	}
	for _, record := range s.collections[name] {
		if match(record) {
			return record, true
		}
	}
	return nil, false
}

// Get returns the canonical instance for id, whether it is a root record or
// nested in one.
func (s *Store) Get(id entity.ID) (entity.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identities.Lookup(id)
}

// Len returns the number of root records in a collection.
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.collection(collection)
	if err != nil {
		return 0
	}
	return len(s.collections[name])
}

// Save encodes and writes the whole store.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx)
}

// Encode returns the document the store would write.
func (s *Store) Encode() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encode()
}

func (s *Store) encode() ([]byte, error) {
	doc := graph.NewDocument()
	for _, name := range s.names {
		records := s.collections[name]
		list := make([]any, 0, len(records))
		for _, record := range records {
			encoded, err := s.codec.Encode(record)
			if err != nil {
				return nil, fmt.Errorf("store: encode %s: %w", name, err)
			}
			list = append(list, encoded)
		}
		doc.Set(name, list)
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("store: marshal document: %w", err)
	}
	return append(data, '\n'), nil
}

func (s *Store) write(ctx context.Context) error {
	start := time.Now()
	data, err := s.encode()
	if err != nil {
		return err
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("store: write document: %w", err)
	}
	observability.RecordStoreSave(time.Now().UTC(), time.Since(start))
	s.logger.Debug("document written", zap.Int("bytes", len(data)))
	return nil
}

func (s *Store) publishSizes() {
	for _, name := range s.names {
		observability.SetCollectionSize(name, len(s.collections[name]))
	}
}

// AllOf returns the live records of a collection that are of type T.
func AllOf[T entity.Entity](s *Store, collection string) ([]T, error) {
	records, err := s.All(collection)
	if err != nil {
		return nil, err
	}
	return filter[T](records), nil
}

// SnapshotOf returns deep copies of the records of a collection that are of type T.
func SnapshotOf[T entity.Entity](s *Store, collection string) ([]T, error) {
	records, err := s.Snapshot(collection)
	if err != nil {
		return nil, err
	}
	return filter[T](records), nil
}

// Finder is implemented by *Store and Tx.
type Finder interface {
	Find(collection string, match func(entity.Entity) bool) (entity.Entity, bool)
}

// FindOf returns the first live record of type T in a collection accepted by match.
func FindOf[T entity.Entity](f Finder, collection string, match func(T) bool) (T, bool) {
	found, ok := f.Find(collection, func(e entity.Entity) bool {
		typed, ok := e.(T)
		return ok && match(typed)
	})
	if !ok {
		var zero T
		return zero, false
	}
	return found.(T), true
}

func filter[T entity.Entity](records []entity.Entity) []T {
	out := make([]T, 0, len(records))
	for _, record := range records {
		if typed, ok := record.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
