package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/reminator329/trainingbook/internal/entity"
	"github.com/reminator329/trainingbook/internal/graph"
	"github.com/reminator329/trainingbook/internal/observability"
)

// Tx is the view of the store inside Transact.
type Tx interface {
	// Upsert replaces the record with e's id in collection, or appends e.
	Upsert(collection string, e entity.Entity) error
	// Find returns the first live record of collection accepted by match.
	Find(collection string, match func(entity.Entity) bool) (entity.Entity, bool)
	// Get returns the canonical instance for id.
	Get(id entity.ID) (entity.Entity, bool)
}

type upserted struct {
	collection string
	record     entity.Entity
	replaced   bool
}

type tx struct {
	s       *Store
	saved   map[string][]entity.Entity
	changes []*graph.Changes
	done    []upserted
}

// Upsert stores e in collection and writes the whole document.
func (s *Store) Upsert(ctx context.Context, collection string, e entity.Entity) error {
	return s.Transact(ctx, func(tx Tx) error {
		return tx.Upsert(collection, e)
	})
}

// Transact runs fn and then writes the document once. When fn or the write
// fails, every in-memory change made through the Tx is rolled back and the
// error is returned. Listeners are notified after a successful write with
// copies of the upserted records.
func (s *Store) Transact(ctx context.Context, fn func(Tx) error) error {
	done, err := s.transact(ctx, fn)
	if err != nil {
		return err
	}
	for _, u := range done {
		observability.RecordUpsert(u.collection, u.replaced)
		for _, l := range s.listeners {
			if err := l.Upserted(ctx, u.collection, u.record); err != nil {
				s.logger.Warn("upsert listener failed",
					zap.String("collection", u.collection),
					zap.String("id", u.record.EntityID().String()),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Store) transact(ctx context.Context, fn func(Tx) error) ([]upserted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s, saved: make(map[string][]entity.Entity, len(s.collections))}
	for name, records := range s.collections {
		t.saved[name] = slices.Clone(records)
	}

	if err := fn(t); err != nil {
		t.rollback()
		return nil, err
	}
	if len(t.done) == 0 {
		return nil, nil
	}
	if err := s.write(ctx); err != nil {
		t.rollback()
		return nil, err
	}
	s.publishSizes()
	if len(s.listeners) > 0 {
		for i, u := range t.done {
			clone, err := s.codec.Clone(u.record)
			if err != nil {
				s.logger.Warn("copy record for listeners", zap.String("id", u.record.EntityID().String()), zap.Error(err))
				continue
			}
			t.done[i].record = clone
		}
	}
	return t.done, nil
}

func (t *tx) Upsert(collection string, e entity.Entity) error {
	s := t.s
	name, err := s.collection(collection)
	if err != nil {
		return err
	}
	if e == nil {
		return errors.New("store: cannot upsert nil record")
	}
	if _, err := s.codec.Registry().TagOf(e); err != nil {
		return fmt.Errorf("store: upsert into %s: %w", name, err)
	}

	id := entity.EnsureID(e)
	records := s.collections[name]
	idx := slices.IndexFunc(records, func(r entity.Entity) bool {
		return r.EntityID() == id
	})
	if idx >= 0 {
		e.SetEntityID(records[idx].EntityID())
	}

	changes, err := graph.Merge(e, s.identities)
	if err != nil {
		return fmt.Errorf("store: upsert into %s: %w", name, err)
	}
	t.changes = append(t.changes, changes)

	if idx >= 0 {
		records = slices.Delete(records, idx, idx+1)
	}
	s.collections[name] = append(records, e)
	s.rebindAll(changes.Replacements(s.identities))

	t.done = append(t.done, upserted{collection: name, record: e, replaced: idx >= 0})
	s.logger.Debug("record upserted",
		zap.String("collection", name),
		zap.String("id", id.String()),
		zap.Bool("replaced", idx >= 0))
	return nil
}

func (t *tx) Find(collection string, match func(entity.Entity) bool) (entity.Entity, bool) {
	return t.s.find(collection, match)
}

func (t *tx) Get(id entity.ID) (entity.Entity, bool) {
	return t.s.identities.Lookup(id)
}

func (t *tx) rollback() {
	s := t.s
	if len(t.changes) == 0 && len(t.done) == 0 {
		return
	}
	for i := len(t.changes) - 1; i >= 0; i-- {
		t.changes[i].Revert(s.identities)
	}

	inserted := make(map[entity.ID]struct{})
	for _, c := range t.changes {
		for _, id := range c.Inserted {
			inserted[id] = struct{}{}
		}
	}
	restore := make(map[entity.ID]entity.Entity)
	for _, c := range t.changes {
		for id, prev := range c.Displaced {
			if _, ok := inserted[id]; ok {
				continue
			}
			if _, ok := restore[id]; !ok {
				restore[id] = prev
			}
		}
	}

	s.collections = t.saved
	s.rebindAll(restore)
	observability.RecordRollback()
	s.logger.Info("transaction rolled back", zap.Int("upserts", len(t.done)))
}

// rebindAll points every root and every reference at the instances in replacements.
func (s *Store) rebindAll(replacements map[entity.ID]entity.Entity) {
	if len(replacements) == 0 {
		return
	}
	for _, name := range s.names {
		records := s.collections[name]
		for i, root := range records {
			if next, ok := replacements[root.EntityID()]; ok && next != root {
				records[i] = next
			}
			graph.Rebind(records[i], replacements)
		}
	}
}
