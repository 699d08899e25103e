package graph

import (
	"fmt"
	"reflect"

	"github.com/reminator329/trainingbook/internal/entity"
)

// IdentityTable maps ids to their canonical instance. It is not safe for
// concurrent use; the store serializes access to it.
type IdentityTable struct {
	entries map[entity.ID]entity.Entity
}

// NewIdentityTable returns an empty table.
func NewIdentityTable() *IdentityTable {
	return &IdentityTable{entries: make(map[entity.ID]entity.Entity)}
}

// Lookup returns the canonical instance for id.
func (t *IdentityTable) Lookup(id entity.ID) (entity.Entity, bool) {
	e, ok := t.entries[id]
	return e, ok
}

// Insert registers e as canonical unless its id is already taken.
func (t *IdentityTable) Insert(e entity.Entity) bool {
	id := e.EntityID()
	if _, ok := t.entries[id]; ok {
		return false
	}
	t.entries[id] = e
	return true
}

// Replace makes e canonical for its id and returns the instance it displaced.
func (t *IdentityTable) Replace(e entity.Entity) (entity.Entity, bool) {
	id := e.EntityID()
	prev, ok := t.entries[id]
	t.entries[id] = e
	return prev, ok
}

// Remove forgets id.
func (t *IdentityTable) Remove(id entity.ID) {
	delete(t.entries, id)
}

// Len returns the number of canonical instances.
func (t *IdentityTable) Len() int {
	return len(t.entries)
}

// Resolve walks e depth-first and replaces every referenced record whose id
// is already canonical with the canonical instance. Records seen for the
// first time are resolved in turn and become canonical. e itself is not
// inserted; see Adopt.
func Resolve(e entity.Entity, table *IdentityTable) error {
	r := resolver{table: table, active: make(map[entity.Entity]struct{})}
	return r.resolve(e)
}

// Adopt returns the canonical instance for a root record: the one already in
// table when e's id is known, otherwise e after it has been resolved and
// inserted.
func Adopt(e entity.Entity, table *IdentityTable) (entity.Entity, error) {
	id := e.EntityID()
	if !id.IsZero() {
		if canonical, ok := table.Lookup(id); ok {
			if err := checkSameType(canonical, e); err != nil {
				return nil, err
			}
			return canonical, nil
		}
	}
	if err := Resolve(e, table); err != nil {
		return nil, err
	}
	if !id.IsZero() {
		if canonical, ok := table.Lookup(id); ok && canonical != e {
			// e was reached through its own references and became canonical there.
			return canonical, nil
		}
		table.Insert(e)
	}
	return e, nil
}

type resolver struct {
	table  *IdentityTable
	active map[entity.Entity]struct{}
}

func (r *resolver) resolve(e entity.Entity) error {
	r.active[e] = struct{}{}
	defer delete(r.active, e)

	return eachSlot(e, func(s slot) error {
		child := s.get()
		if child == nil {
			return nil
		}
		if _, busy := r.active[child]; busy {
			return nil
		}
		id := child.EntityID()
		if !id.IsZero() {
			if canonical, ok := r.table.Lookup(id); ok {
				if canonical == child {
					return nil
				}
				if err := checkSlot(s, canonical, child); err != nil {
					return err
				}
				s.set(canonical)
				return nil
			}
		}
		if err := r.resolve(child); err != nil {
			return err
		}
		if !id.IsZero() {
			r.table.Insert(child)
		}
		return nil
	})
}

func checkSameType(canonical, e entity.Entity) error {
	if reflect.TypeOf(canonical) != reflect.TypeOf(e) {
		return fmt.Errorf("%w: id %s is a %T and a %T", ErrIdentityConflict, e.EntityID(), canonical, e)
	}
	return nil
}

func checkSlot(s slot, canonical, child entity.Entity) error {
	if err := checkSameType(canonical, child); err != nil {
		return err
	}
	if !s.accepts(canonical) {
		return fmt.Errorf("%w: %T does not fit %s", ErrIdentityConflict, canonical, s.value.Type())
	}
	return nil
}
