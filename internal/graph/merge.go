package graph

import (
	"github.com/reminator329/trainingbook/internal/entity"
)

// Changes records what a Merge did to an identity table so it can be undone.
type Changes struct {
	// Inserted lists ids that were unknown before the merge.
	Inserted []entity.ID
	// Displaced holds the previous canonical instance of every replaced id.
	Displaced map[entity.ID]entity.Entity
}

// Replacements maps every displaced id to its new canonical instance in table.
func (c *Changes) Replacements(table *IdentityTable) map[entity.ID]entity.Entity {
	out := make(map[entity.ID]entity.Entity, len(c.Displaced))
	for id := range c.Displaced {
		if current, ok := table.Lookup(id); ok {
			out[id] = current
		}
	}
	return out
}

// Revert undoes the table side of the merge.
func (c *Changes) Revert(table *IdentityTable) {
	for _, prev := range c.Displaced {
		table.Replace(prev)
	}
	for _, id := range c.Inserted {
		table.Remove(id)
	}
}

// Merge reconciles a record about to be upserted with the canonical graph.
// e and every record it owns replace their canonical counterparts; records
// reached through shared references converge on the canonical instance.
// Records without an id are given one.
func Merge(e entity.Entity, table *IdentityTable) (*Changes, error) {
	m := merger{
		table:   table,
		changes: &Changes{Displaced: make(map[entity.ID]entity.Entity)},
		active:  make(map[entity.Entity]struct{}),
	}
	if err := m.own(e); err != nil {
		m.changes.Revert(table)
		return nil, err
	}
	if err := m.merge(e); err != nil {
		m.changes.Revert(table)
		return nil, err
	}
	return m.changes, nil
}

type merger struct {
	table   *IdentityTable
	changes *Changes
	active  map[entity.Entity]struct{}
}

// own makes e canonical for its id.
func (m *merger) own(e entity.Entity) error {
	id := entity.EnsureID(e)
	prev, ok := m.table.Lookup(id)
	switch {
	case !ok:
		m.table.Insert(e)
		m.changes.Inserted = append(m.changes.Inserted, id)
	case prev != e:
		if err := checkSameType(prev, e); err != nil {
			return err
		}
		m.table.Replace(e)
		if _, seen := m.changes.Displaced[id]; !seen && !m.inserted(id) {
			m.changes.Displaced[id] = prev
		}
	}
	return nil
}

func (m *merger) inserted(id entity.ID) bool {
	for _, ins := range m.changes.Inserted {
		if ins == id {
			return true
		}
	}
	return false
}

func (m *merger) merge(e entity.Entity) error {
	if _, busy := m.active[e]; busy {
		return nil
	}
	m.active[e] = struct{}{}
	defer delete(m.active, e)

	return eachSlot(e, func(s slot) error {
		child := s.get()
		if child == nil {
			return nil
		}
		id := entity.EnsureID(child)
		if s.shared {
			if canonical, ok := m.table.Lookup(id); ok {
				if canonical == child {
					return nil
				}
				if err := checkSlot(s, canonical, child); err != nil {
					return err
				}
				s.set(canonical)
				return nil
			}
			if err := m.own(child); err != nil {
				return err
			}
			return m.merge(child)
		}
		if err := m.own(child); err != nil {
			return err
		}
		return m.merge(child)
	})
}

// Rebind re-points every record reachable from root whose id is a key of
// replacements at the replacement instance. It reports whether anything changed.
func Rebind(root entity.Entity, replacements map[entity.ID]entity.Entity) bool {
	if len(replacements) == 0 {
		return false
	}
	b := rebinder{replacements: replacements, seen: make(map[entity.Entity]struct{})}
	b.walk(root)
	return b.changed
}

type rebinder struct {
	replacements map[entity.ID]entity.Entity
	seen         map[entity.Entity]struct{}
	changed      bool
}

func (b *rebinder) walk(e entity.Entity) {
	if _, ok := b.seen[e]; ok {
		return
	}
	b.seen[e] = struct{}{}
	_ = eachSlot(e, func(s slot) error {
		child := s.get()
		if child == nil {
			return nil
		}
		if next, ok := b.replacements[child.EntityID()]; ok && next != child && s.accepts(next) {
			s.set(next)
			b.changed = true
			child = next
		}
		b.walk(child)
		return nil
	})
}
