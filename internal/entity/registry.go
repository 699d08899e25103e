package entity

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrUnknownTag is returned when no type is registered for a tag.
	ErrUnknownTag = errors.New("entity: unknown type tag")
	// ErrUnregisteredType is returned when a value's Go type has no tag.
	ErrUnregisteredType = errors.New("entity: unregistered type")
)

// Tag identifies a record type in persisted documents. Module namespaces the
// class name so equally named types in different modules never collide.
type Tag struct {
	Class  string
	Module string
}

func (t Tag) String() string {
	if t.Module == "" {
		return t.Class
	}
	return t.Module + "." + t.Class
}

// IsZero reports whether the tag has no class.
func (t Tag) IsZero() bool {
	return t.Class == ""
}

type registration struct {
	tag     Tag
	typ     reflect.Type
	factory func() Entity
}

// Registry maps tags to factories producing zero-valued records, and Go types
// back to their tag. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byTag   map[Tag]*registration
	byType  map[reflect.Type]*registration
	aliases map[Tag]Tag
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTag:   make(map[Tag]*registration),
		byType:  make(map[reflect.Type]*registration),
		aliases: make(map[Tag]Tag),
	}
}

// Register binds tag to the record type T. Records are always handled through
// *T, which must implement Entity.
func Register[T any, P interface {
	*T
	Entity
}](r *Registry, tag Tag) error {
	if r == nil {
		return errors.New("entity: registry is nil")
	}
	if strings.TrimSpace(tag.Class) == "" {
		return errors.New("entity: tag class required")
	}
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		return fmt.Errorf("entity: %s is not a struct type", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byTag[tag]; ok {
		return fmt.Errorf("entity: tag %s already registered to %s", tag, existing.typ)
	}
	if _, ok := r.aliases[tag]; ok {
		return fmt.Errorf("entity: tag %s already registered as alias", tag)
	}
	if existing, ok := r.byType[typ]; ok {
		return fmt.Errorf("entity: type %s already registered as %s", typ, existing.tag)
	}
	reg := &registration{
		tag: tag,
		typ: typ,
		factory: func() Entity {
			return P(new(T))
		},
	}
	r.byTag[tag] = reg
	r.byType[typ] = reg
	return nil
}

// MustRegister is Register that panics on error, for package-level setup.
func MustRegister[T any, P interface {
	*T
	Entity
}](r *Registry, tag Tag) {
	if err := Register[T, P](r, tag); err != nil {
		panic(err)
	}
}

// Alias lets documents written with legacy decode into the type registered as
// current. Encoding keeps writing current.
func (r *Registry) Alias(legacy, current Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byTag[current]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTag, current)
	}
	if _, ok := r.byTag[legacy]; ok {
		return fmt.Errorf("entity: alias %s shadows a registered tag", legacy)
	}
	if existing, ok := r.aliases[legacy]; ok && existing != current {
		return fmt.Errorf("entity: alias %s already points at %s", legacy, existing)
	}
	r.aliases[legacy] = current
	return nil
}

// Resolve returns the current tag for tag, following an alias if needed.
func (r *Registry) Resolve(tag Tag) (Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.lookup(tag)
	if !ok {
		return Tag{}, false
	}
	return reg.tag, true
}

// New returns a zero-valued record for tag. No constructor logic runs.
func (r *Registry) New(tag Tag) (Entity, error) {
	r.mu.RLock()
	reg, ok := r.lookup(tag)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	return reg.factory(), nil
}

// TagOf returns the tag registered for the dynamic type of e.
func (r *Registry) TagOf(e Entity) (Tag, error) {
	typ := reflect.TypeOf(e)
	if typ == nil {
		return Tag{}, fmt.Errorf("%w: nil", ErrUnregisteredType)
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return r.TagOfType(typ)
}

// TagOfType returns the tag registered for the struct type typ.
func (r *Registry) TagOfType(typ reflect.Type) (Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byType[typ]
	if !ok {
		return Tag{}, fmt.Errorf("%w: %s", ErrUnregisteredType, typ)
	}
	return reg.tag, nil
}

// Type returns the struct type registered under tag.
func (r *Registry) Type(tag Tag) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.lookup(tag)
	if !ok {
		return nil, false
	}
	return reg.typ, true
}

// Tags lists registered tags (aliases excluded), sorted by module then class.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tag, 0, len(r.byTag))
	for tag := range r.byTag {
		out = append(out, tag)
	}
	slices.SortFunc(out, func(a, b Tag) int {
		if c := strings.Compare(a.Module, b.Module); c != 0 {
			return c
		}
		return strings.Compare(a.Class, b.Class)
	})
	return out
}

func (r *Registry) lookup(tag Tag) (*registration, bool) {
	if reg, ok := r.byTag[tag]; ok {
		return reg, true
	}
	if current, ok := r.aliases[tag]; ok {
		reg, ok := r.byTag[current]
		return reg, ok
	}
	return nil, false
}
