package graph

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/reminator329/trainingbook/internal/entity"
)

const (
	// ClassKey holds the record class in a tagged document.
	ClassKey = "_class"
	// ModuleKey holds the record module in a tagged document.
	ModuleKey = "_module"

	fieldTag = "doc"
	refOpt   = "ref"
	aliasOpt = "alias="
)

var (
	entityType = reflect.TypeFor[entity.Entity]()
	timeType   = reflect.TypeFor[time.Time]()

	fieldCache sync.Map // reflect.Type -> []field
)

// field is one persisted struct field. Aliases are older key names that
// decode into the field; encoding always writes name.
type field struct {
	name    string
	aliases []string
	index   []int
	typ     reflect.Type
	shared  bool
}

// fieldsOf lists the persisted fields of struct type t: embedded structs are
// flattened in place, and id always comes first.
func fieldsOf(t reflect.Type) []field {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]field)
	}
	fields := collectFields(t, nil)
	for i, f := range fields {
		if f.name == "id" && i > 0 {
			copy(fields[1:i+1], fields[:i])
			fields[0] = f
			break
		}
	}
	actual, _ := fieldCache.LoadOrStore(t, fields)
	return actual.([]field)
}

func collectFields(t reflect.Type, prefix []int) []field {
	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		tag, tagged := sf.Tag.Lookup(fieldTag)
		if sf.Anonymous && !tagged && sf.Type.Kind() == reflect.Struct {
			out = append(out, collectFields(sf.Type, index)...)
			continue
		}
		if !tagged || tag == "-" || !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}
		out = append(out, field{
			name:    name,
			aliases: aliasesOf(opts),
			index:   index,
			typ:     sf.Type,
			shared:  hasOption(opts, refOpt),
		})
	}
	return out
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if strings.TrimSpace(opt) == want {
			return true
		}
	}
	return false
}

// aliasesOf returns the values of every alias=name option, in tag order.
func aliasesOf(opts string) []string {
	var out []string
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if alias, ok := strings.CutPrefix(strings.TrimSpace(opt), aliasOpt); ok && alias != "" {
			out = append(out, alias)
		}
	}
	return out
}

// lookup returns the value stored under the field name, or under the first
// alias present in obj.
func (f field) lookup(obj map[string]any) (any, string, bool) {
	if raw, ok := obj[f.name]; ok {
		return raw, f.name, true
	}
	for _, alias := range f.aliases {
		if raw, ok := obj[alias]; ok {
			return raw, alias, true
		}
	}
	return nil, "", false
}

func isEntityType(t reflect.Type) bool {
	return (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && t.Implements(entityType)
}

// slot is a settable location holding an entity: a struct field or a slice element.
type slot struct {
	value  reflect.Value
	shared bool
}

func (s slot) get() entity.Entity {
	if s.value.IsNil() {
		return nil
	}
	return s.value.Interface().(entity.Entity)
}

func (s slot) accepts(e entity.Entity) bool {
	return reflect.TypeOf(e).AssignableTo(s.value.Type())
}

func (s slot) set(e entity.Entity) {
	s.value.Set(reflect.ValueOf(e))
}

// eachSlot calls fn for every entity-valued location directly held by e.
func eachSlot(e entity.Entity, fn func(slot) error) error {
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return nil
	}
	for _, f := range fieldsOf(v.Type()) {
		fv := v.FieldByIndex(f.index)
		switch {
		case isEntityType(f.typ):
			if err := fn(slot{value: fv, shared: f.shared}); err != nil {
				return err
			}
		case f.typ.Kind() == reflect.Slice && isEntityType(f.typ.Elem()):
			for i := 0; i < fv.Len(); i++ {
				if err := fn(slot{value: fv.Index(i), shared: f.shared}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
