// Package graph converts record graphs to tagged documents and back, and
// converges decoded duplicates onto canonical instances.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/reminator329/trainingbook/internal/entity"
)

// Document is a tagged record: an insertion-ordered map whose values are
// primitives, nested *Document values and []any lists.
type Document = orderedmap.OrderedMap[string, any]

// NewDocument returns an empty document.
func NewDocument() *Document {
	return orderedmap.New[string, any]()
}

// Option configures a Codec.
type Option func(*Codec)

// WithDisallowUnknownFields makes Decode fail on keys that match no field.
func WithDisallowUnknownFields() Option {
	return func(c *Codec) {
		c.disallowUnknown = true
	}
}

// Codec encodes and decodes records of the types known to its registry.
type Codec struct {
	registry        *entity.Registry
	disallowUnknown bool
}

// NewCodec constructs a Codec over registry.
func NewCodec(registry *entity.Registry, opts ...Option) *Codec {
	c := &Codec{registry: registry}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the type registry backing the codec.
func (c *Codec) Registry() *entity.Registry {
	return c.registry
}

// Encode converts e and everything it references into a tagged document.
// Referenced records are inlined in full.
func (c *Codec) Encode(e entity.Entity) (*Document, error) {
	return c.encodeRecord(e, "", make(map[entity.Entity]struct{}))
}

func (c *Codec) encodeRecord(e entity.Entity, path string, active map[entity.Entity]struct{}) (*Document, error) {
	if _, busy := active[e]; busy {
		return nil, fmt.Errorf("%w at %s", ErrCycle, pathOrRoot(path))
	}
	tag, err := c.registry.TagOf(e)
	if err != nil {
		return nil, fmt.Errorf("graph: encode %s: %w", pathOrRoot(path), err)
	}
	active[e] = struct{}{}
	defer delete(active, e)

	doc := NewDocument()
	doc.Set(ClassKey, tag.Class)
	doc.Set(ModuleKey, tag.Module)

	v := reflect.ValueOf(e).Elem()
	for _, f := range fieldsOf(v.Type()) {
		value, err := c.encodeValue(v.FieldByIndex(f.index), joinPath(path, f.name), active)
		if err != nil {
			return nil, err
		}
		doc.Set(f.name, value)
	}
	return doc, nil
}

func (c *Codec) encodeValue(v reflect.Value, path string, active map[entity.Entity]struct{}) (any, error) {
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return nil, nil
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		if e, ok := v.Interface().(entity.Entity); ok {
			return c.encodeRecord(e, path, active)
		}
		return c.encodeValue(v.Elem(), path, active)
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			item, err := c.encodeValue(v.Index(i), indexPath(path, i), active)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("graph: encode %s: unsupported kind %s", pathOrRoot(path), v.Kind())
	}
}

// Decode rebuilds a record from a tagged document, either a *Document or a
// parsed JSON object. Field values are assigned directly; no constructor runs.
func (c *Codec) Decode(node any) (entity.Entity, error) {
	return c.DecodeAt("", node)
}

// DecodeAt is Decode with path prefixed to error locations.
func (c *Codec) DecodeAt(path string, node any) (entity.Entity, error) {
	obj, ok := asObject(node)
	if !ok {
		return nil, malformed(path, fmt.Sprintf("expected a tagged record, got %T", node), nil)
	}
	return c.decodeRecord(obj, path)
}

func (c *Codec) decodeRecord(obj map[string]any, path string) (entity.Entity, error) {
	class, _ := obj[ClassKey].(string)
	if strings.TrimSpace(class) == "" {
		return nil, malformed(path, "missing "+ClassKey, nil)
	}
	module, _ := obj[ModuleKey].(string)
	tag := entity.Tag{Class: class, Module: module}

	e, err := c.registry.New(tag)
	if err != nil {
		return nil, malformed(path, "unregistered type tag "+tag.String(), err)
	}

	v := reflect.ValueOf(e).Elem()
	fields := fieldsOf(v.Type())
	for _, f := range fields {
		raw, key, ok := f.lookup(obj)
		if !ok {
			continue
		}
		if err := c.decodeValue(v.FieldByIndex(f.index), raw, joinPath(path, key)); err != nil {
			return nil, err
		}
	}

	if c.disallowUnknown {
		known := make(map[string]struct{}, len(fields)+2)
		known[ClassKey], known[ModuleKey] = struct{}{}, struct{}{}
		for _, f := range fields {
			known[f.name] = struct{}{}
			for _, alias := range f.aliases {
				known[alias] = struct{}{}
			}
		}
		for key := range obj {
			if _, ok := known[key]; !ok {
				return nil, malformed(joinPath(path, key), "unknown field", nil)
			}
		}
	}
	return e, nil
}

func (c *Codec) decodeValue(dst reflect.Value, raw any, path string) error {
	if raw == nil {
		dst.SetZero()
		return nil
	}
	if dst.Type() == timeType {
		t, err := parseTime(raw)
		if err != nil {
			return malformed(path, "invalid timestamp", err)
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	switch dst.Kind() {
	case reflect.Pointer, reflect.Interface:
		if isEntityType(dst.Type()) {
			return c.decodeChild(dst, raw, path)
		}
		if dst.Kind() == reflect.Interface {
			rv := reflect.ValueOf(raw)
			if !rv.Type().AssignableTo(dst.Type()) {
				return malformed(path, fmt.Sprintf("cannot assign %T", raw), nil)
			}
			dst.Set(rv)
			return nil
		}
		elem := reflect.New(dst.Type().Elem())
		if err := c.decodeValue(elem.Elem(), raw, path); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case reflect.Slice:
		list, ok := raw.([]any)
		if !ok {
			return malformed(path, fmt.Sprintf("expected a list, got %T", raw), nil)
		}
		if len(list) == 0 {
			dst.SetZero()
			return nil
		}
		out := reflect.MakeSlice(dst.Type(), len(list), len(list))
		for i, item := range list {
			if err := c.decodeValue(out.Index(i), item, indexPath(path, i)); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.String:
		s, err := toString(raw)
		if err != nil {
			return malformed(path, "invalid string", err)
		}
		dst.SetString(s)
		return nil
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return malformed(path, fmt.Sprintf("expected a boolean, got %T", raw), nil)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(raw)
		if err == nil && dst.OverflowInt(n) {
			err = errors.New("value out of range")
		}
		if err != nil {
			return malformed(path, "invalid integer", err)
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt(raw)
		if err == nil && (n < 0 || dst.OverflowUint(uint64(n))) {
			err = errors.New("value out of range")
		}
		if err != nil {
			return malformed(path, "invalid unsigned integer", err)
		}
		dst.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(raw)
		if err == nil && dst.OverflowFloat(f) {
			err = errors.New("value out of range")
		}
		if err != nil {
			return malformed(path, "invalid number", err)
		}
		dst.SetFloat(f)
		return nil
	default:
		return malformed(path, "unsupported field kind "+dst.Kind().String(), nil)
	}
}

func (c *Codec) decodeChild(dst reflect.Value, raw any, path string) error {
	obj, ok := asObject(raw)
	if !ok {
		return malformed(path, fmt.Sprintf("expected a tagged record, got %T", raw), nil)
	}
	child, err := c.decodeRecord(obj, path)
	if err != nil {
		return err
	}
	cv := reflect.ValueOf(child)
	if !cv.Type().AssignableTo(dst.Type()) {
		return malformed(path, fmt.Sprintf("record %s does not fit field of type %s", cv.Type(), dst.Type()), nil)
	}
	dst.Set(cv)
	return nil
}

// Clone returns a deep copy of e. Records shared inside e stay shared in the copy.
func (c *Codec) Clone(e entity.Entity) (entity.Entity, error) {
	doc, err := c.Encode(e)
	if err != nil {
		return nil, err
	}
	out, err := c.Decode(doc)
	if err != nil {
		return nil, err
	}
	return Adopt(out, NewIdentityTable())
}

// CloneOf is Clone for a concrete record type.
func CloneOf[T entity.Entity](c *Codec, e T) (T, error) {
	var zero T
	out, err := c.Clone(e)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("graph: clone produced %T, want %T", out, zero)
	}
	return typed, nil
}

func asObject(node any) (map[string]any, bool) {
	switch n := node.(type) {
	case map[string]any:
		return n, true
	case *Document:
		if n == nil {
			return nil, false
		}
		out := make(map[string]any, n.Len())
		for pair := n.Oldest(); pair != nil; pair = pair.Next() {
			out[pair.Key] = pair.Value
		}
		return out, true
	default:
		return nil, false
	}
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", fmt.Errorf("unexpected %T", raw)
	}
}

func toInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, errors.New("value out of range")
		}
		return int64(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return integral(f)
	case float64:
		return integral(v)
	default:
		return 0, fmt.Errorf("unexpected %T", raw)
	}
}

func integral(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("unexpected %T", raw)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

func parseTime(raw any) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected %T", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func pathOrRoot(path string) string {
	if path == "" {
		return "record"
	}
	return path
}
