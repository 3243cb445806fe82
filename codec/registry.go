package codec

import (
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Registry maps wire type names to Go types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// DefaultRegistry is used by codecs created without WithRegistry.
var DefaultRegistry = NewRegistry()

// Register adds the dynamic types of values to DefaultRegistry.
func Register(values ...any) { DefaultRegistry.Register(values...) }

// NewRegistry returns a registry preloaded with builtin scalar types, their
// slices and string-keyed maps, time.Time, []any and map[string]any.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]reflect.Type)}
	r.Register(
		false, "", 0, int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0), time.Time{},
		[]any(nil), map[string]any(nil),
	)
	return r
}

// Register adds the dynamic type of each value together with its pointer,
// slice and string-keyed map shapes.
func (r *Registry) Register(values ...any) {
	for _, v := range values {
		if v == nil {
			continue
		}
		t := reflect.TypeOf(v)
		r.add(t)
		r.add(reflect.PointerTo(t))
		r.add(reflect.SliceOf(t))
		r.add(reflect.MapOf(stringType, t))
		if t.Kind() != reflect.Pointer {
			r.add(reflect.SliceOf(reflect.PointerTo(t)))
			r.add(reflect.MapOf(stringType, reflect.PointerTo(t)))
		}
	}
}

// Lookup resolves a wire type name.
func (r *Registry) Lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	return t, ok
}

// add registers t and returns its wire name.
func (r *Registry) add(t reflect.Type) string {
	name := TypeName(t)
	r.mu.RLock()
	_, ok := r.types[name]
	r.mu.RUnlock()
	if ok {
		return name
	}
	r.mu.Lock()
	if _, ok := r.types[name]; !ok {
		r.types[name] = t
	}
	r.mu.Unlock()
	return name
}

// TypeName returns the wire name of t. Named types are qualified with their
// full import path so that equally named types from different packages never
// collide.
func TypeName(t reflect.Type) string {
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		return t.PkgPath() + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + TypeName(t.Elem())
	case reflect.Slice:
		return "[]" + TypeName(t.Elem())
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), TypeName(t.Elem()))
	case reflect.Map:
		return "map[" + TypeName(t.Key()) + "]" + TypeName(t.Elem())
	default:
		return t.String()
	}
}
