package codec

import (
	"encoding"
	"errors"
	"fmt"
	"math"
	"reflect"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

const (
	kindNil uint8 = iota
	kindScalar
	kindBytes
	kindBinary
	kindProto
	kindPtr
	kindSlice
	kindArray
	kindMap
	kindStruct
	kindDynamic
)

// node is one vertex of the encoded value graph.
type node struct {
	Kind   uint8            `msgpack:"k" cbor:"k"`
	Type   string           `msgpack:"t,omitempty" cbor:"t,omitempty"`
	Scalar any              `msgpack:"v,omitempty" cbor:"v,omitempty"`
	Ref    int              `msgpack:"r,omitempty" cbor:"r,omitempty"` // 1-based index into envelope.Refs
	Elems  []*node          `msgpack:"e,omitempty" cbor:"e,omitempty"`
	Keys   []*node          `msgpack:"m,omitempty" cbor:"m,omitempty"`
	Fields map[string]*node `msgpack:"f,omitempty" cbor:"f,omitempty"`
}

type envelope struct {
	Root *node   `msgpack:"root" cbor:"root"`
	Refs []*node `msgpack:"refs,omitempty" cbor:"refs,omitempty"`
}

var (
	stringType            = reflect.TypeOf("")
	protoMessageType      = reflect.TypeOf((*proto.Message)(nil)).Elem()
	binaryMarshalerType   = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalerType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()

	errUnsupported = errors.New("unsupported type")
	errMismatch    = errors.New("type mismatch")
	errUnknownType = errors.New("unknown type name")
	errBadRef      = errors.New("dangling reference")
)

type refKey struct {
	ptr uintptr
	typ reflect.Type
}

type encoder struct {
	registry *Registry
	seen     map[refKey]int
	refs     []*node
}

func newEncoder(r *Registry) *encoder {
	return &encoder{registry: r, seen: make(map[refKey]int)}
}

// encodeDynamic encodes rv at a position whose static type is an interface,
// so the dynamic type name travels with the value.
func (e *encoder) encodeDynamic(rv reflect.Value) (*node, error) {
	if !rv.IsValid() {
		return &node{Kind: kindNil}, nil
	}
	t := rv.Type()
	if t.Implements(protoMessageType) {
		return e.encodeProto(rv)
	}
	inner, err := e.encode(rv)
	if err != nil {
		return nil, err
	}
	return &node{Kind: kindDynamic, Type: e.registry.add(t), Elems: []*node{inner}}, nil
}

func (e *encoder) encode(rv reflect.Value) (*node, error) {
	t := rv.Type()
	if isBinary(t) {
		b, err := rv.Interface().(encoding.BinaryMarshaler).MarshalBinary()
		if err != nil {
			return nil, err
		}
		return &node{Kind: kindBinary, Scalar: b}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return &node{Kind: kindScalar, Scalar: rv.Bool()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &node{Kind: kindScalar, Scalar: rv.Int()}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return &node{Kind: kindScalar, Scalar: rv.Uint()}, nil
	case reflect.Float32, reflect.Float64:
		return &node{Kind: kindScalar, Scalar: rv.Float()}, nil
	case reflect.String:
		return &node{Kind: kindScalar, Scalar: rv.String()}, nil

	case reflect.Interface:
		if rv.IsNil() {
			return &node{Kind: kindNil}, nil
		}
		return e.encodeDynamic(rv.Elem())

	case reflect.Pointer:
		if rv.IsNil() {
			return &node{Kind: kindNil}, nil
		}
		if t.Implements(protoMessageType) {
			return e.encodeProto(rv)
		}
		key := refKey{ptr: rv.Pointer(), typ: t}
		if id, ok := e.seen[key]; ok {
			return &node{Kind: kindPtr, Ref: id}, nil
		}
		// Reserve the slot before descending so cycles resolve to it.
		e.refs = append(e.refs, nil)
		id := len(e.refs)
		e.seen[key] = id
		elem, err := e.encode(rv.Elem())
		if err != nil {
			return nil, err
		}
		e.refs[id-1] = elem
		return &node{Kind: kindPtr, Ref: id}, nil

	case reflect.Slice:
		if rv.IsNil() {
			return &node{Kind: kindNil}, nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return &node{Kind: kindBytes, Scalar: append([]byte(nil), rv.Bytes()...)}, nil
		}
		elems, err := e.encodeSeq(rv)
		if err != nil {
			return nil, err
		}
		return &node{Kind: kindSlice, Elems: elems}, nil

	case reflect.Array:
		elems, err := e.encodeSeq(rv)
		if err != nil {
			return nil, err
		}
		return &node{Kind: kindArray, Elems: elems}, nil

	case reflect.Map:
		if rv.IsNil() {
			return &node{Kind: kindNil}, nil
		}
		n := &node{
			Kind:  kindMap,
			Keys:  make([]*node, 0, rv.Len()),
			Elems: make([]*node, 0, rv.Len()),
		}
		iter := rv.MapRange()
		for iter.Next() {
			k, err := e.encode(iter.Key())
			if err != nil {
				return nil, err
			}
			v, err := e.encode(iter.Value())
			if err != nil {
				return nil, err
			}
			n.Keys = append(n.Keys, k)
			n.Elems = append(n.Elems, v)
		}
		return n, nil

	case reflect.Struct:
		// Unexported state cannot be restored, so such structs must bring
		// their own encoding.BinaryMarshaler.
		n := &node{Kind: kindStruct, Fields: make(map[string]*node, t.NumField())}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				return nil, fmt.Errorf("%w: %s has unexported field %s", errUnsupported, t, f.Name)
			}
			fn, err := e.encode(rv.Field(i))
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t, f.Name, err)
			}
			n.Fields[f.Name] = fn
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnsupported, t)
}

func (e *encoder) encodeSeq(rv reflect.Value) ([]*node, error) {
	elems := make([]*node, rv.Len())
	for i := range elems {
		n, err := e.encode(rv.Index(i))
		if err != nil {
			return nil, err
		}
		elems[i] = n
	}
	return elems, nil
}

func (e *encoder) encodeProto(rv reflect.Value) (*node, error) {
	m := rv.Interface().(proto.Message)
	b, err := proto.Marshal(m)
	if err != nil {
		return nil, err
	}
	return &node{
		Kind:   kindProto,
		Type:   string(m.ProtoReflect().Descriptor().FullName()),
		Scalar: b,
	}, nil
}

// isBinary reports whether t round-trips through encoding.BinaryMarshaler.
func isBinary(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface {
		return false
	}
	return t.Implements(binaryMarshalerType) && reflect.PointerTo(t).Implements(binaryUnmarshalerType)
}

type decoder struct {
	registry *Registry
	refs     []*node
	built    map[int]reflect.Value
}

func newDecoder(r *Registry, refs []*node) *decoder {
	return &decoder{registry: r, refs: refs, built: make(map[int]reflect.Value)}
}

// decodeInto fills dst, a settable value of the static type at this position.
func (d *decoder) decodeInto(n *node, dst reflect.Value) error {
	if n == nil {
		return nil
	}
	t := dst.Type()

	switch n.Kind {
	case kindNil:
		dst.Set(reflect.Zero(t))
		return nil

	case kindDynamic:
		typ, ok := d.registry.Lookup(n.Type)
		if !ok {
			return fmt.Errorf("%w: %q", errUnknownType, n.Type)
		}
		if len(n.Elems) != 1 {
			return fmt.Errorf("%w: malformed dynamic node", errMismatch)
		}
		if !typ.AssignableTo(t) {
			return fmt.Errorf("%w: %s is not assignable to %s", errMismatch, typ, t)
		}
		v := reflect.New(typ).Elem()
		if err := d.decodeInto(n.Elems[0], v); err != nil {
			return err
		}
		dst.Set(v)
		return nil

	case kindProto:
		return d.decodeProto(n, dst)

	case kindBinary:
		if !isBinary(t) {
			return fmt.Errorf("%w: %s is not binary-unmarshalable", errMismatch, t)
		}
		b, err := bytesOf(n.Scalar)
		if err != nil {
			return err
		}
		p := reflect.New(t)
		if err := p.Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(b); err != nil {
			return err
		}
		dst.Set(p.Elem())
		return nil

	case kindScalar:
		return setScalar(dst, n.Scalar)

	case kindBytes:
		if t.Kind() != reflect.Slice || t.Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("%w: bytes into %s", errMismatch, t)
		}
		b, err := bytesOf(n.Scalar)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(append([]byte{}, b...)).Convert(t))
		return nil

	case kindPtr:
		if t.Kind() != reflect.Pointer {
			return fmt.Errorf("%w: pointer into %s", errMismatch, t)
		}
		p, err := d.ref(n.Ref, t.Elem())
		if err != nil {
			return err
		}
		dst.Set(p)
		return nil

	case kindSlice:
		if t.Kind() != reflect.Slice {
			return fmt.Errorf("%w: slice into %s", errMismatch, t)
		}
		s := reflect.MakeSlice(t, len(n.Elems), len(n.Elems))
		for i, en := range n.Elems {
			if err := d.decodeInto(en, s.Index(i)); err != nil {
				return err
			}
		}
		dst.Set(s)
		return nil

	case kindArray:
		if t.Kind() != reflect.Array || t.Len() != len(n.Elems) {
			return fmt.Errorf("%w: array into %s", errMismatch, t)
		}
		for i, en := range n.Elems {
			if err := d.decodeInto(en, dst.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case kindMap:
		if t.Kind() != reflect.Map || len(n.Keys) != len(n.Elems) {
			return fmt.Errorf("%w: map into %s", errMismatch, t)
		}
		m := reflect.MakeMapWithSize(t, len(n.Keys))
		for i := range n.Keys {
			k := reflect.New(t.Key()).Elem()
			if err := d.decodeInto(n.Keys[i], k); err != nil {
				return err
			}
			v := reflect.New(t.Elem()).Elem()
			if err := d.decodeInto(n.Elems[i], v); err != nil {
				return err
			}
			m.SetMapIndex(k, v)
		}
		dst.Set(m)
		return nil

	case kindStruct:
		if t.Kind() != reflect.Struct {
			return fmt.Errorf("%w: struct into %s", errMismatch, t)
		}
		for name, fn := range n.Fields {
			sf, ok := t.FieldByName(name)
			if !ok || !sf.IsExported() || len(sf.Index) != 1 {
				// Field removed since the payload was written.
				continue
			}
			if err := d.decodeInto(fn, dst.Field(sf.Index[0])); err != nil {
				return fmt.Errorf("%s.%s: %w", t, name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: node kind %d", errUnsupported, n.Kind)
}

// ref returns the pointer for reference id, building it on first use. The
// pointer is recorded before its target is filled so cycles terminate.
func (d *decoder) ref(id int, elem reflect.Type) (reflect.Value, error) {
	if p, ok := d.built[id]; ok {
		if p.Type().Elem() != elem {
			return reflect.Value{}, fmt.Errorf("%w: reference %d shared as %s and %s", errMismatch, id, p.Type().Elem(), elem)
		}
		return p, nil
	}
	if id < 1 || id > len(d.refs) {
		return reflect.Value{}, fmt.Errorf("%w: %d", errBadRef, id)
	}
	p := reflect.New(elem)
	d.built[id] = p
	if err := d.decodeInto(d.refs[id-1], p.Elem()); err != nil {
		return reflect.Value{}, err
	}
	return p, nil
}

func (d *decoder) decodeProto(n *node, dst reflect.Value) error {
	b, err := bytesOf(n.Scalar)
	if err != nil {
		return err
	}
	t := dst.Type()
	var m proto.Message
	switch {
	case t.Kind() == reflect.Interface:
		mt, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(n.Type))
		if err != nil {
			return fmt.Errorf("%w: %q: %w", errUnknownType, n.Type, err)
		}
		m = mt.New().Interface()
		if !reflect.TypeOf(m).AssignableTo(t) {
			return fmt.Errorf("%w: %T is not assignable to %s", errMismatch, m, t)
		}
	case t.Implements(protoMessageType) && t.Kind() == reflect.Pointer:
		m = reflect.New(t.Elem()).Interface().(proto.Message)
	default:
		return fmt.Errorf("%w: proto message into %s", errMismatch, t)
	}
	if err := proto.Unmarshal(b, m); err != nil {
		return err
	}
	dst.Set(reflect.ValueOf(m))
	return nil
}

func bytesOf(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("%w: %T is not a byte string", errMismatch, v)
}

func setScalar(dst reflect.Value, v any) error {
	switch dst.Kind() {
	case reflect.Bool:
		if v == nil {
			dst.SetBool(false)
			return nil
		}
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: %T into bool", errMismatch, v)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := toInt64(v)
		if !ok || dst.OverflowInt(i) {
			return fmt.Errorf("%w: %v into %s", errMismatch, v, dst.Type())
		}
		dst.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u, ok := toUint64(v)
		if !ok || dst.OverflowUint(u) {
			return fmt.Errorf("%w: %v into %s", errMismatch, v, dst.Type())
		}
		dst.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, ok := toFloat64(v)
		if !ok {
			return fmt.Errorf("%w: %v into %s", errMismatch, v, dst.Type())
		}
		dst.SetFloat(f)
	case reflect.String:
		switch s := v.(type) {
		case nil:
			dst.SetString("")
		case string:
			dst.SetString(s)
		case []byte:
			dst.SetString(string(s))
		default:
			return fmt.Errorf("%w: %T into string", errMismatch, v)
		}
	default:
		return fmt.Errorf("%w: scalar into %s", errMismatch, dst.Type())
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	}
	i, ok := toInt64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

func toFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	if u, ok := toUint64(v); ok {
		return float64(u), true
	}
	return 0, false
}
