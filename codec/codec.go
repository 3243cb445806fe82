// Package codec turns arbitrary Go values into self-describing byte payloads
// for the shared remote tier, and back again without a caller-supplied type.
//
// A payload is a two byte header (magic, body format) followed by an envelope
// describing the value as a graph: every pointer is emitted once into a
// reference table and addressed by index, so two fields pointing at the same
// object decode to two fields pointing at the same object. Identity is only
// preserved within one Encode/Decode call.
//
// Supported shapes: nil, booleans, numbers, strings, byte slices, pointers,
// slices, arrays, maps, interfaces, proto.Message values, types implementing
// both encoding.BinaryMarshaler and encoding.BinaryUnmarshaler (time.Time
// among them), and structs whose fields are all exported and supported.
// Anything else, including a struct with an unexported field, fails with
// types.ErrSerializationFailure instead of losing state.
//
// Dynamic types are named on the wire and resolved through a Registry on
// decode. Types met by Encode are registered automatically; a process that
// only decodes must Register its value types up front.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/huykn/region-cache/types"
)

// Codec encodes values to bytes and back.
type Codec interface {
	// Encode serializes v. Encode(nil) returns an empty, non-nil slice.
	Encode(v any) ([]byte, error)

	// Decode reconstructs the value encoded in b. Decode of an empty slice
	// returns nil.
	Decode(b []byte) (any, error)
}

// Supported body formats.
const (
	FormatMsgpack = "msgpack"
	FormatCBOR    = "cbor"
)

const magic byte = 0xCA

var (
	errBadHeader = errors.New("bad payload header")
	errTooLarge  = errors.New("payload too large")
)

// Option configures a GraphCodec.
type Option func(*GraphCodec)

// WithRegistry sets the type registry used to name and resolve dynamic types.
// Defaults to DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(c *GraphCodec) { c.registry = r }
}

// WithMaxDecode rejects payloads larger than n bytes before decoding them.
// n <= 0 disables the limit.
func WithMaxDecode(n int) Option {
	return func(c *GraphCodec) { c.maxDecode = n }
}

// GraphCodec is the default Codec. It holds no per-call state and is safe for
// concurrent use.
type GraphCodec struct {
	format    byte
	body      body
	registry  *Registry
	maxDecode int
}

var _ Codec = (*GraphCodec)(nil)

// New creates a GraphCodec writing payloads in the given body format.
// Decoding accepts every supported format regardless of the one configured.
func New(format string, opts ...Option) (*GraphCodec, error) {
	id, ok := formatIDs[format]
	if !ok {
		return nil, fmt.Errorf("codec: unsupported serialization format %q", format)
	}
	c := &GraphCodec{
		format:   id,
		body:     bodies[id],
		registry: DefaultRegistry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(format string, opts ...Option) *GraphCodec {
	c, err := New(format, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Format returns the body format this codec writes.
func (c *GraphCodec) Format() string { return formatNames[c.format] }

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Encode serializes v into a self-describing payload.
func (c *GraphCodec) Encode(v any) (out []byte, err error) {
	if v == nil {
		return []byte{}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fail("encode", fmt.Errorf("%v", r))
		}
	}()

	enc := newEncoder(c.registry)
	root, err := enc.encodeDynamic(reflect.ValueOf(v))
	if err != nil {
		return nil, fail("encode", err)
	}
	env := envelope{Root: root, Refs: enc.refs}

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := c.body.marshal(buf, &env); err != nil {
		return nil, fail("encode", err)
	}
	out = make([]byte, 0, buf.Len()+2)
	out = append(out, magic, c.format)
	return append(out, buf.Bytes()...), nil
}

// Decode reconstructs a value from a payload produced by Encode.
func (c *GraphCodec) Decode(b []byte) (v any, err error) {
	if len(b) == 0 {
		return nil, nil
	}
	if c.maxDecode > 0 && len(b) > c.maxDecode {
		return nil, fail("decode", fmt.Errorf("%w: %d > %d", errTooLarge, len(b), c.maxDecode))
	}
	if len(b) < 2 || b[0] != magic {
		return nil, fail("decode", errBadHeader)
	}
	bd, ok := bodies[b[1]]
	if !ok {
		return nil, fail("decode", fmt.Errorf("%w: unknown format %d", errBadHeader, b[1]))
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fail("decode", fmt.Errorf("%v", r))
		}
	}()

	var env envelope
	if err := bd.unmarshal(b[2:], &env); err != nil {
		return nil, fail("decode", err)
	}
	dec := newDecoder(c.registry, env.Refs)
	var out any
	if err := dec.decodeInto(env.Root, reflect.ValueOf(&out).Elem()); err != nil {
		return nil, fail("decode", err)
	}
	return out, nil
}

func fail(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrSerializationFailure, op, err)
}
