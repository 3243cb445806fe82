package codec

import (
	"bytes"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// body marshals the envelope in one concrete wire format.
type body interface {
	marshal(w *bytes.Buffer, env *envelope) error
	unmarshal(b []byte, env *envelope) error
}

const (
	formatMsgpack byte = 1
	formatCBOR    byte = 2
)

var formatIDs = map[string]byte{
	FormatMsgpack: formatMsgpack,
	FormatCBOR:    formatCBOR,
}

var formatNames = map[byte]string{
	formatMsgpack: FormatMsgpack,
	formatCBOR:    FormatCBOR,
}

var bodies = map[byte]body{
	formatMsgpack: msgpackBody{},
	formatCBOR:    newCBORBody(),
}

type msgpackBody struct{}

func (msgpackBody) marshal(w *bytes.Buffer, env *envelope) error {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(w)
	return enc.Encode(env)
}

func (msgpackBody) unmarshal(b []byte, env *envelope) error {
	return msgpack.Unmarshal(b, env)
}

type cborBody struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// Graph envelopes nest two levels per struct field, deeper than the cbor
// default of 32.
const cborMaxNesting = 1024

func newCBORBody() cborBody {
	em, err := cbor.PreferredUnsortedEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{MaxNestedLevels: cborMaxNesting}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborBody{enc: em, dec: dm}
}

func (c cborBody) marshal(w *bytes.Buffer, env *envelope) error {
	return c.enc.NewEncoder(w).Encode(env)
}

func (c cborBody) unmarshal(b []byte, env *envelope) error {
	return c.dec.Unmarshal(b, env)
}
