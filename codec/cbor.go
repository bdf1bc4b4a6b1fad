package codec

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

var errZeroCBOR = errors.New("zero CBOR value; use NewCBOR")

// CBOR is a compact binary Codec built on fxamacker/cbor. The zero value is
// NOT ready to use. Construct with NewCBOR or MustCBOR.
//
// deterministic=true selects RFC 8949 Core Deterministic encoding, which makes
// equal values produce equal bytes. Decoding rejects duplicate map keys, since
// a namespace's documents may come from another process.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

// NewCBOR constructs a CBOR codec with RFC3339Nano time encoding.
func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR is like NewCBOR but panics on error.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) {
	if c.enc == nil {
		return nil, wrap("cbor", "encode", errZeroCBOR)
	}
	b, err := c.enc.Marshal(v)
	return b, wrap("cbor", "encode", err)
}

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if c.dec == nil {
		return v, wrap("cbor", "decode", errZeroCBOR)
	}
	err := c.dec.Unmarshal(b, &v)
	return v, wrap("cbor", "decode", err)
}
