// Package codec converts typed namespace values to the bytes the cache stores.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Error reports a failed Encode or Decode. The cache treats it as a
// serialization failure of the affected key only.
type Error struct {
	Codec string // "json", "cbor", ...
	Op    string // "encode" or "decode"
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("codec %s: %s: %v", e.Codec, e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(name, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Codec: name, Op: op, Err: err}
}
