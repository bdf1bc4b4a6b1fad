package codec

import "fmt"

// Limit wraps another codec and refuses payloads above a size in either
// direction. Zero disables a bound.
//
// MaxEncode keeps one oversized response from crowding the durable tier;
// MaxDecode guards against oversized documents written by another process.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, wrap("limit", "encode", fmt.Errorf("payload too large: %d > %d", len(b), c.MaxEncode))
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, wrap("limit", "decode", fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode))
	}
	return c.Inner.Decode(b)
}
