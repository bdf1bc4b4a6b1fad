package codec

import "encoding/json"

// JSON stores values as JSON, which the persisted document then embeds
// verbatim. The zero value is ready to use.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, wrap("json", "encode", err)
}

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, wrap("json", "decode", err)
}
