package codec

import (
	"errors"
	"unicode/utf8"
)

// Bytes is an identity codec for []byte values, e.g. raw response bodies.
// Decode returns the stored slice itself.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

var errInvalidUTF8 = errors.New("invalid UTF-8")

// Text stores strings as UTF-8. Decode rejects bytes that are not valid
// UTF-8 so a binary document under a text namespace self-heals as a miss.
type Text struct{}

func (Text) Encode(s string) ([]byte, error) { return []byte(s), nil }

func (Text) Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", wrap("text", "decode", errInvalidUTF8)
	}
	return string(b), nil
}
