package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf encodes proto messages. ctor returns an empty message to decode
// into, e.g. func() *pb.Device { return &pb.Device{} }.
type Protobuf[T proto.Message] struct {
	new func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

var errNoCtor = errors.New("no message constructor")

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(v)
	return b, wrap("protobuf", "encode", err)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.new == nil {
		var zero T
		return zero, wrap("protobuf", "decode", errNoCtor)
	}
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, wrap("protobuf", "decode", err)
}
