package codec

import (
	"errors"
	"fmt"
)

// Typed converts between a Go value and the bytes carried as a request,
// response or event payload.
type Typed[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// Message is satisfied by pointer types with protobuf-style Marshal and
// Unmarshal methods, such as the types in package pb.
type Message[T any] interface {
	*T
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

// Proto is the Typed codec for protobuf messages. The value type is the
// message pointer, e.g. Proto[pb.PingRequest, *pb.PingRequest].
type Proto[T any, PT Message[T]] struct{}

func (Proto[T, PT]) Encode(v PT) ([]byte, error) {
	if v == nil {
		return nil, errors.New("encode: nil message")
	}
	return v.Marshal()
}

// Decode always returns a fresh message. Empty input is a valid encoding of
// the zero message.
func (Proto[T, PT]) Decode(data []byte) (PT, error) {
	v := PT(new(T))
	if err := v.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
