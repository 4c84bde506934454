// Package codec serializes the values that cross a transport.
//
// Two families live here. Envelope codecs (binary, JSON) turn a
// message.Envelope into a frame body and are selected per connection by the
// CodecType byte of the frame header. Typed codecs turn a schema message
// into protobuf bytes and are attached to method descriptors.
package codec

import (
	"fmt"

	"mw-bridge/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

// ParseCodecType maps a configuration value to a CodecType.
func ParseCodecType(s string) (CodecType, error) {
	switch s {
	case "json":
		return CodecTypeJSON, nil
	case "binary", "":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

// Codec serializes frame envelopes.
type Codec interface {
	Encode(env *message.Envelope) ([]byte, error)
	Decode(data []byte, env *message.Envelope) error
	Type() CodecType
}

// GetCodec returns the codec for t. Unknown types fall back to binary.
func GetCodec(t CodecType) Codec {
	if t == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}
