package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"mw-bridge/message"
)

var errShortEnvelope = errors.New("BinaryCodec: envelope truncated")

// BinaryCodec lays an envelope out as three length-prefixed fields:
//
//	methodLen u16 | method | payloadLen u32 | payload | errorLen u16 | error
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(env *message.Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("BinaryCodec: nil envelope")
	}
	if len(env.Method) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: method name too long (%d bytes)", len(env.Method))
	}
	if len(env.Error) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: error text too long (%d bytes)", len(env.Error))
	}
	if uint64(len(env.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("BinaryCodec: payload too large (%d bytes)", len(env.Payload))
	}

	buf := make([]byte, 0, 2+len(env.Method)+4+len(env.Payload)+2+len(env.Error))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Method)))
	buf = append(buf, env.Method...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Payload)))
	buf = append(buf, env.Payload...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Error)))
	buf = append(buf, env.Error...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, env *message.Envelope) error {
	method, rest, err := readField(data, 2)
	if err != nil {
		return err
	}
	payload, rest, err := readField(rest, 4)
	if err != nil {
		return err
	}
	errText, rest, err := readField(rest, 2)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("BinaryCodec: %d trailing bytes", len(rest))
	}

	env.Method = string(method)
	env.Payload = nil
	if len(payload) > 0 {
		env.Payload = append([]byte(nil), payload...)
	}
	env.Error = string(errText)
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// readField reads a big-endian length prefix of prefixLen bytes and the
// field it announces.
func readField(data []byte, prefixLen int) (field, rest []byte, err error) {
	if len(data) < prefixLen {
		return nil, nil, errShortEnvelope
	}
	var n uint64
	if prefixLen == 2 {
		n = uint64(binary.BigEndian.Uint16(data))
	} else {
		n = uint64(binary.BigEndian.Uint32(data))
	}
	data = data[prefixLen:]
	if uint64(len(data)) < n {
		return nil, nil, errShortEnvelope
	}
	return data[:n], data[n:], nil
}
