package codec

import (
	"encoding/json"

	"mw-bridge/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Payloads end up base64 encoded, so it is mostly useful for debugging a
// stream by eye.
type JSONCodec struct{}

func (c *JSONCodec) Encode(env *message.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (c *JSONCodec) Decode(data []byte, env *message.Envelope) error {
	return json.Unmarshal(data, env)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
