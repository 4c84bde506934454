// Package message defines the envelope exchanged on framed transports.
//
// Envelope wraps one command request or response. It gets serialized by the
// codec layer and carried in a protocol frame whose Seq correlates the
// response with its request. Events travel without an envelope.
package message

// Envelope carries the data for a single command request or response.
//
//   - On request:  Method is the wire method name, Payload the encoded request.
//   - On response: Payload is the encoded response, Error is non-empty if the
//     counterpart failed to produce one.
type Envelope struct {
	Method  string `json:"method"`
	Error   string `json:"error,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// Failed reports whether the envelope carries a counterpart failure.
func (e *Envelope) Failed() bool {
	return e.Error != ""
}

// Reply builds the response envelope for req.
func Reply(req *Envelope, payload []byte) *Envelope {
	return &Envelope{Method: req.Method, Payload: payload}
}

// Fail builds a failed response envelope for req.
func Fail(req *Envelope, msg string) *Envelope {
	return &Envelope{Method: req.Method, Error: msg}
}
