// Package protocol implements the binary frame format used by stream
// transports (TCP, unix sockets, named pipes).
//
// A fixed 15-byte header precedes a variable-length body. The receiver reads
// the header first to learn the body length, then reads exactly that many
// bytes, so frames survive arbitrary segmentation of the byte stream.
//
// Frame format:
//
//	0      3  4  5  6  7         11        15
//	┌──────┬──┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│fl│   seq   │ bodyLen │    body ...    │
//	│ mwb  │01│  │  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Request and response bodies carry an encoded message.Envelope. Event
// bodies carry serialized event bytes as-is.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "mwb". Lets a receiver reject a peer that speaks
// something else (an HTTP client on the wrong port, say) on the first frame.
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x77 // 'w'
	MagicByte3  byte = 0x62 // 'b'
	Version     byte = 0x01
	HeaderSize  int  = 15 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 1 (flags) + 4 (seq) + 4 (bodyLen)
)

// DefaultMaxBodySize bounds a frame body when the caller sets no limit.
const DefaultMaxBodySize = 16 << 20

// MsgType distinguishes the kinds of frame.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // client → counterpart command
	MsgTypeResponse  MsgType = 1 // counterpart → client reply, same seq as the request
	MsgTypeHeartbeat MsgType = 2 // keepalive, no body
	MsgTypeEvent     MsgType = 3 // counterpart → client push, seq unused
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	case MsgTypeEvent:
		return "event"
	}
	return fmt.Sprintf("msgtype(%d)", byte(t))
}

// Flag bits.
const (
	FlagCompressed byte = 1 << 0 // body is zstd compressed
)

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// ErrBodyTooLarge is returned when a frame announces or carries a body above
// the configured limit.
var ErrBodyTooLarge = errors.New("protocol: frame body too large")

// Header is the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Flags     byte
	Seq       uint32 // matches a response to its request
	BodyLen   uint32
}

func (h *Header) Compressed() bool {
	return h.Flags&FlagCompressed != 0
}

// Encode writes a complete frame (header + body) to w. BodyLen is taken
// from body. Concurrent writers on the same w must serialize their calls,
// otherwise frames interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(^uint32(0)) {
		return ErrBodyTooLarge
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicNumber, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	buf[6] = h.Flags
	binary.BigEndian.PutUint32(buf[7:11], h.Seq)
	binary.BigEndian.PutUint32(buf[11:15], uint32(len(body)))

	// One write per frame keeps datagram-like writers (net.Pipe, FIFOs) from
	// splitting the header off the body.
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads one frame from r, rejecting bodies above DefaultMaxBodySize.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeLimit(r, DefaultMaxBodySize)
}

// DecodeLimit reads one frame from r. It validates magic, version, codec and
// message type, and refuses to allocate a body above maxBody bytes.
// maxBody <= 0 means DefaultMaxBodySize.
func DecodeLimit(r io.Reader, maxBody int) (*Header, []byte, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeEvent {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	h := &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Flags:     headerBuf[6],
		Seq:       binary.BigEndian.Uint32(headerBuf[7:11]),
		BodyLen:   binary.BigEndian.Uint32(headerBuf[11:15]),
	}
	if uint64(h.BodyLen) > uint64(maxBody) {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.BodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
