package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Event is the envelope pushed by the middleware outside of any command.
// Message holds exactly one of the EventMessage cases, or nil when the
// sender populated none of them.
type Event struct {
	Message EventMessage
}

// EventMessage is the closed set of event payloads.
type EventMessage interface {
	isEventMessage()
}

type EventAccountAdd struct {
	AccountAdd *AccountAdd
}

type EventPing struct {
	Ping *Ping
}

type EventDocHeaders struct {
	DocHeaders *DocHeaders
}

// EventUnknown keeps a payload whose field number this build does not know.
// Raw is the complete field encoding, tag included, and is written back
// unchanged by Marshal.
type EventUnknown struct {
	Field protowire.Number
	Raw   []byte
}

func (*EventAccountAdd) isEventMessage() {}
func (*EventPing) isEventMessage()       {}
func (*EventDocHeaders) isEventMessage() {}
func (*EventUnknown) isEventMessage()    {}

func (m *Event) GetAccountAdd() *AccountAdd {
	if v, ok := m.getMessage().(*EventAccountAdd); ok {
		return v.AccountAdd
	}
	return nil
}

func (m *Event) GetPing() *Ping {
	if v, ok := m.getMessage().(*EventPing); ok {
		return v.Ping
	}
	return nil
}

func (m *Event) GetDocHeaders() *DocHeaders {
	if v, ok := m.getMessage().(*EventDocHeaders); ok {
		return v.DocHeaders
	}
	return nil
}

func (m *Event) getMessage() EventMessage {
	if m == nil {
		return nil
	}
	return m.Message
}

func (m *Event) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	switch v := m.Message.(type) {
	case nil:
		return nil, nil
	case *EventAccountAdd:
		if v.AccountAdd == nil {
			return appendMessage(nil, 1, &AccountAdd{})
		}
		return appendMessage(nil, 1, v.AccountAdd)
	case *EventPing:
		if v.Ping == nil {
			return appendMessage(nil, 2, &Ping{})
		}
		return appendMessage(nil, 2, v.Ping)
	case *EventDocHeaders:
		if v.DocHeaders == nil {
			return appendMessage(nil, 3, &DocHeaders{})
		}
		return appendMessage(nil, 3, v.DocHeaders)
	case *EventUnknown:
		return append([]byte(nil), v.Raw...), nil
	default:
		return nil, fmt.Errorf("unexpected event message %T", v)
	}
}

// Unmarshal follows oneof semantics: the last known field wins. An unknown
// field is kept only while no known field has been seen.
func (m *Event) Unmarshal(data []byte) error {
	*m = Event{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		field := b
		b = b[n:]

		var (
			consumed int
			err      error
		)
		switch num {
		case 1:
			v := &AccountAdd{}
			if consumed, err = consumeMessage(typ, b, v); err == nil {
				m.Message = &EventAccountAdd{AccountAdd: v}
			}
		case 2:
			v := &Ping{}
			if consumed, err = consumeMessage(typ, b, v); err == nil {
				m.Message = &EventPing{Ping: v}
			}
		case 3:
			v := &DocHeaders{}
			if consumed, err = consumeMessage(typ, b, v); err == nil {
				m.Message = &EventDocHeaders{DocHeaders: v}
			}
		default:
			if consumed, err = skipField(num, typ, b); err == nil && m.Message == nil {
				m.Message = &EventUnknown{
					Field: num,
					Raw:   append([]byte(nil), field[:n+consumed]...),
				}
			}
		}
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		b = b[consumed:]
	}
	return nil
}
