package event

import "mw-bridge/pb"

// Kind names the populated case of an event.
type Kind int

const (
	KindNone Kind = iota
	KindAccountAdd
	KindPing
	KindDocHeaders
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAccountAdd:
		return "accountAdd"
	case KindPing:
		return "ping"
	case KindDocHeaders:
		return "docHeaders"
	}
	return "unknown"
}

// KindOf reports which case of ev is populated. A nil event has KindNone.
func KindOf(ev *pb.Event) Kind {
	if ev == nil {
		return KindNone
	}
	switch ev.Message.(type) {
	case nil:
		return KindNone
	case *pb.EventAccountAdd:
		return KindAccountAdd
	case *pb.EventPing:
		return KindPing
	case *pb.EventDocHeaders:
		return KindDocHeaders
	default:
		return KindUnknown
	}
}

// Handlers narrows events to their payload. Unset fields skip that case.
type Handlers struct {
	OnAccountAdd func(*pb.AccountAdd) error
	OnPing       func(*pb.Ping) error
	OnDocHeaders func(*pb.DocHeaders) error
	OnUnknown    func(*pb.EventUnknown) error
	OnNone       func() error
}

// Subscriber adapts h for Router.Subscribe.
func (h Handlers) Subscriber() Subscriber {
	return func(ev *pb.Event) error {
		var msg pb.EventMessage
		if ev != nil {
			msg = ev.Message
		}
		switch m := msg.(type) {
		case nil:
			if h.OnNone != nil {
				return h.OnNone()
			}
		case *pb.EventAccountAdd:
			if h.OnAccountAdd != nil {
				return h.OnAccountAdd(m.AccountAdd)
			}
		case *pb.EventPing:
			if h.OnPing != nil {
				return h.OnPing(m.Ping)
			}
		case *pb.EventDocHeaders:
			if h.OnDocHeaders != nil {
				return h.OnDocHeaders(m.DocHeaders)
			}
		case *pb.EventUnknown:
			if h.OnUnknown != nil {
				return h.OnUnknown(m)
			}
		}
		return nil
	}
}
