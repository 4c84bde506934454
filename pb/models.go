package pb

import (
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrorCode is ResponseError.Code.
type ErrorCode int32

const (
	ErrorCodeNull           ErrorCode = 0
	ErrorCodeUnknownError   ErrorCode = 1
	ErrorCodeBadInput       ErrorCode = 2
	ErrorCodeNotFound       ErrorCode = 3
	ErrorCodeFailedToCreate ErrorCode = 4
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeNull:           "NULL",
	ErrorCodeUnknownError:   "UNKNOWN_ERROR",
	ErrorCodeBadInput:       "BAD_INPUT",
	ErrorCodeNotFound:       "NOT_FOUND",
	ErrorCodeFailedToCreate: "FAILED_TO_CREATE",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return strconv.Itoa(int(c))
}

// ResponseError is the application-level error carried inside a response.
// A nil ResponseError or one with ErrorCodeNull means success.
type ResponseError struct {
	Code        ErrorCode
	Description string
}

func (m *ResponseError) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b := appendInt32(nil, 1, int32(m.Code))
	return appendString(b, 2, m.Description)
}

func (m *ResponseError) Unmarshal(data []byte) error {
	*m = ResponseError{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var v int32
			n, err := consumeInt32(typ, b, &v)
			m.Code = ErrorCode(v)
			return n, err
		case 2:
			return consumeString(typ, b, &m.Description)
		}
		return skipField(num, typ, b)
	})
}

// Failed reports whether e carries a non-NULL code.
func (m *ResponseError) Failed() bool {
	return m != nil && m.Code != ErrorCodeNull
}

func (m *ResponseError) Error() string {
	if m.Description == "" {
		return m.Code.String()
	}
	return m.Code.String() + ": " + m.Description
}

type Image struct {
	Id string
}

func (m *Image) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return appendString(nil, 1, m.Id)
}

func (m *Image) Unmarshal(data []byte) error {
	*m = Image{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, &m.Id)
		}
		return skipField(num, typ, b)
	})
}

type Account struct {
	Id     string
	Name   string
	Avatar *Image
}

func (m *Account) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendString(nil, 1, m.Id)
	if err != nil {
		return nil, err
	}
	if b, err = appendString(b, 2, m.Name); err != nil {
		return nil, err
	}
	if m.Avatar != nil {
		return appendMessage(b, 3, m.Avatar)
	}
	return b, nil
}

func (m *Account) Unmarshal(data []byte) error {
	*m = Account{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Id)
		case 2:
			return consumeString(typ, b, &m.Name)
		case 3:
			m.Avatar = &Image{}
			return consumeMessage(typ, b, m.Avatar)
		}
		return skipField(num, typ, b)
	})
}

// AccountAdd announces an account found during create or recover.
type AccountAdd struct {
	Index   int64
	Account *Account
}

func (m *AccountAdd) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b := appendInt64(nil, 1, m.Index)
	if m.Account != nil {
		return appendMessage(b, 2, m.Account)
	}
	return b, nil
}

func (m *AccountAdd) Unmarshal(data []byte) error {
	*m = AccountAdd{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, b, &m.Index)
		case 2:
			m.Account = &Account{}
			return consumeMessage(typ, b, m.Account)
		}
		return skipField(num, typ, b)
	})
}

// Ping is the event payload emitted after a ping command.
type Ping struct {
	Index int32
}

func (m *Ping) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return appendInt32(nil, 1, m.Index), nil
}

func (m *Ping) Unmarshal(data []byte) error {
	*m = Ping{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeInt32(typ, b, &m.Index)
		}
		return skipField(num, typ, b)
	})
}

// Request is the generic entity request of the legacy document API. It is
// also the argument of the ListenEvents stream.
type Request struct {
	Id     string
	Entity string
	Target string
}

func (m *Request) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendString(nil, 1, m.Id)
	if err != nil {
		return nil, err
	}
	if b, err = appendString(b, 2, m.Entity); err != nil {
		return nil, err
	}
	return appendString(b, 3, m.Target)
}

func (m *Request) Unmarshal(data []byte) error {
	*m = Request{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Id)
		case 2:
			return consumeString(typ, b, &m.Entity)
		case 3:
			return consumeString(typ, b, &m.Target)
		}
		return skipField(num, typ, b)
	})
}

type DocHeader struct {
	Id       string
	Name     string
	Root     string
	Version  string
	IconName string
}

func (m *DocHeader) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	var (
		b   []byte
		err error
	)
	for i, s := range []string{m.Id, m.Name, m.Root, m.Version, m.IconName} {
		if b, err = appendString(b, protowire.Number(i+1), s); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *DocHeader) Unmarshal(data []byte) error {
	*m = DocHeader{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Id)
		case 2:
			return consumeString(typ, b, &m.Name)
		case 3:
			return consumeString(typ, b, &m.Root)
		case 4:
			return consumeString(typ, b, &m.Version)
		case 5:
			return consumeString(typ, b, &m.IconName)
		}
		return skipField(num, typ, b)
	})
}

type DocHeaders struct {
	Id         string
	DocHeaders []*DocHeader
}

func (m *DocHeaders) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendString(nil, 1, m.Id)
	if err != nil {
		return nil, err
	}
	for _, h := range m.DocHeaders {
		if h == nil {
			return nil, errNilMessage
		}
		if b, err = appendMessage(b, 2, h); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *DocHeaders) Unmarshal(data []byte) error {
	*m = DocHeaders{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Id)
		case 2:
			h := &DocHeader{}
			n, err := consumeMessage(typ, b, h)
			if err != nil {
				return 0, err
			}
			m.DocHeaders = append(m.DocHeaders, h)
			return n, nil
		}
		return skipField(num, typ, b)
	})
}
