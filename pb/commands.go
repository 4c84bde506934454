package pb

import (
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Response is implemented by every command response. GetError is nil-safe.
type Response interface {
	Message
	GetError() *ResponseError
}

func appendError(b []byte, e *ResponseError) ([]byte, error) {
	if e == nil {
		return b, nil
	}
	return appendMessage(b, 1, e)
}

func consumeError(typ protowire.Type, b []byte, dst **ResponseError) (int, error) {
	*dst = &ResponseError{}
	return consumeMessage(typ, b, *dst)
}

type PingRequest struct {
	Index                int32
	NumberOfEventsToSend int32
}

func (m *PingRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b := appendInt32(nil, 1, m.Index)
	return appendInt32(b, 2, m.NumberOfEventsToSend), nil
}

func (m *PingRequest) Unmarshal(data []byte) error {
	*m = PingRequest{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt32(typ, b, &m.Index)
		case 2:
			return consumeInt32(typ, b, &m.NumberOfEventsToSend)
		}
		return skipField(num, typ, b)
	})
}

type PingResponse struct {
	Error                *ResponseError
	Index                int32
	NumberOfEventsToSend int32
}

func (m *PingResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *PingResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendError(nil, m.Error)
	if err != nil {
		return nil, err
	}
	b = appendInt32(b, 2, m.Index)
	return appendInt32(b, 3, m.NumberOfEventsToSend), nil
}

func (m *PingResponse) Unmarshal(data []byte) error {
	*m = PingResponse{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeError(typ, b, &m.Error)
		case 2:
			return consumeInt32(typ, b, &m.Index)
		case 3:
			return consumeInt32(typ, b, &m.NumberOfEventsToSend)
		}
		return skipField(num, typ, b)
	})
}

type WalletCreateRequest struct {
	RootPath string
}

func (m *WalletCreateRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return appendString(nil, 1, m.RootPath)
}

func (m *WalletCreateRequest) Unmarshal(data []byte) error {
	*m = WalletCreateRequest{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, &m.RootPath)
		}
		return skipField(num, typ, b)
	})
}

type WalletCreateResponse struct {
	Error    *ResponseError
	Mnemonic string
}

func (m *WalletCreateResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *WalletCreateResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendError(nil, m.Error)
	if err != nil {
		return nil, err
	}
	return appendString(b, 2, m.Mnemonic)
}

func (m *WalletCreateResponse) Unmarshal(data []byte) error {
	*m = WalletCreateResponse{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeError(typ, b, &m.Error)
		case 2:
			return consumeString(typ, b, &m.Mnemonic)
		}
		return skipField(num, typ, b)
	})
}

type WalletRecoverRequest struct {
	RootPath string
	Mnemonic string
}

func (m *WalletRecoverRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendString(nil, 1, m.RootPath)
	if err != nil {
		return nil, err
	}
	return appendString(b, 2, m.Mnemonic)
}

func (m *WalletRecoverRequest) Unmarshal(data []byte) error {
	*m = WalletRecoverRequest{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.RootPath)
		case 2:
			return consumeString(typ, b, &m.Mnemonic)
		}
		return skipField(num, typ, b)
	})
}

// errorOnly is the shape shared by responses that carry nothing but an error.
type errorOnly struct {
	Error *ResponseError
}

func (m *errorOnly) marshal() ([]byte, error) {
	return appendError(nil, m.Error)
}

func (m *errorOnly) unmarshal(data []byte) error {
	m.Error = nil
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeError(typ, b, &m.Error)
		}
		return skipField(num, typ, b)
	})
}

type WalletRecoverResponse struct {
	Error *ResponseError
}

func (m *WalletRecoverResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *WalletRecoverResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return (*errorOnly)(m).marshal()
}

func (m *WalletRecoverResponse) Unmarshal(data []byte) error {
	return (*errorOnly)(m).unmarshal(data)
}

type AccountCreateRequest struct {
	Name            string
	AvatarLocalPath string
}

func (m *AccountCreateRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendString(nil, 1, m.Name)
	if err != nil {
		return nil, err
	}
	return appendString(b, 2, m.AvatarLocalPath)
}

func (m *AccountCreateRequest) Unmarshal(data []byte) error {
	*m = AccountCreateRequest{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Name)
		case 2:
			return consumeString(typ, b, &m.AvatarLocalPath)
		}
		return skipField(num, typ, b)
	})
}

// accountResult is the shape shared by AccountCreateResponse and
// AccountSelectResponse.
type accountResult struct {
	Error   *ResponseError
	Account *Account
}

func (m *accountResult) marshal() ([]byte, error) {
	b, err := appendError(nil, m.Error)
	if err != nil {
		return nil, err
	}
	if m.Account != nil {
		return appendMessage(b, 2, m.Account)
	}
	return b, nil
}

func (m *accountResult) unmarshal(data []byte) error {
	*m = accountResult{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeError(typ, b, &m.Error)
		case 2:
			m.Account = &Account{}
			return consumeMessage(typ, b, m.Account)
		}
		return skipField(num, typ, b)
	})
}

type AccountCreateResponse struct {
	Error   *ResponseError
	Account *Account
}

func (m *AccountCreateResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *AccountCreateResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return (*accountResult)(m).marshal()
}

func (m *AccountCreateResponse) Unmarshal(data []byte) error {
	return (*accountResult)(m).unmarshal(data)
}

type AccountRecoverRequest struct{}

func (m *AccountRecoverRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return nil, nil
}

func (m *AccountRecoverRequest) Unmarshal(data []byte) error {
	return unmarshalFields(data, skipField)
}

type AccountRecoverResponse struct {
	Error *ResponseError
}

func (m *AccountRecoverResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *AccountRecoverResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return (*errorOnly)(m).marshal()
}

func (m *AccountRecoverResponse) Unmarshal(data []byte) error {
	return (*errorOnly)(m).unmarshal(data)
}

type AccountSelectRequest struct {
	Id string
}

func (m *AccountSelectRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return appendString(nil, 1, m.Id)
}

func (m *AccountSelectRequest) Unmarshal(data []byte) error {
	*m = AccountSelectRequest{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, &m.Id)
		}
		return skipField(num, typ, b)
	})
}

type AccountSelectResponse struct {
	Error   *ResponseError
	Account *Account
}

func (m *AccountSelectResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *AccountSelectResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return (*accountResult)(m).marshal()
}

func (m *AccountSelectResponse) Unmarshal(data []byte) error {
	return (*accountResult)(m).unmarshal(data)
}

// ImageSize selects the rendition returned by ImageGetBlob.
type ImageSize int32

const (
	ImageSizeLarge ImageSize = 0
	ImageSizeSmall ImageSize = 1
	ImageSizeThumb ImageSize = 2
)

func (s ImageSize) String() string {
	switch s {
	case ImageSizeLarge:
		return "LARGE"
	case ImageSizeSmall:
		return "SMALL"
	case ImageSizeThumb:
		return "THUMB"
	}
	return strconv.Itoa(int(s))
}

type ImageGetBlobRequest struct {
	Id   string
	Size ImageSize
}

func (m *ImageGetBlobRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendString(nil, 1, m.Id)
	if err != nil {
		return nil, err
	}
	return appendInt32(b, 2, int32(m.Size)), nil
}

func (m *ImageGetBlobRequest) Unmarshal(data []byte) error {
	*m = ImageGetBlobRequest{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Id)
		case 2:
			var v int32
			n, err := consumeInt32(typ, b, &v)
			m.Size = ImageSize(v)
			return n, err
		}
		return skipField(num, typ, b)
	})
}

type ImageGetBlobResponse struct {
	Error *ResponseError
	Blob  []byte
}

func (m *ImageGetBlobResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *ImageGetBlobResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendError(nil, m.Error)
	if err != nil {
		return nil, err
	}
	return appendBytes(b, 2, m.Blob), nil
}

func (m *ImageGetBlobResponse) Unmarshal(data []byte) error {
	*m = ImageGetBlobResponse{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeError(typ, b, &m.Error)
		case 2:
			return consumeBytes(typ, b, &m.Blob)
		}
		return skipField(num, typ, b)
	})
}

type GetVersionRequest struct{}

func (m *GetVersionRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return nil, nil
}

func (m *GetVersionRequest) Unmarshal(data []byte) error {
	return unmarshalFields(data, skipField)
}

type GetVersionResponse struct {
	Error   *ResponseError
	Version string
}

func (m *GetVersionResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *GetVersionResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendError(nil, m.Error)
	if err != nil {
		return nil, err
	}
	return appendString(b, 2, m.Version)
}

func (m *GetVersionResponse) Unmarshal(data []byte) error {
	*m = GetVersionResponse{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeError(typ, b, &m.Error)
		case 2:
			return consumeString(typ, b, &m.Version)
		}
		return skipField(num, typ, b)
	})
}

// LogLevel is LogRequest.Level.
type LogLevel int32

const (
	LogLevelDebug   LogLevel = 0
	LogLevelInfo    LogLevel = 1
	LogLevelWarning LogLevel = 2
	LogLevelError   LogLevel = 3
	LogLevelFatal   LogLevel = 4
	LogLevelPanic   LogLevel = 5
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelFatal:
		return "FATAL"
	case LogLevelPanic:
		return "PANIC"
	}
	return strconv.Itoa(int(l))
}

type LogRequest struct {
	Message string
	Level   LogLevel
}

func (m *LogRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	b, err := appendString(nil, 1, m.Message)
	if err != nil {
		return nil, err
	}
	return appendInt32(b, 2, int32(m.Level)), nil
}

func (m *LogRequest) Unmarshal(data []byte) error {
	*m = LogRequest{}
	return unmarshalFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Message)
		case 2:
			var v int32
			n, err := consumeInt32(typ, b, &v)
			m.Level = LogLevel(v)
			return n, err
		}
		return skipField(num, typ, b)
	})
}

type LogResponse struct {
	Error *ResponseError
}

func (m *LogResponse) GetError() *ResponseError {
	if m == nil {
		return nil
	}
	return m.Error
}

func (m *LogResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return (*errorOnly)(m).marshal()
}

func (m *LogResponse) Unmarshal(data []byte) error {
	return (*errorOnly)(m).unmarshal(data)
}
