package client

import (
	"mw-bridge/event"
	"mw-bridge/pb"
	"mw-bridge/service"
	"mw-bridge/transport"
)

// Service is the typed command surface of the middleware: one method per
// command, plus the router for pushed events.
type Service struct {
	*Dispatcher
	events *event.Router
}

// NewService builds a dispatcher and an event router on t, and points t's
// event handler at the router.
func NewService(t transport.Transport, opts ...Option) *Service {
	d := NewDispatcher(t, opts...)
	s := &Service{
		Dispatcher: d,
		events:     event.NewRouter(event.WithLogger(d.baseLogger)),
	}
	t.SubscribeEvents(func(payload []byte) {
		_ = s.events.Route(payload)
	})
	return s
}

// Events returns the router every pushed event goes through.
func (s *Service) Events() *event.Router {
	return s.events
}

func (s *Service) Ping(req *pb.PingRequest, done func(*pb.PingResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.Ping, req, done, opts...)
}

func (s *Service) WalletCreate(req *pb.WalletCreateRequest, done func(*pb.WalletCreateResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.WalletCreate, req, done, opts...)
}

func (s *Service) WalletRecover(req *pb.WalletRecoverRequest, done func(*pb.WalletRecoverResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.WalletRecover, req, done, opts...)
}

func (s *Service) AccountCreate(req *pb.AccountCreateRequest, done func(*pb.AccountCreateResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.AccountCreate, req, done, opts...)
}

func (s *Service) AccountRecover(req *pb.AccountRecoverRequest, done func(*pb.AccountRecoverResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.AccountRecover, req, done, opts...)
}

func (s *Service) AccountSelect(req *pb.AccountSelectRequest, done func(*pb.AccountSelectResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.AccountSelect, req, done, opts...)
}

func (s *Service) ImageGetBlob(req *pb.ImageGetBlobRequest, done func(*pb.ImageGetBlobResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.ImageGetBlob, req, done, opts...)
}

func (s *Service) GetVersion(req *pb.GetVersionRequest, done func(*pb.GetVersionResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.GetVersion, req, done, opts...)
}

func (s *Service) Log(req *pb.LogRequest, done func(*pb.LogResponse, error), opts ...CallOption) (CallID, error) {
	return Invoke(s.Dispatcher, service.Log, req, done, opts...)
}
