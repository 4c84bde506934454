package server

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mw-bridge/codec"
	"mw-bridge/message"
	"mw-bridge/service"
)

// grpcEventBuffer is how many events a slow ListenEvents client may fall
// behind before further events are dropped for it.
const grpcEventBuffer = 1024

// NewGRPCServer exposes svr over gRPC: every wire name is a unary method of
// service mwbridge.ClientCommands and ListenEvents streams published
// events. Payloads are passed through as raw protobuf bytes.
func NewGRPCServer(svr *Server, opts ...grpc.ServerOption) *grpc.Server {
	all := append([]grpc.ServerOption{
		grpc.ForceServerCodec(codec.GRPCRaw{}),
		grpc.UnknownServiceHandler(svr.handleGRPC),
	}, opts...)
	gs := grpc.NewServer(all...)

	svr.mu.Lock()
	svr.grpcServers = append(svr.grpcServers, gs)
	svr.mu.Unlock()
	return gs
}

func (svr *Server) handleGRPC(_ any, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream context")
	}
	prefix := "/" + service.ServiceName + "/"
	if !strings.HasPrefix(fullMethod, prefix) {
		return status.Errorf(codes.Unimplemented, "unknown service for %s", fullMethod)
	}
	method := strings.TrimPrefix(fullMethod, prefix)

	if method == service.ListenEventsMethod {
		return svr.listenEvents(stream)
	}
	if _, ok := svr.lookup(method); !ok {
		return status.Errorf(codes.Unimplemented, "unknown method %q", method)
	}

	var req []byte
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	resp := svr.serve(stream.Context(), &message.Envelope{Method: method, Payload: req})
	if resp.Failed() {
		return status.Error(codes.Unknown, resp.Error)
	}
	payload := resp.Payload
	if payload == nil {
		payload = []byte{}
	}
	return stream.SendMsg(&payload)
}

// grpcSink buffers events for one ListenEvents stream.
type grpcSink struct {
	ch        chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

var errSlowConsumer = errors.New("event buffer full, event dropped")

func (s *grpcSink) Emit(payload []byte) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- payload:
		return nil
	default:
		return errSlowConsumer
	}
}

func (s *grpcSink) closeSink() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (svr *Server) listenEvents(stream grpc.ServerStream) error {
	var req []byte
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	sink := &grpcSink{ch: make(chan []byte, grpcEventBuffer), done: make(chan struct{})}
	remove := svr.events.add(sink)
	defer remove()
	svr.logger.Debug("event stream opened")

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-sink.done:
			return status.Error(codes.Unavailable, "server shutting down")
		case payload := <-sink.ch:
			if err := stream.SendMsg(&payload); err != nil {
				svr.logger.Debug("event stream closed", zap.Error(err))
				return err
			}
		}
	}
}
