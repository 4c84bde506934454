// Package server implements the middleware side of the bridge: a command mux
// with a middleware chain, stream and gRPC listeners, event broadcast to
// every connected client, registry integration and graceful shutdown.
//
// Request processing pipeline on a stream connection:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → command handler → Codec.Encode → write response
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"mw-bridge/message"
	"mw-bridge/middleware"
	"mw-bridge/pb"
	"mw-bridge/protocol"
	"mw-bridge/registry"
	"mw-bridge/service"
)

// ErrServerClosed is returned by the Serve methods after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Server dispatches commands by wire name.
type Server struct {
	logger            *zap.Logger
	serviceName       string
	weight            int
	maxBodySize       int
	compressThreshold int

	mu          sync.RWMutex
	handlers    map[string]middleware.HandlerFunc // wire name → handler
	middlewares []middleware.Middleware
	listeners   map[net.Listener]struct{}
	conns       map[*streamConn]struct{}
	grpcServers []*grpc.Server

	handlerOnce sync.Once
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))

	events eventHub

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool

	registry  registry.Registry
	advertise string // address registered for discovery, differs from ":8080"-style listen addresses
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceName sets the name registered in service discovery.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// WithWeight sets the load balancing weight registered in service discovery.
func WithWeight(w int) Option {
	return func(s *Server) { s.weight = w }
}

func WithMaxBodySize(n int) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// WithCompressThreshold compresses response and event frames of at least
// n bytes on stream connections.
func WithCompressThreshold(n int) Option {
	return func(s *Server) { s.compressThreshold = n }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		logger:      zap.NewNop(),
		serviceName: service.ServiceName,
		weight:      10,
		maxBodySize: protocol.DefaultMaxBodySize,
		handlers:    make(map[string]middleware.HandlerFunc),
		listeners:   make(map[net.Listener]struct{}),
		conns:       make(map[*streamConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")
	s.events.logger = s.logger
	return s
}

// Register installs a typed handler for command m.
func Register[Req, Resp any](svr *Server, m service.Method[Req, Resp], fn func(ctx context.Context, req Req) (Resp, error)) {
	svr.Handle(m.WireName(), func(ctx context.Context, env *message.Envelope) *message.Envelope {
		req, err := m.Request.Decode(env.Payload)
		if err != nil {
			return message.Fail(env, "decode request: "+err.Error())
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return message.Fail(env, err.Error())
		}
		payload, err := m.Response.Encode(resp)
		if err != nil {
			return message.Fail(env, "encode response: "+err.Error())
		}
		return message.Reply(env, payload)
	})
}

// Handle installs a raw handler under a wire name, replacing any earlier
// one.
func (svr *Server) Handle(wireName string, h middleware.HandlerFunc) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.handlers[wireName] = h
}

// Use appends a middleware. Middlewares apply in the order added and must be
// installed before the first request is served.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.middlewares = append(svr.middlewares, mw)
}

// Methods lists the registered wire names, sorted.
func (svr *Server) Methods() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	names := make([]string, 0, len(svr.handlers))
	for name := range svr.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Handler returns the full chain: middlewares wrapped around the mux. The
// chain is built once, on first use.
func (svr *Server) Handler() middleware.HandlerFunc {
	svr.handlerOnce.Do(func() {
		svr.mu.RLock()
		mws := append([]middleware.Middleware(nil), svr.middlewares...)
		svr.mu.RUnlock()
		// Chain(A, B, C)(h) = A(B(C(h))): A sees the request first.
		svr.handler = middleware.Chain(mws...)(svr.dispatch)
	})
	return svr.handler
}

func (svr *Server) lookup(wireName string) (middleware.HandlerFunc, bool) {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	h, ok := svr.handlers[wireName]
	return h, ok
}

func (svr *Server) dispatch(ctx context.Context, req *message.Envelope) *message.Envelope {
	h, ok := svr.lookup(req.Method)
	if !ok {
		return message.Fail(req, fmt.Sprintf("unknown method %q", req.Method))
	}
	return h(ctx, req)
}

// serve runs one request through the chain, tracked for graceful shutdown.
func (svr *Server) serve(ctx context.Context, req *message.Envelope) *message.Envelope {
	// Shutdown flips the flag under the write lock, so every Add made here
	// happens before its Wait.
	svr.mu.RLock()
	if svr.shutdown.Load() {
		svr.mu.RUnlock()
		return message.Fail(req, "server shutting down")
	}
	svr.wg.Add(1)
	svr.mu.RUnlock()
	defer svr.wg.Done()
	return svr.Handler()(ctx, req)
}

// Publish serializes ev and broadcasts it to every connected client.
func (svr *Server) Publish(ev *pb.Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	svr.events.broadcast(payload)
	return nil
}

// AddSink subscribes sink to published events until remove is called.
// In-process transports use it to receive events.
func (svr *Server) AddSink(sink EventSink) (remove func()) {
	return svr.events.add(sink)
}

// Serve listens on address, registers advertiseAddr with reg when reg is not
// nil, and accepts stream connections until Shutdown.
func (svr *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := svr.RegisterWith(ctx, reg, registry.ServiceInstance{
			Network: network,
			Addr:    advertiseAddr,
		}, 10)
		cancel()
		if err != nil {
			listener.Close()
			return err
		}
	}
	return svr.ServeListener(listener)
}

// RegisterWith announces the server in reg. Shutdown deregisters it.
func (svr *Server) RegisterWith(ctx context.Context, reg registry.Registry, inst registry.ServiceInstance, ttl int64) error {
	if inst.Weight == 0 {
		inst.Weight = svr.weight
	}
	if inst.Version == "" {
		inst.Version = Version
	}
	if err := reg.Register(ctx, svr.serviceName, inst, ttl); err != nil {
		return fmt.Errorf("register %s: %w", svr.serviceName, err)
	}
	svr.mu.Lock()
	svr.registry = reg
	svr.advertise = inst.Addr
	svr.mu.Unlock()
	return nil
}

// ServeListener accepts stream connections on l until Shutdown.
func (svr *Server) ServeListener(l net.Listener) error {
	if svr.shutdown.Load() {
		l.Close()
		return ErrServerClosed
	}
	svr.mu.Lock()
	svr.listeners[l] = struct{}{}
	svr.mu.Unlock()
	defer func() {
		svr.mu.Lock()
		delete(svr.listeners, l)
		svr.mu.Unlock()
	}()

	svr.logger.Info("accepting connections", zap.Stringer("addr", l.Addr()))
	for {
		conn, err := l.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.ServeConn(conn)
	}
}

// Shutdown stops the server gracefully:
//  1. deregister from service discovery, so clients stop picking us
//  2. stop accepting connections
//  3. wait up to timeout for in-flight requests
//  4. close client connections and gRPC servers
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.RLock()
	reg, advertise := svr.registry, svr.advertise
	svr.mu.RUnlock()
	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := reg.Deregister(ctx, svr.serviceName, advertise); err != nil {
			svr.logger.Warn("deregister failed", zap.Error(err))
		}
		cancel()
	}

	// Set the flag before closing listeners so Accept errors read as intentional.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	for l := range svr.listeners {
		l.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	conns := make([]*streamConn, 0, len(svr.conns))
	for c := range svr.conns {
		conns = append(conns, c)
	}
	grpcServers := svr.grpcServers
	svr.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	svr.events.closeAll()
	for _, gs := range grpcServers {
		gs.Stop()
	}
	return err
}

// Version is reported in service discovery.
var Version = "dev"
