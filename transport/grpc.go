package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"mw-bridge/codec"
	"mw-bridge/pb"
	"mw-bridge/rpcerr"
	"mw-bridge/service"
)

var listenEventsDesc = &grpc.StreamDesc{
	StreamName:    service.ListenEventsMethod,
	ServerStreams: true,
}

// GRPC sends each command as a unary call and receives events over a
// long-lived ListenEvents stream, opened on the first SubscribeEvents.
type GRPC struct {
	cc     grpc.ClientConnInterface
	owned  *grpc.ClientConn
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	onEvent    atomic.Pointer[EventFunc]
	streamOnce sync.Once

	mu       sync.Mutex // guards closed and wg.Add
	closed   bool
	wg       sync.WaitGroup
	inflight atomic.Int64
}

// DialGRPC creates a client connection to target and wraps it. Extra dial
// options are appended after the defaults (plaintext credentials).
func DialGRPC(target string, dialOpts []grpc.DialOption, opts ...Option) (*GRPC, error) {
	all := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, dialOpts...)
	cc, err := grpc.NewClient(target, all...)
	if err != nil {
		return nil, rpcerr.Transport("", err)
	}
	g := NewGRPC(cc, opts...)
	g.owned = cc
	return g, nil
}

// NewGRPC wraps an existing connection. The caller keeps ownership of cc.
func NewGRPC(cc grpc.ClientConnInterface, opts ...Option) *GRPC {
	o := applyOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &GRPC{
		cc:     cc,
		logger: o.logger.Named("grpc"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (g *GRPC) Send(method string, payload []byte, onResponse ResponseFunc) error {
	_, err := g.SendCancelable(method, payload, onResponse)
	return err
}

// SendCancelable runs the unary call under its own context; cancel aborts
// it and frees the goroutine waiting on it.
func (g *GRPC) SendCancelable(method string, payload []byte, onResponse ResponseFunc) (func(), error) {
	if onResponse == nil {
		return nil, rpcerr.New(rpcerr.KindTransport, method, "nil response callback")
	}
	if !g.track() {
		return nil, errClosed(method)
	}
	ctx, cancel := context.WithCancel(g.ctx)
	req := append([]byte(nil), payload...)
	g.inflight.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.inflight.Add(-1)
		defer cancel()
		var resp []byte
		err := g.cc.Invoke(ctx, service.GRPCMethodPath(method), &req, &resp, grpc.ForceCodec(codec.GRPCRaw{}))
		if err != nil {
			onResponse(nil, g.classify(method, err))
			return
		}
		onResponse(resp, nil)
	}()
	return cancel, nil
}

// Inflight reports the number of unary calls still waiting on the server.
func (g *GRPC) Inflight() int {
	return int(g.inflight.Load())
}

// classify maps a gRPC status to the error kinds of this module. Failures
// the handler reported are remote; everything about the channel itself is
// a transport failure.
func (g *GRPC) classify(method string, err error) error {
	if g.ctx.Err() != nil {
		return errClosed(method)
	}
	st, ok := status.FromError(err)
	if !ok {
		return rpcerr.Transport(method, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.Canceled, codes.DeadlineExceeded, codes.ResourceExhausted:
		return rpcerr.Transport(method, err)
	default:
		return rpcerr.Remote(method, st.Message())
	}
}

func (g *GRPC) SubscribeEvents(onEvent EventFunc) {
	if onEvent == nil {
		g.onEvent.Store(nil)
		return
	}
	g.onEvent.Store(&onEvent)
	g.streamOnce.Do(func() {
		if g.track() {
			go g.listen()
		}
	})
}

// track registers a goroutine with wg unless the transport is closed.
func (g *GRPC) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}

// listen keeps a ListenEvents stream open until Close, reconnecting with a
// capped backoff.
func (g *GRPC) listen() {
	defer g.wg.Done()
	backoff := 100 * time.Millisecond
	for {
		err := g.listenOnce()
		if g.ctx.Err() != nil {
			return
		}
		g.logger.Warn("event stream ended, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-g.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (g *GRPC) listenOnce() error {
	stream, err := g.cc.NewStream(g.ctx, listenEventsDesc, service.GRPCMethodPath(service.ListenEventsMethod), grpc.ForceCodec(codec.GRPCRaw{}))
	if err != nil {
		return err
	}
	req, err := (&pb.Request{Id: "events"}).Marshal()
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var payload []byte
		if err := stream.RecvMsg(&payload); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if fn := g.onEvent.Load(); fn != nil {
			safeInvoke(g.logger, "event", func() { (*fn)(payload) })
		}
	}
}

// Close cancels in-flight calls and the event stream. Calls cut short
// resolve with a closed error.
func (g *GRPC) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()
	g.wg.Wait()
	if g.owned != nil {
		return g.owned.Close()
	}
	return nil
}
