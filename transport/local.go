package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mw-bridge/message"
	"mw-bridge/middleware"
	"mw-bridge/rpcerr"
)

// Local calls an in-process handler instead of crossing a process boundary.
// Handlers run on their own goroutines; replies and events are queued and
// delivered one at a time from a single delivery goroutine, the same
// guarantee a stream Conn gives.
type Local struct {
	handler middleware.HandlerFunc
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	onEvent atomic.Pointer[EventFunc]

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	inflight int
	closed   bool
	done     chan struct{}
}

// NewLocal starts a Local transport in front of handler.
func NewLocal(handler middleware.HandlerFunc, opts ...Option) *Local {
	o := applyOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		handler: handler,
		logger:  o.logger.Named("local"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.deliverLoop()
	return l
}

func (l *Local) Send(method string, payload []byte, onResponse ResponseFunc) error {
	_, err := l.SendCancelable(method, payload, onResponse)
	return err
}

// SendCancelable runs the handler with a context that cancel ends. The
// handler's reply, if it still produces one, is delivered as usual.
func (l *Local) SendCancelable(method string, payload []byte, onResponse ResponseFunc) (func(), error) {
	if onResponse == nil {
		return nil, rpcerr.New(rpcerr.KindTransport, method, "nil response callback")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errClosed(method)
	}
	l.inflight++
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(l.ctx)
	req := &message.Envelope{Method: method, Payload: append([]byte(nil), payload...)}
	go func() {
		defer cancel()
		resp := l.serve(ctx, req)
		l.enqueue(func() {
			if resp.Failed() {
				onResponse(nil, rpcerr.Remote(method, resp.Error))
				return
			}
			onResponse(resp.Payload, nil)
		}, true)
	}()
	return cancel, nil
}

func (l *Local) serve(ctx context.Context, req *message.Envelope) (resp *message.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("handler panicked", zap.String("method", req.Method), zap.Any("panic", r))
			resp = message.Fail(req, middleware.ErrTextPanic)
		}
	}()
	resp = l.handler(ctx, req)
	if resp == nil {
		resp = message.Fail(req, "no reply")
	}
	return resp
}

func (l *Local) SubscribeEvents(onEvent EventFunc) {
	if onEvent == nil {
		l.onEvent.Store(nil)
		return
	}
	l.onEvent.Store(&onEvent)
}

// Emit pushes an event to the subscribed handler. Events emitted after Close
// are dropped.
func (l *Local) Emit(payload []byte) error {
	payload = append([]byte(nil), payload...)
	if !l.enqueue(func() {
		if fn := l.onEvent.Load(); fn != nil {
			(*fn)(payload)
		}
	}, false) {
		return errClosed("")
	}
	return nil
}

// Close stops accepting commands. Commands already running still get their
// reply delivered; the delivery goroutine exits once they have.
func (l *Local) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cancel()
		l.cond.Broadcast()
	}
	l.mu.Unlock()
	return nil
}

// Done is closed once every reply has been delivered after Close.
func (l *Local) Done() <-chan struct{} {
	return l.done
}

func (l *Local) enqueue(fn func(), reply bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if reply {
		l.inflight--
	} else if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

func (l *Local) deliverLoop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !(l.closed && l.inflight == 0) {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		safeInvoke(l.logger, "local delivery", fn)
	}
}
