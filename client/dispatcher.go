// Package client issues commands to the middleware and correlates their
// asynchronous replies.
//
// A Dispatcher owns the registry of pending calls for one transport. Every
// call it accepts is resolved exactly once: with the decoded response, or
// with an encode, decode, transport, timeout, cancelled or closed error
// from package rpcerr.
package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"mw-bridge/rpcerr"
	"mw-bridge/service"
	"mw-bridge/transport"
)

// CallID identifies a pending call. IDs are never reused by a Dispatcher.
type CallID uint64

// pendingCall is the registry entry for one in-flight command.
type pendingCall struct {
	method string
	// complete decodes the response (when err is nil) and hands the result
	// to the caller's completion handler.
	complete func(payload []byte, err error)
	timer    *time.Timer
	// cancel releases the transport's state for the call, when the
	// transport is a transport.Canceler.
	cancel func()
}

// Dispatcher turns typed command invocations into transport sends and routes
// each reply back to the invocation that caused it.
type Dispatcher struct {
	transport  transport.Transport
	baseLogger *zap.Logger
	logger     *zap.Logger
	timeout    time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[CallID]*pendingCall
	closed  bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCallTimeout sets the default per-call timeout. Zero waits forever.
func WithCallTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(disp *Dispatcher) {
		if l != nil {
			disp.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher over t.
func NewDispatcher(t transport.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		logger:    zap.NewNop(),
		pending:   make(map[CallID]*pendingCall),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.baseLogger = d.logger
	d.logger = d.logger.Named("dispatcher")
	return d
}

// Transport returns the transport the dispatcher sends on.
func (d *Dispatcher) Transport() transport.Transport {
	return d.transport
}

type callOptions struct {
	timeout    time.Duration
	hasTimeout bool
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// Timeout overrides the dispatcher's default timeout for one call. Zero
// disables the timeout.
func Timeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.hasTimeout = true
	}
}

// Invoke encodes req, sends it as command m and arranges for done to be
// called exactly once with the outcome.
//
// If req cannot be encoded, or the dispatcher is closed, Invoke returns the
// error and done is never called. Every other failure reaches done,
// including a transport that refuses the send. done runs on whichever
// goroutine resolved the call (the transport's receive goroutine in the
// common case) and must not block for long.
func Invoke[Req, Resp any](d *Dispatcher, m service.Method[Req, Resp], req Req, done func(Resp, error), opts ...CallOption) (CallID, error) {
	wire := m.WireName()
	payload, err := m.Request.Encode(req)
	if err != nil {
		return 0, rpcerr.Encode(wire, err)
	}

	complete := func(payload []byte, err error) {
		var zero Resp
		if err != nil {
			d.finish(wire, func() { done(zero, err) })
			return
		}
		resp, err := m.Response.Decode(payload)
		if err != nil {
			err = rpcerr.Decode(wire, err)
			d.finish(wire, func() { done(zero, err) })
			return
		}
		d.finish(wire, func() { done(resp, nil) })
	}
	return d.send(wire, payload, complete, opts)
}

func (d *Dispatcher) send(method string, payload []byte, complete func([]byte, error), opts []CallOption) (CallID, error) {
	co := callOptions{timeout: d.timeout}
	for _, opt := range opts {
		opt(&co)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, rpcerr.New(rpcerr.KindClosed, method, "dispatcher closed")
	}
	d.seq++
	id := CallID(d.seq)
	call := &pendingCall{method: method, complete: complete}
	// Registered before Send so an immediate reply always finds its entry.
	d.pending[id] = call
	if co.timeout > 0 {
		timeout := co.timeout
		call.timer = time.AfterFunc(timeout, func() {
			d.abandon(id, rpcerr.Timeout(method, timeout))
		})
	}
	d.mu.Unlock()

	onResponse := func(payload []byte, err error) {
		if err != nil {
			err = rpcerr.Transport(method, err)
		}
		d.resolve(id, payload, err)
	}
	var (
		cancel func()
		err    error
	)
	if c, ok := d.transport.(transport.Canceler); ok {
		cancel, err = c.SendCancelable(method, payload, onResponse)
	} else {
		err = d.transport.Send(method, payload, onResponse)
	}
	if err != nil {
		d.resolve(id, nil, rpcerr.Transport(method, err))
		return id, nil
	}
	if cancel != nil {
		d.attachCancel(id, cancel)
	}
	return id, nil
}

// attachCancel stores the transport's cancel func on a call that is still
// pending. A call settled in the meantime is cancelled right away, which is
// harmless when it was settled by its reply.
func (d *Dispatcher) attachCancel(id CallID, cancel func()) {
	d.mu.Lock()
	call, ok := d.pending[id]
	if ok {
		call.cancel = cancel
	}
	d.mu.Unlock()
	if !ok {
		cancel()
	}
}

// take removes the entry for id. Only the first of a reply, a timeout, a
// cancel or Close gets it; the rest see ok == false.
func (d *Dispatcher) take(id CallID) (*pendingCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call, ok := d.pending[id]
	if !ok {
		return nil, false
	}
	delete(d.pending, id)
	if call.timer != nil {
		call.timer.Stop()
	}
	return call, true
}

func (d *Dispatcher) resolve(id CallID, payload []byte, err error) bool {
	call, ok := d.take(id)
	if !ok {
		d.logger.Debug("ignoring completion for settled call", zap.Uint64("call", uint64(id)), zap.Error(err))
		return false
	}
	call.complete(payload, err)
	return true
}

// abandon settles a call the transport has not answered and tells the
// transport to forget it.
func (d *Dispatcher) abandon(id CallID, err error) bool {
	call, ok := d.take(id)
	if !ok {
		return false
	}
	if call.cancel != nil {
		call.cancel()
	}
	call.complete(nil, err)
	return true
}

// finish runs a completion handler, containing a panic to the call that
// raised it.
func (d *Dispatcher) finish(method string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("completion handler panicked", zap.String("method", method), zap.Any("panic", r))
		}
	}()
	fn()
}

// Cancel resolves the call with a cancelled error. It reports false when the
// call already completed. A reply arriving later is ignored.
func (d *Dispatcher) Cancel(id CallID) bool {
	d.mu.Lock()
	call, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	return d.abandon(id, rpcerr.New(rpcerr.KindCancelled, call.method, "call cancelled"))
}

// Pending reports the number of unresolved calls.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close resolves every pending call with a closed error and rejects new
// calls. It does not close the transport.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	ids := make([]CallID, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		if call, ok := d.take(id); ok {
			if call.cancel != nil {
				call.cancel()
			}
			call.complete(nil, rpcerr.New(rpcerr.KindClosed, call.method, "dispatcher closed"))
		}
	}
	return nil
}
