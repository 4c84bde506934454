package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mw-bridge/codec"
	"mw-bridge/message"
	"mw-bridge/protocol"
	"mw-bridge/rpcerr"
)

// Conn multiplexes many concurrent commands over a single byte stream.
//
// Each request gets a unique sequence number and a background goroutine
// (recvLoop) reads frames and routes them: responses to the caller waiting
// on that sequence number, events to the subscribed handler.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single stream ──→ counterpart
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] → goroutine-2's callback
//	           ←── event           → event handler
//
// All callbacks and events are delivered from recvLoop, in wire order.
type Conn struct {
	rwc     io.ReadWriteCloser
	opts    options
	logger  *zap.Logger
	seq     uint32     // protected by sending
	sending sync.Mutex // whole frames only, or request A's header ends up next to request B's body
	pending sync.Map   // map[uint32]pendingSend

	onEvent atomic.Pointer[EventFunc]

	closeOnce sync.Once
	closed    chan struct{}
	err       error // set before closed is closed
}

type pendingSend struct {
	method string
	done   ResponseFunc
}

// NewConn starts the receive loop (and the heartbeat loop, unless disabled)
// on rwc. The Conn owns rwc from then on.
func NewConn(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	o := applyOptions(opts)
	c := &Conn{
		rwc:    rwc,
		opts:   o,
		logger: o.logger.Named("conn"),
		closed: make(chan struct{}),
	}
	go c.recvLoop()
	if o.heartbeat > 0 {
		go c.heartbeatLoop(o.heartbeat)
	}
	return c
}

// Dial connects to a counterpart over tcp or unix.
func Dial(ctx context.Context, network, address string, opts ...Option) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, rpcerr.Transport("", err)
	}
	return NewConn(nc, opts...), nil
}

// OpenFIFO connects through a pair of named pipes: requests are written to
// requestPath and replies and events are read from responsePath. Opening a
// FIFO blocks until the counterpart opens the other end, so the write side
// is opened first, matching the order the server opens them in.
func OpenFIFO(requestPath, responsePath string, opts ...Option) (*Conn, error) {
	w, err := os.OpenFile(requestPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, rpcerr.Transport("", err)
	}
	r, err := os.OpenFile(responsePath, os.O_RDONLY, 0)
	if err != nil {
		w.Close()
		return nil, rpcerr.Transport("", err)
	}
	return NewConn(protocol.JoinPipes(r, w), opts...), nil
}

// Send frames payload as a request for method. The response callback runs on
// the receive goroutine.
func (c *Conn) Send(method string, payload []byte, onResponse ResponseFunc) error {
	_, err := c.send(method, payload, onResponse)
	return err
}

// SendCancelable is Send plus a cancel func that forgets the request, so a
// reply that never comes does not pin its entry until the stream dies.
func (c *Conn) SendCancelable(method string, payload []byte, onResponse ResponseFunc) (func(), error) {
	seq, err := c.send(method, payload, onResponse)
	if err != nil {
		return nil, err
	}
	return func() { c.pending.Delete(seq) }, nil
}

// Pending reports the number of requests waiting for a reply.
func (c *Conn) Pending() int {
	n := 0
	c.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *Conn) send(method string, payload []byte, onResponse ResponseFunc) (uint32, error) {
	if onResponse == nil {
		return 0, rpcerr.New(rpcerr.KindTransport, method, "nil response callback")
	}
	if c.isClosed() {
		return 0, errClosed(method)
	}

	cdc := codec.GetCodec(c.opts.codec)
	body, err := cdc.Encode(&message.Envelope{Method: method, Payload: payload})
	if err != nil {
		return 0, rpcerr.Encode(method, err)
	}

	c.sending.Lock()
	defer c.sending.Unlock()

	c.seq++
	seq := c.seq
	header := protocol.Header{
		CodecType: byte(cdc.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	if body, err = protocol.Compress(&header, body, c.opts.compressThreshold); err != nil {
		return 0, rpcerr.Encode(method, err)
	}

	// Register before writing, otherwise a fast reply could beat us to it.
	c.pending.Store(seq, pendingSend{method: method, done: onResponse})

	// fail() closes c.closed before it drains pending. Checking again after
	// the Store means either we see the close here or the drain sees us.
	if c.isClosed() {
		if _, ok := c.pending.LoadAndDelete(seq); ok {
			return 0, errClosed(method)
		}
		return seq, nil
	}

	if err := protocol.Encode(c.rwc, &header, body); err != nil {
		if _, ok := c.pending.LoadAndDelete(seq); !ok {
			// The receive loop failed in the meantime and already resolved it.
			return seq, nil
		}
		go c.fail(err)
		return 0, rpcerr.Transport(method, err)
	}
	return seq, nil
}

// SubscribeEvents replaces the event handler.
func (c *Conn) SubscribeEvents(onEvent EventFunc) {
	if onEvent == nil {
		c.onEvent.Store(nil)
		return
	}
	c.onEvent.Store(&onEvent)
}

// Close fails every pending request with a closed error and releases the
// stream.
func (c *Conn) Close() error {
	c.fail(errClosed(""))
	return nil
}

// Done is closed once the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err reports why the connection stopped. It is nil while the connection is
// up.
func (c *Conn) Err() error {
	if !c.isClosed() {
		return nil
	}
	return c.err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// recvLoop is the only reader of the stream: frame boundaries can only be
// recovered by reading sequentially.
func (c *Conn) recvLoop() {
	for {
		header, body, err := protocol.DecodeLimit(c.rwc, c.opts.maxBodySize)
		if err != nil {
			c.fail(err)
			return
		}
		if body, err = protocol.Decompress(header, body, c.opts.maxBodySize); err != nil {
			c.fail(err)
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeResponse:
			c.deliverResponse(header, body)
		case protocol.MsgTypeEvent:
			c.deliverEvent(body)
		case protocol.MsgTypeHeartbeat:
		default:
			c.logger.Warn("unexpected frame", zap.Stringer("type", header.MsgType), zap.Uint32("seq", header.Seq))
		}
	}
}

func (c *Conn) deliverResponse(header *protocol.Header, body []byte) {
	v, ok := c.pending.LoadAndDelete(header.Seq)
	if !ok {
		c.logger.Debug("response for unknown request", zap.Uint32("seq", header.Seq))
		return
	}
	p := v.(pendingSend)

	var env message.Envelope
	if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &env); err != nil {
		safeInvoke(c.logger, p.method, func() { p.done(nil, rpcerr.Decode(p.method, err)) })
		return
	}
	if env.Failed() {
		safeInvoke(c.logger, p.method, func() { p.done(nil, rpcerr.Remote(p.method, env.Error)) })
		return
	}
	safeInvoke(c.logger, p.method, func() { p.done(env.Payload, nil) })
}

func (c *Conn) deliverEvent(body []byte) {
	fn := c.onEvent.Load()
	if fn == nil {
		c.logger.Debug("event dropped, no subscriber", zap.Int("bytes", len(body)))
		return
	}
	safeInvoke(c.logger, "event", func() { (*fn)(body) })
}

// fail shuts the connection down once and resolves every pending request so
// no caller waits forever.
func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		c.err = err
		close(c.closed)
		if cerr := c.rwc.Close(); cerr != nil {
			c.logger.Debug("close stream", zap.Error(cerr))
		}
		if rpcerr.KindOf(err) != rpcerr.KindClosed {
			c.logger.Warn("connection lost", zap.Error(err))
		}

		c.pending.Range(func(key, value any) bool {
			if _, ok := c.pending.LoadAndDelete(key); !ok {
				return true
			}
			p := value.(pendingSend)
			safeInvoke(c.logger, p.method, func() { p.done(nil, rpcerr.Transport(p.method, err)) })
			return true
		})
	})
}

// heartbeatLoop writes an empty heartbeat frame every interval so idle
// connections are not reaped by the counterpart or by middleboxes.
func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}
		c.sending.Lock()
		err := protocol.Encode(c.rwc, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
		c.sending.Unlock()
		if err != nil {
			c.fail(err)
			return
		}
	}
}
