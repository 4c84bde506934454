package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mw-bridge/codec"
	"mw-bridge/message"
	"mw-bridge/middleware"
	"mw-bridge/pb"
	"mw-bridge/protocol"
	"mw-bridge/registry"
	"mw-bridge/service"
)

func pingServer(opts ...Option) *Server {
	svr := NewServer(opts...)
	Register(svr, service.Ping, func(_ context.Context, req *pb.PingRequest) (*pb.PingResponse, error) {
		for i := int32(0); i < req.NumberOfEventsToSend; i++ {
			if err := svr.Publish(&pb.Event{Message: &pb.EventPing{Ping: &pb.Ping{Index: i}}}); err != nil {
				return nil, err
			}
		}
		return &pb.PingResponse{Index: req.Index, NumberOfEventsToSend: req.NumberOfEventsToSend}, nil
	})
	return svr
}

// rawClient speaks the frame protocol directly against ServeConn.
type rawClient struct {
	t    *testing.T
	conn net.Conn
	cdc  codec.Codec
}

func connect(t *testing.T, svr *Server, ct codec.CodecType) *rawClient {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	go svr.ServeConn(serverSide)
	t.Cleanup(func() { clientSide.Close() })
	return &rawClient{t: t, conn: clientSide, cdc: codec.GetCodec(ct)}
}

func (c *rawClient) send(seq uint32, method string, payload []byte) {
	c.t.Helper()
	body, err := c.cdc.Encode(&message.Envelope{Method: method, Payload: payload})
	require.NoError(c.t, err)
	require.NoError(c.t, protocol.Encode(c.conn, &protocol.Header{
		CodecType: byte(c.cdc.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}, body))
}

func (c *rawClient) read() (*protocol.Header, []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	h, body, err := protocol.Decode(c.conn)
	require.NoError(c.t, err)
	body, err = protocol.Decompress(h, body, protocol.DefaultMaxBodySize)
	require.NoError(c.t, err)
	return h, body
}

func (c *rawClient) readReply() (*protocol.Header, *message.Envelope) {
	c.t.Helper()
	h, body := c.read()
	require.Equal(c.t, protocol.MsgTypeResponse, h.MsgType)
	var env message.Envelope
	require.NoError(c.t, codec.GetCodec(codec.CodecType(h.CodecType)).Decode(body, &env))
	return h, &env
}

func encodePing(t *testing.T, req *pb.PingRequest) []byte {
	t.Helper()
	b, err := service.Ping.Request.Encode(req)
	require.NoError(t, err)
	return b
}

func TestServeConnReply(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			c := connect(t, pingServer(), ct)
			c.send(123, "Ping", encodePing(t, &pb.PingRequest{Index: 1}))

			h, env := c.readReply()
			assert.Equal(t, uint32(123), h.Seq)
			assert.Equal(t, byte(ct), h.CodecType)
			require.False(t, env.Failed(), env.Error)

			resp, err := service.Ping.Response.Decode(env.Payload)
			require.NoError(t, err)
			assert.Equal(t, &pb.PingResponse{Index: 1}, resp)
		})
	}
}

func TestServeConnFailures(t *testing.T) {
	c := connect(t, pingServer(), codec.CodecTypeBinary)

	c.send(1, "Missing", nil)
	_, env := c.readReply()
	assert.Contains(t, env.Error, `unknown method "Missing"`)

	c.send(2, "Ping", []byte{0xff, 0xff, 0xff})
	_, env = c.readReply()
	assert.Contains(t, env.Error, "decode request")
}

func TestEventsPrecedeReply(t *testing.T) {
	c := connect(t, pingServer(), codec.CodecTypeBinary)
	c.send(7, "Ping", encodePing(t, &pb.PingRequest{Index: 3, NumberOfEventsToSend: 2}))

	for i := int32(0); i < 2; i++ {
		h, body := c.read()
		require.Equal(t, protocol.MsgTypeEvent, h.MsgType)
		var ev pb.Event
		require.NoError(t, ev.Unmarshal(body))
		assert.Equal(t, i, ev.GetPing().Index)
	}
	h, env := c.readReply()
	assert.Equal(t, uint32(7), h.Seq)
	assert.False(t, env.Failed())
}

func TestRepliesMayComeOutOfOrder(t *testing.T) {
	release := make(chan struct{})
	svr := NewServer()
	svr.Handle("Slow", func(_ context.Context, req *message.Envelope) *message.Envelope {
		<-release
		return message.Reply(req, []byte("slow"))
	})
	svr.Handle("Fast", func(_ context.Context, req *message.Envelope) *message.Envelope {
		return message.Reply(req, []byte("fast"))
	})

	c := connect(t, svr, codec.CodecTypeBinary)
	c.send(1, "Slow", nil)
	c.send(2, "Fast", nil)

	h, env := c.readReply()
	assert.Equal(t, uint32(2), h.Seq)
	assert.Equal(t, []byte("fast"), env.Payload)

	close(release)
	h, env = c.readReply()
	assert.Equal(t, uint32(1), h.Seq)
	assert.Equal(t, []byte("slow"), env.Payload)
}

func TestCompressedReply(t *testing.T) {
	svr := NewServer(WithCompressThreshold(64))
	big := make([]byte, 4096)
	svr.Handle("Big", func(_ context.Context, req *message.Envelope) *message.Envelope {
		return message.Reply(req, big)
	})

	c := connect(t, svr, codec.CodecTypeBinary)
	c.send(1, "Big", nil)

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	h, body, err := protocol.Decode(c.conn)
	require.NoError(t, err)
	assert.True(t, h.Compressed())
	assert.Less(t, len(body), len(big))

	body, err = protocol.Decompress(h, body, protocol.DefaultMaxBodySize)
	require.NoError(t, err)
	var env message.Envelope
	require.NoError(t, codec.GetCodec(codec.CodecTypeBinary).Decode(body, &env))
	assert.Equal(t, big, env.Payload)
}

func TestMiddlewareOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	mark := func(name string) middleware.Middleware {
		return func(next middleware.HandlerFunc) middleware.HandlerFunc {
			return func(ctx context.Context, req *message.Envelope) *message.Envelope {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next(ctx, req)
			}
		}
	}

	svr := pingServer()
	svr.Use(mark("outer"))
	svr.Use(mark("inner"))

	resp := svr.serve(context.Background(), &message.Envelope{Method: "Ping", Payload: encodePing(t, &pb.PingRequest{})})
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestHandlerErrorBecomesFailure(t *testing.T) {
	svr := NewServer()
	Register(svr, service.GetVersion, func(context.Context, *pb.GetVersionRequest) (*pb.GetVersionResponse, error) {
		return nil, errors.New("store offline")
	})
	Register(svr, service.Log, func(context.Context, *pb.LogRequest) (*pb.LogResponse, error) {
		return nil, nil
	})

	resp := svr.serve(context.Background(), &message.Envelope{Method: "GetVersion"})
	assert.Equal(t, "store offline", resp.Error)

	resp = svr.serve(context.Background(), &message.Envelope{Method: "Log"})
	assert.Contains(t, resp.Error, "encode response")
	assert.ElementsMatch(t, []string{"GetVersion", "Log"}, svr.Methods())
}

type recordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (s *recordingSink) Emit(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return s.err
}

func TestPublishToSinks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	svr := NewServer(WithLogger(zap.New(core)))

	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("gone")}
	removeGood := svr.AddSink(good)
	svr.AddSink(bad)

	require.NoError(t, svr.Publish(&pb.Event{Message: &pb.EventPing{Ping: &pb.Ping{Index: 1}}}))
	assert.Len(t, good.payloads, 1)
	assert.Equal(t, 1, logs.FilterMessage("event not delivered").Len())

	removeGood()
	require.NoError(t, svr.Publish(&pb.Event{}))
	assert.Len(t, good.payloads, 1)
	assert.Len(t, bad.payloads, 2)

	assert.Error(t, svr.Publish(&pb.Event{Message: &pb.EventDocHeaders{DocHeaders: &pb.DocHeaders{DocHeaders: []*pb.DocHeader{nil}}}}))
}

func TestShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	svr := NewServer()
	svr.Handle("Block", func(_ context.Context, req *message.Envelope) *message.Envelope {
		close(started)
		<-release
		return message.Reply(req, nil)
	})

	go svr.serve(context.Background(), &message.Envelope{Method: "Block"})
	<-started

	err := svr.Shutdown(50 * time.Millisecond)
	assert.ErrorContains(t, err, "timeout waiting")
	close(release)

	resp := svr.serve(context.Background(), &message.Envelope{Method: "Block"})
	assert.Equal(t, "server shutting down", resp.Error)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, svr.ServeListener(l), ErrServerClosed)
}

func TestShutdownWaitsForEveryAcceptedRequest(t *testing.T) {
	var running sync.WaitGroup
	var inflight, afterShutdown atomic.Int64
	var stopped atomic.Bool

	svr := NewServer()
	svr.Handle("Work", func(_ context.Context, req *message.Envelope) *message.Envelope {
		inflight.Add(1)
		time.Sleep(time.Millisecond)
		if stopped.Load() {
			afterShutdown.Add(1)
		}
		inflight.Add(-1)
		return message.Reply(req, nil)
	})

	for i := 0; i < 8; i++ {
		running.Add(1)
		go func() {
			defer running.Done()
			for {
				resp := svr.serve(context.Background(), &message.Envelope{Method: "Work"})
				if resp.Failed() {
					return
				}
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, svr.Shutdown(5*time.Second))
	stopped.Store(true)
	assert.Equal(t, int64(0), inflight.Load())
	running.Wait()
	assert.Equal(t, int64(0), afterShutdown.Load())
}

func TestServeRegistersAndDeregisters(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr := pingServer(WithWeight(3))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, svr.RegisterWith(context.Background(), reg, registry.ServiceInstance{Network: "tcp", Addr: l.Addr().String()}, 10))

	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(l) }()

	instances, err := reg.Discover(context.Background(), service.ServiceName)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, 3, instances[0].Weight)
	assert.Equal(t, Version, instances[0].Version)

	nc, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer nc.Close()
	c := &rawClient{t: t, conn: nc, cdc: codec.GetCodec(codec.CodecTypeBinary)}
	c.send(1, "Ping", encodePing(t, &pb.PingRequest{Index: 5}))
	_, env := c.readReply()
	assert.False(t, env.Failed())

	require.NoError(t, svr.Shutdown(time.Second))
	assert.NoError(t, <-served)

	_, err = reg.Discover(context.Background(), service.ServiceName)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}
