package transport

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mw-bridge/codec"
	"mw-bridge/message"
	"mw-bridge/pb"
	"mw-bridge/protocol"
	"mw-bridge/rpcerr"
	"mw-bridge/server"
)

func dialTestServer(t *testing.T, ts *testServer, opts ...Option) *Conn {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	go ts.ServeConn(serverSide)
	c := NewConn(clientSide, append([]Option{WithHeartbeat(0)}, opts...)...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnSerial(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			c := dialTestServer(t, newTestServer(), WithCodec(ct))
			for i := 0; i < 3; i++ {
				want := []byte(fmt.Sprintf("payload-%d", i))
				r := sendSync(t, c, "Echo", want)
				require.NoError(t, r.err)
				assert.Equal(t, want, r.payload)
			}
		})
	}
}

func TestConnConcurrent(t *testing.T) {
	c := dialTestServer(t, newTestServer())

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		want := []byte(fmt.Sprintf("req-%d", i))
		err := c.Send("Echo", want, func(got []byte, err error) {
			defer wg.Done()
			if err != nil {
				errs <- err
			} else if !bytes.Equal(got, want) {
				errs <- fmt.Errorf("got %q, want %q", got, want)
			}
		})
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestConnRemoteFailure(t *testing.T) {
	c := dialTestServer(t, newTestServer())

	r := sendSync(t, c, "Fail", nil)
	assert.ErrorIs(t, r.err, rpcerr.ErrRemote)
	assert.ErrorContains(t, r.err, "handler exploded")

	r = sendSync(t, c, "Nope", nil)
	assert.ErrorIs(t, r.err, rpcerr.ErrRemote)
}

func TestConnEventsBeforeReply(t *testing.T) {
	c := dialTestServer(t, newTestServer())

	var (
		mu    sync.Mutex
		order []string
	)
	c.SubscribeEvents(func(payload []byte) {
		var ev pb.Event
		if !assert.NoError(t, ev.Unmarshal(payload)) {
			return
		}
		mu.Lock()
		order = append(order, fmt.Sprintf("event %d", ev.GetPing().Index))
		mu.Unlock()
	})

	r := sendSync(t, c, "Publish", pingEvent(t, 4))
	require.NoError(t, r.err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"event 4"}, order)
}

func TestConnEventWithoutSubscriber(t *testing.T) {
	c := dialTestServer(t, newTestServer())
	c.SubscribeEvents(nil)

	r := sendSync(t, c, "Publish", pingEvent(t, 1))
	assert.NoError(t, r.err)
}

func TestConnCompression(t *testing.T) {
	ts := newTestServer(server.WithCompressThreshold(128))
	c := dialTestServer(t, ts, WithCompressThreshold(128))

	big := bytes.Repeat([]byte("compressible "), 1000)
	r := sendSync(t, c, "Echo", big)
	require.NoError(t, r.err)
	assert.Equal(t, big, r.payload)
}

func TestConnHeartbeatIsIgnored(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	go newTestServer().ServeConn(serverSide)
	c := NewConn(clientSide, WithHeartbeat(5*time.Millisecond))
	defer c.Close()

	time.Sleep(30 * time.Millisecond)
	r := sendSync(t, c, "Echo", []byte("still alive"))
	require.NoError(t, r.err)
	assert.Nil(t, c.Err())
}

func TestConnCloseFailsPending(t *testing.T) {
	ts := newTestServer()
	c := dialTestServer(t, ts)

	ch := make(chan reply, 1)
	require.NoError(t, c.Send("Block", nil, func(p []byte, err error) { ch <- reply{p, err} }))
	<-ts.started

	require.NoError(t, c.Close())
	select {
	case r := <-ch:
		assert.ErrorIs(t, r.err, rpcerr.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call not resolved by Close")
	}
	<-c.Done()

	err := c.Send("Echo", nil, func([]byte, error) { t.Error("callback after Close") })
	assert.ErrorIs(t, err, rpcerr.ErrClosed)
	close(ts.release)
}

// fakePeer reads one request and answers it with reply, then optionally
// hangs up.
func fakePeer(rwc net.Conn, answer func(h *protocol.Header) (*protocol.Header, []byte), hangUp bool) {
	go func() {
		h, _, err := protocol.Decode(rwc)
		if err != nil {
			return
		}
		if answer != nil {
			rh, body := answer(h)
			_ = protocol.Encode(rwc, rh, body)
		}
		if hangUp {
			rwc.Close()
		}
	}()
}

func TestConnPeerHangUp(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	fakePeer(serverSide, nil, true)
	c := NewConn(clientSide, WithHeartbeat(0))

	ch := make(chan reply, 1)
	require.NoError(t, c.Send("Echo", nil, func(p []byte, err error) { ch <- reply{p, err} }))

	select {
	case r := <-ch:
		assert.ErrorIs(t, r.err, rpcerr.ErrTransport)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call not resolved on hang up")
	}
	<-c.Done()
	assert.Error(t, c.Err())
}

func TestConnMalformedReply(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	fakePeer(serverSide, func(h *protocol.Header) (*protocol.Header, []byte) {
		return &protocol.Header{CodecType: protocol.CodecTypeBinary, MsgType: protocol.MsgTypeResponse, Seq: h.Seq}, []byte{0xff}
	}, false)
	c := NewConn(clientSide, WithHeartbeat(0))
	defer c.Close()

	r := sendSync(t, c, "Echo", nil)
	assert.ErrorIs(t, r.err, rpcerr.ErrDecode)
}

func TestConnUnknownSeqIsIgnored(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	cdc := codec.GetCodec(codec.CodecTypeBinary)
	fakePeer(serverSide, func(h *protocol.Header) (*protocol.Header, []byte) {
		stray, _ := cdc.Encode(&message.Envelope{Method: "Echo", Payload: []byte("stray")})
		_ = protocol.Encode(serverSide, &protocol.Header{CodecType: protocol.CodecTypeBinary, MsgType: protocol.MsgTypeResponse, Seq: h.Seq + 100}, stray)
		good, _ := cdc.Encode(&message.Envelope{Method: "Echo", Payload: []byte("mine")})
		return &protocol.Header{CodecType: protocol.CodecTypeBinary, MsgType: protocol.MsgTypeResponse, Seq: h.Seq}, good
	}, false)
	c := NewConn(clientSide, WithHeartbeat(0))
	defer c.Close()

	r := sendSync(t, c, "Echo", nil)
	require.NoError(t, r.err)
	assert.Equal(t, []byte("mine"), r.payload)
}

func TestConnCancelForgetsRequest(t *testing.T) {
	ts := newTestServer()
	c := dialTestServer(t, ts)

	ch := make(chan reply, 1)
	cancel, err := c.SendCancelable("Block", nil, func(p []byte, err error) { ch <- reply{p, err} })
	require.NoError(t, err)
	<-ts.started
	assert.Equal(t, 1, c.Pending())

	cancel()
	assert.Equal(t, 0, c.Pending())

	// The late reply finds no request and is dropped.
	close(ts.release)
	select {
	case r := <-ch:
		t.Fatalf("cancelled request got a reply: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
	r := sendSync(t, c, "Echo", []byte("still up"))
	require.NoError(t, r.err)
}
