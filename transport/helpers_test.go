package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mw-bridge/message"
	"mw-bridge/pb"
	"mw-bridge/server"
)

type reply struct {
	payload []byte
	err     error
}

// testServer answers a few raw commands:
//
//	Echo     replies with the request payload
//	Fail     replies with a failure
//	Publish  publishes the payload, an encoded event, then replies
//	Block    waits until release is closed
type testServer struct {
	*server.Server
	release chan struct{}
	started chan struct{}
}

func newTestServer(opts ...server.Option) *testServer {
	ts := &testServer{
		Server:  server.NewServer(opts...),
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
	}
	ts.Handle("Echo", func(_ context.Context, req *message.Envelope) *message.Envelope {
		return message.Reply(req, req.Payload)
	})
	ts.Handle("Fail", func(_ context.Context, req *message.Envelope) *message.Envelope {
		return message.Fail(req, "handler exploded")
	})
	ts.Handle("Publish", func(_ context.Context, req *message.Envelope) *message.Envelope {
		var ev pb.Event
		if err := ev.Unmarshal(req.Payload); err != nil {
			return message.Fail(req, err.Error())
		}
		if err := ts.Server.Publish(&ev); err != nil {
			return message.Fail(req, err.Error())
		}
		return message.Reply(req, nil)
	})
	ts.Handle("Block", func(ctx context.Context, req *message.Envelope) *message.Envelope {
		ts.started <- struct{}{}
		select {
		case <-ts.release:
		case <-ctx.Done():
		}
		return message.Reply(req, nil)
	})
	return ts
}

func pingEvent(t *testing.T, index int32) []byte {
	t.Helper()
	b, err := (&pb.Event{Message: &pb.EventPing{Ping: &pb.Ping{Index: index}}}).Marshal()
	require.NoError(t, err)
	return b
}

func sendSync(t *testing.T, tr Transport, method string, payload []byte) reply {
	t.Helper()
	ch := make(chan reply, 1)
	require.NoError(t, tr.Send(method, payload, func(p []byte, err error) {
		ch <- reply{p, err}
	}))
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("no reply to %s", method)
		return reply{}
	}
}

// eventLog collects events from SubscribeEvents.
type eventLog struct {
	mu     sync.Mutex
	events [][]byte
}

func (l *eventLog) handler(payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, payload)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) get(i int) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[i]
}
