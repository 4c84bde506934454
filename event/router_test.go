package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/protobuf/encoding/protowire"

	"mw-bridge/pb"
	"mw-bridge/rpcerr"
)

func marshal(t *testing.T, ev *pb.Event) []byte {
	t.Helper()
	b, err := ev.Marshal()
	require.NoError(t, err)
	return b
}

func TestRouteDeliversInRegistrationOrder(t *testing.T) {
	r := NewRouter()
	var order []int
	for i := 0; i < 3; i++ {
		r.Subscribe(func(ev *pb.Event) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, r.Route(marshal(t, &pb.Event{Message: &pb.EventPing{Ping: &pb.Ping{Index: 1}}})))
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, Stats{Routed: 1}, r.Stats())
}

func TestEventWithNoFieldIsDelivered(t *testing.T) {
	r := NewRouter()
	var got []*pb.Event
	r.Subscribe(func(ev *pb.Event) error {
		got = append(got, ev)
		return nil
	})

	require.NoError(t, r.Route(nil))
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Message)
	assert.Equal(t, KindNone, KindOf(got[0]))
}

func TestFailingSubscriberDoesNotBlockOthers(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := NewRouter(WithLogger(zap.New(core)))

	var delivered int
	r.Subscribe(func(ev *pb.Event) error { panic("subscriber bug") })
	r.Subscribe(func(ev *pb.Event) error { return errors.New("refused") })
	r.Subscribe(func(ev *pb.Event) error {
		delivered++
		return nil
	})

	require.NoError(t, r.Route(marshal(t, &pb.Event{Message: &pb.EventAccountAdd{AccountAdd: &pb.AccountAdd{Index: 0}}})))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, uint64(2), r.Stats().Failures)
	assert.Equal(t, 2, logs.FilterMessage("event subscriber failed").Len())
}

func TestUndecodableEventIsDropped(t *testing.T) {
	r := NewRouter()
	called := false
	r.Subscribe(func(ev *pb.Event) error {
		called = true
		return nil
	})

	err := r.Route([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, rpcerr.ErrDecode)
	assert.False(t, called)
	assert.Equal(t, Stats{Dropped: 1}, r.Stats())
}

func TestUnsubscribe(t *testing.T) {
	r := NewRouter()
	var a, b int
	unsubA := r.Subscribe(func(ev *pb.Event) error { a++; return nil })
	r.Subscribe(func(ev *pb.Event) error { b++; return nil })

	r.Dispatch(&pb.Event{})
	unsubA()
	unsubA()
	r.Dispatch(&pb.Event{})

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, r.Len())
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	r := NewRouter()
	var second int
	var unsub func()
	unsub = r.Subscribe(func(ev *pb.Event) error {
		unsub()
		return nil
	})
	r.Subscribe(func(ev *pb.Event) error { second++; return nil })

	r.Dispatch(&pb.Event{})
	r.Dispatch(&pb.Event{})
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, r.Len())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindAccountAdd, KindOf(&pb.Event{Message: &pb.EventAccountAdd{}}))
	assert.Equal(t, KindPing, KindOf(&pb.Event{Message: &pb.EventPing{}}))
	assert.Equal(t, KindDocHeaders, KindOf(&pb.Event{Message: &pb.EventDocHeaders{}}))
	assert.Equal(t, KindUnknown, KindOf(&pb.Event{Message: &pb.EventUnknown{Field: 99}}))
	assert.Equal(t, "accountAdd", KindAccountAdd.String())
}

func TestHandlersNarrowByKind(t *testing.T) {
	var (
		pings   []int32
		adds    []int64
		unknown []protowire.Number
		none    int
	)
	sub := Handlers{
		OnPing:       func(p *pb.Ping) error { pings = append(pings, p.Index); return nil },
		OnAccountAdd: func(a *pb.AccountAdd) error { adds = append(adds, a.Index); return nil },
		OnUnknown:    func(u *pb.EventUnknown) error { unknown = append(unknown, u.Field); return nil },
		OnNone:       func() error { none++; return nil },
	}.Subscriber()

	require.NoError(t, sub(&pb.Event{Message: &pb.EventPing{Ping: &pb.Ping{Index: 7}}}))
	require.NoError(t, sub(&pb.Event{Message: &pb.EventAccountAdd{AccountAdd: &pb.AccountAdd{Index: 2}}}))
	require.NoError(t, sub(&pb.Event{Message: &pb.EventUnknown{Field: 42}}))
	require.NoError(t, sub(&pb.Event{Message: &pb.EventDocHeaders{}}))
	require.NoError(t, sub(&pb.Event{}))

	assert.Equal(t, []int32{7}, pings)
	assert.Equal(t, []int64{2}, adds)
	assert.Equal(t, []protowire.Number{42}, unknown)
	assert.Equal(t, 1, none)
}
