// Package event decodes events pushed by the middleware and fans them out to
// subscribers.
package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mw-bridge/pb"
	"mw-bridge/rpcerr"
)

// Subscriber handles one decoded event. Returning an error, or panicking,
// is logged and does not affect other subscribers.
type Subscriber func(ev *pb.Event) error

// Stats are cumulative router counters.
type Stats struct {
	Routed   uint64 // events decoded and dispatched
	Dropped  uint64 // payloads that failed to decode
	Failures uint64 // subscriber errors and panics
}

type subscription struct {
	id uint64
	fn Subscriber
}

// Router delivers every event to all subscribers registered at the moment
// of delivery, in registration order.
type Router struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	routed   atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

type Option func(*Router)

func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRouter(opts ...Option) *Router {
	r := &Router{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("events")
	return r
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (r *Router) Subscribe(fn Subscriber) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Router) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			// Copy so a Dispatch holding the old slice is unaffected.
			subs := make([]subscription, 0, len(r.subs)-1)
			subs = append(subs, r.subs[:i]...)
			r.subs = append(subs, r.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of subscribers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Route decodes one serialized event and dispatches it. Bytes that do not
// decode are logged and dropped; the error is returned for callers that
// care.
func (r *Router) Route(payload []byte) error {
	var ev pb.Event
	if err := ev.Unmarshal(payload); err != nil {
		r.dropped.Add(1)
		derr := rpcerr.Decode("event", err)
		r.logger.Warn("dropping undecodable event", zap.Error(derr), zap.Int("bytes", len(payload)))
		return derr
	}
	r.Dispatch(&ev)
	return nil
}

// Dispatch delivers ev to the current subscribers in registration order.
func (r *Router) Dispatch(ev *pb.Event) {
	r.routed.Add(1)
	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()

	kind := KindOf(ev)
	for _, s := range subs {
		if err := r.deliver(s, ev); err != nil {
			r.failures.Add(1)
			r.logger.Error("event subscriber failed",
				zap.Uint64("subscriber", s.id),
				zap.Stringer("kind", kind),
				zap.Error(err))
		}
	}
}

func (r *Router) deliver(s subscription, ev *pb.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.fn(ev)
}

func (r *Router) Stats() Stats {
	return Stats{
		Routed:   r.routed.Load(),
		Dropped:  r.dropped.Load(),
		Failures: r.failures.Load(),
	}
}
