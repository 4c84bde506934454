package server

import (
	"sync"

	"go.uber.org/zap"
)

// EventSink receives serialized events. Emit must not block for long: it
// runs on the publishing goroutine.
type EventSink interface {
	Emit(payload []byte) error
}

// eventHub fans published events out to sinks. Publishes are serialized so
// every sink sees events in the same order.
type eventHub struct {
	logger *zap.Logger

	publishMu sync.Mutex
	mu        sync.Mutex
	sinks     map[uint64]EventSink
	nextID    uint64
}

func (h *eventHub) add(sink EventSink) func() {
	h.mu.Lock()
	if h.sinks == nil {
		h.sinks = make(map[uint64]EventSink)
	}
	h.nextID++
	id := h.nextID
	h.sinks[id] = sink
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.sinks, id)
		h.mu.Unlock()
	}
}

func (h *eventHub) snapshot() map[uint64]EventSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[uint64]EventSink, len(h.sinks))
	for id, s := range h.sinks {
		out[id] = s
	}
	return out
}

func (h *eventHub) broadcast(payload []byte) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	for id, sink := range h.snapshot() {
		if err := sink.Emit(payload); err != nil {
			h.logger.Warn("event not delivered", zap.Uint64("sink", id), zap.Error(err))
		}
	}
}

// closeAll drops every sink; closable sinks are closed.
func (h *eventHub) closeAll() {
	h.mu.Lock()
	sinks := h.sinks
	h.sinks = nil
	h.mu.Unlock()
	for _, s := range sinks {
		if c, ok := s.(interface{ closeSink() }); ok {
			c.closeSink()
		}
	}
}
