// Package transport defines the boundary between the command dispatcher and
// whatever actually moves bytes to the middleware, plus the implementations
// shipped with this module:
//
//   - Conn multiplexes framed requests, responses and events over one
//     byte stream (TCP, unix socket, pair of named pipes).
//   - Local runs an in-process handler, the analogue of a native binding.
//   - GRPC maps each command onto a unary gRPC method and events onto a
//     server stream.
package transport

import "mw-bridge/rpcerr"

// ResponseFunc receives the reply to one Send: the serialized response, or
// a transport-level error.
type ResponseFunc func(payload []byte, err error)

// EventFunc receives one serialized event.
type EventFunc func(payload []byte)

// Transport sends serialized commands and pushes serialized events.
//
// Send invokes onResponse exactly once, asynchronously, for every call that
// returns nil. A Send that returns an error never invokes onResponse.
//
// SubscribeEvents holds a single handler; a later call replaces the earlier
// one. Passing nil stops delivery.
type Transport interface {
	Send(method string, payload []byte, onResponse ResponseFunc) error
	SubscribeEvents(onEvent EventFunc)
}

// Canceler is implemented by transports that hold state for every call in
// flight. SendCancelable behaves like Send and also returns cancel, which
// releases that state once the caller has stopped waiting (timeout, cancel,
// shutdown). After cancel, onResponse runs at most once more and may not run
// at all.
type Canceler interface {
	SendCancelable(method string, payload []byte, onResponse ResponseFunc) (cancel func(), err error)
}

func errClosed(method string) error {
	return rpcerr.New(rpcerr.KindClosed, method, "transport closed")
}
