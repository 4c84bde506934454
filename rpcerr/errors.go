// Package rpcerr defines the errors reported to callers of the command
// dispatcher and to the event router.
//
// Every failure is an *Error carrying a Kind. Kinds double as sentinels, so
// callers branch with errors.Is(err, rpcerr.ErrTimeout) and friends.
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindEncode    Kind = "ENCODE"
	KindDecode    Kind = "DECODE"
	KindTransport Kind = "TRANSPORT"
	KindTimeout   Kind = "TIMEOUT"
	KindCancelled Kind = "CANCELLED"
	KindClosed    Kind = "CLOSED"
	KindRemote    Kind = "REMOTE"
)

// Sentinels for errors.Is.
var (
	ErrEncode    = &Error{Kind: KindEncode}
	ErrDecode    = &Error{Kind: KindDecode}
	ErrTransport = &Error{Kind: KindTransport}
	ErrTimeout   = &Error{Kind: KindTimeout}
	ErrCancelled = &Error{Kind: KindCancelled}
	ErrClosed    = &Error{Kind: KindClosed}
	ErrRemote    = &Error{Kind: KindRemote}
)

// Error is a classified failure of one call or one inbound message.
type Error struct {
	Kind    Kind
	Method  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Method != "" {
		msg += " " + e.Method
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the package sentinels work
// with errors.Is regardless of method or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, method, message string) error {
	return &Error{Kind: kind, Method: method, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, method string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Method: method, Err: err}
}

// Encode reports a request that could not be serialized.
func Encode(method string, err error) error {
	return Wrap(KindEncode, method, err)
}

// Decode reports bytes that do not parse against the expected schema.
func Decode(method string, err error) error {
	return Wrap(KindDecode, method, err)
}

// Transport reports a failed or lost channel. An err that is already
// classified is returned unchanged.
func Transport(method string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(KindTransport, method, err)
}

// Timeout reports a call that exceeded its deadline.
func Timeout(method string, after fmt.Stringer) error {
	return New(KindTimeout, method, "no response after "+after.String())
}

// Remote reports a failure the counterpart returned instead of a response.
func Remote(method, message string) error {
	return New(KindRemote, method, message)
}

// KindOf returns the Kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
