// Package middleware wraps the counterpart's command handlers.
package middleware

import (
	"context"

	"mw-bridge/message"
)

// HandlerFunc serves one command envelope and returns the reply envelope.
// It never returns nil.
type HandlerFunc func(ctx context.Context, req *message.Envelope) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Failure texts produced by the middlewares in this package.
const (
	ErrTextTimeout     = "request timed out"
	ErrTextRateLimited = "rate limit exceeded"
	ErrTextPanic       = "internal error"
)
