package middleware

import (
	"context"
	"time"

	"mw-bridge/message"
)

// TimeOutMiddleware fails a command that runs longer than timeout. The
// handler keeps running in the background with a cancelled context; its
// late reply is discarded.
//
// The handler runs on its own goroutine, so a panic there cannot reach a
// RecoverMiddleware installed outside this one. It is turned into an
// ErrTextPanic reply here instead.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- message.Fail(req, ErrTextPanic)
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Fail(req, ErrTextTimeout)
			}
		}
	}
}
