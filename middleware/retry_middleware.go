package middleware

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"mw-bridge/message"
)

// Retryable reports whether a failed reply is worth another attempt.
type Retryable func(resp *message.Envelope) bool

// TransientFailure accepts failures that happen before a handler gets to
// run: rate limiting and refused connections. A handler timeout is not
// transient, the timed out attempt may still be running.
func TransientFailure(resp *message.Envelope) bool {
	return resp.Error == ErrTextRateLimited || strings.Contains(resp.Error, "connection refused")
}

// OnlyMethods restricts retryable to the listed wire names. Commands with
// side effects, such as AccountCreate, should not be listed.
func OnlyMethods(retryable Retryable, methods ...string) Retryable {
	allowed := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		allowed[m] = struct{}{}
	}
	return func(resp *message.Envelope) bool {
		if _, ok := allowed[resp.Method]; !ok {
			return false
		}
		return retryable(resp)
	}
}

// RetryMiddleware re-runs a command up to maxRetries times with exponential
// backoff starting at baseDelay, as long as retryable accepts the failure.
// A nil retryable means TransientFailure. Retrying stops when ctx is done.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable Retryable, logger *zap.Logger) Middleware {
	if retryable == nil {
		retryable = TransientFailure
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !resp.Failed() || !retryable(resp) {
					return resp
				}
				delay := baseDelay * time.Duration(1<<i)
				logger.Info("retrying command",
					zap.String("method", req.Method),
					zap.Int("attempt", i+1),
					zap.Duration("backoff", delay),
					zap.String("error", resp.Error))

				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return resp
				case <-timer.C:
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
