package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mw-bridge/message"
)

// LoggingMiddleware logs every command with its duration. Failures are
// logged at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
				zap.Int("request_bytes", len(req.Payload)),
				zap.Int("response_bytes", len(resp.Payload)),
			}
			if resp.Failed() {
				logger.Warn("command failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				logger.Debug("command served", fields...)
			}
			return resp
		}
	}
}

// RecoverMiddleware turns a handler panic into a failed reply.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) (resp *message.Envelope) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked", zap.String("method", req.Method), zap.Any("panic", r), zap.Stack("stack"))
					resp = message.Fail(req, ErrTextPanic)
				}
			}()
			return next(ctx, req)
		}
	}
}
