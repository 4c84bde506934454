package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"mw-bridge/message"
)

// RateLimitMiddleware applies one token bucket of r commands per second with
// the given burst to all commands. A non-positive r disables limiting.
func RateLimitMiddleware(r float64, burst int) Middleware {
	if r <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if !limiter.Allow() {
				return message.Fail(req, ErrTextRateLimited)
			}
			return next(ctx, req)
		}
	}
}

// PerMethodRateLimitMiddleware keeps a separate bucket for each method, so
// a burst of one command cannot starve the others.
func PerMethodRateLimitMiddleware(r float64, burst int) Middleware {
	if r <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	var (
		mu       sync.Mutex
		limiters = map[string]*rate.Limiter{}
	)
	get := func(method string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[method]
		if !ok {
			l = rate.NewLimiter(rate.Limit(r), burst)
			limiters[method] = l
		}
		return l
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if !get(req.Method).Allow() {
				return message.Fail(req, ErrTextRateLimited)
			}
			return next(ctx, req)
		}
	}
}
