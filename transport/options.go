package transport

import (
	"time"

	"go.uber.org/zap"

	"mw-bridge/codec"
	"mw-bridge/protocol"
)

type options struct {
	codec             codec.CodecType
	heartbeat         time.Duration
	compressThreshold int
	maxBodySize       int
	logger            *zap.Logger
}

func defaultOptions() options {
	return options{
		codec:       codec.CodecTypeBinary,
		heartbeat:   30 * time.Second,
		maxBodySize: protocol.DefaultMaxBodySize,
		logger:      zap.NewNop(),
	}
}

// Option configures a transport. Options that do not apply to a given
// transport are ignored by it.
type Option func(*options)

// WithCodec selects the envelope codec for framed transports.
func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codec = t }
}

// WithHeartbeat sets the keepalive interval of a Conn. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithCompressThreshold compresses frame bodies of at least n bytes.
// Zero disables compression.
func WithCompressThreshold(n int) Option {
	return func(o *options) { o.compressThreshold = n }
}

// WithMaxBodySize bounds inbound frame bodies.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// safeInvoke runs fn, logging instead of propagating a panic so one bad
// callback cannot take down a receive loop.
func safeInvoke(logger *zap.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked", zap.String("callback", what), zap.Any("panic", r))
		}
	}()
	fn()
}
