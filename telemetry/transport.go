package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"mw-bridge/rpcerr"
	"mw-bridge/transport"
)

// Config configures Instrument.
type Config struct {
	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// ServiceName is the rpc.service attribute value.
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

func DefaultConfig() Config {
	return Config{ServiceName: "mwbridge.ClientCommands"}
}

// Instrumented wraps a Transport with one client span per command, request
// and event counters, and a duration histogram.
type Instrumented struct {
	next   transport.Transport
	cfg    Config
	tracer trace.Tracer

	requests metric.Int64Counter
	duration metric.Float64Histogram
	events   metric.Int64Counter
}

// Instrument wraps t. Instrumentation that cannot be created is skipped.
func Instrument(t transport.Transport, cfg Config) *Instrumented {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	in := &Instrumented{
		next:   t,
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	meter := cfg.MeterProvider.Meter(instrumentationName)
	in.requests, _ = meter.Int64Counter("rpc.client.requests",
		metric.WithUnit("{request}"),
		metric.WithDescription("Number of commands sent"),
	)
	in.duration, _ = meter.Float64Histogram("rpc.client.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time from send to response"),
	)
	in.events, _ = meter.Int64Counter("rpc.client.events",
		metric.WithUnit("{event}"),
		metric.WithDescription("Number of events received"),
	)
	return in
}

func (in *Instrumented) Send(method string, payload []byte, onResponse transport.ResponseFunc) error {
	call := in.begin(method, payload)
	err := in.next.Send(method, payload, func(resp []byte, err error) {
		call.finish(len(resp), err)
		onResponse(resp, err)
	})
	if err != nil {
		call.finish(0, err)
	}
	return err
}

// SendCancelable forwards cancellation to the wrapped transport when it
// supports it. A cancelled call ends its span with status CANCELLED.
func (in *Instrumented) SendCancelable(method string, payload []byte, onResponse transport.ResponseFunc) (func(), error) {
	next, ok := in.next.(transport.Canceler)
	if !ok {
		if err := in.Send(method, payload, onResponse); err != nil {
			return nil, err
		}
		return func() {}, nil
	}

	call := in.begin(method, payload)
	cancel, err := next.SendCancelable(method, payload, func(resp []byte, err error) {
		call.finish(len(resp), err)
		onResponse(resp, err)
	})
	if err != nil {
		call.finish(0, err)
		return nil, err
	}
	return func() {
		cancel()
		call.finish(0, rpcerr.New(rpcerr.KindCancelled, method, "call abandoned"))
	}, nil
}

// callSpan tracks one command until its first outcome.
type callSpan struct {
	in    *Instrumented
	span  trace.Span
	attrs []attribute.KeyValue
	start time.Time
	once  sync.Once
}

func (in *Instrumented) begin(method string, payload []byte) *callSpan {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "mwbridge"),
		attribute.String("rpc.service", in.cfg.ServiceName),
		attribute.String("rpc.method", method),
	}
	_, sp := in.tracer.Start(context.Background(), "mwbridge/"+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, in.cfg.CustomAttributes...)...),
		trace.WithAttributes(attribute.Int("rpc.request.size", len(payload))),
	)
	return &callSpan{in: in, span: sp, attrs: attrs, start: time.Now()}
}

func (s *callSpan) finish(respSize int, err error) {
	s.once.Do(func() { s.in.record(s.span, s.attrs, s.start, respSize, err) })
}

func (in *Instrumented) record(span trace.Span, attrs []attribute.KeyValue, start time.Time, respSize int, err error) {
	status := "ok"
	if err != nil {
		status = string(rpcerr.KindOf(err))
		if status == "" {
			status = "error"
		}
	}
	ctx := context.Background()
	opt := metric.WithAttributes(append(attrs, attribute.String("status", status))...)
	if in.requests != nil {
		in.requests.Add(ctx, 1, opt)
	}
	if in.duration != nil {
		in.duration.Record(ctx, time.Since(start).Seconds(), opt)
	}

	if span.IsRecording() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetAttributes(attribute.Int("rpc.response.size", respSize))
			span.SetStatus(codes.Ok, "")
		}
	}
	span.End()
}

func (in *Instrumented) SubscribeEvents(onEvent transport.EventFunc) {
	if onEvent == nil {
		in.next.SubscribeEvents(nil)
		return
	}
	in.next.SubscribeEvents(func(payload []byte) {
		if in.events != nil {
			in.events.Add(context.Background(), 1)
		}
		onEvent(payload)
	})
}

// Unwrap returns the instrumented transport.
func (in *Instrumented) Unwrap() transport.Transport {
	return in.next
}
