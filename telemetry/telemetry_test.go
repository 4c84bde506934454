package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mw-bridge/config"
	"mw-bridge/rpcerr"
	"mw-bridge/transport"
)

// syncTransport answers inline with a canned reply.
type syncTransport struct {
	reply   []byte
	err     error
	sendErr error
	onEvent transport.EventFunc
}

func (s *syncTransport) Send(method string, payload []byte, onResponse transport.ResponseFunc) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	onResponse(s.reply, s.err)
	return nil
}

func (s *syncTransport) SubscribeEvents(fn transport.EventFunc) { s.onEvent = fn }

// parkedTransport never answers; cancel forgets the call.
type parkedTransport struct {
	live map[string]transport.ResponseFunc
}

func (p *parkedTransport) Send(method string, payload []byte, onResponse transport.ResponseFunc) error {
	_, err := p.SendCancelable(method, payload, onResponse)
	return err
}

func (p *parkedTransport) SendCancelable(method string, _ []byte, onResponse transport.ResponseFunc) (func(), error) {
	p.live[method] = onResponse
	return func() { delete(p.live, method) }, nil
}

func (p *parkedTransport) SubscribeEvents(transport.EventFunc) {}

func newProviders() (*tracetest.SpanRecorder, *sdktrace.TracerProvider, *sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return rec, tp, reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestInstrumentRecordsSpansAndMetrics(t *testing.T) {
	rec, tp, reader, mp := newProviders()
	inner := &syncTransport{reply: []byte{0x10, 0x01}}
	in := Instrument(inner, Config{TracerProvider: tp, MeterProvider: mp, ServiceName: "svc"})

	var got []byte
	require.NoError(t, in.Send("Ping", []byte{0x08, 0x01}, func(p []byte, err error) {
		require.NoError(t, err)
		got = p
	}))
	assert.Equal(t, []byte{0x10, 0x01}, got)

	inner.err = rpcerr.Remote("Ping", "boom")
	require.NoError(t, in.Send("Ping", nil, func([]byte, error) {}))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "mwbridge/Ping", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	metrics := collect(t, reader)
	requests, ok := metrics["rpc.client.requests"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	statuses := map[string]bool{}
	for _, dp := range requests.DataPoints {
		total += dp.Value
		v, _ := dp.Attributes.Value("status")
		statuses[v.AsString()] = true
	}
	assert.Equal(t, int64(2), total)
	assert.Equal(t, map[string]bool{"ok": true, "REMOTE": true}, statuses)
	assert.Contains(t, metrics, "rpc.client.duration")
}

func TestInstrumentSendError(t *testing.T) {
	rec, tp, _, mp := newProviders()
	in := Instrument(&syncTransport{sendErr: errors.New("refused")}, Config{TracerProvider: tp, MeterProvider: mp})

	err := in.Send("Log", nil, func([]byte, error) { t.Fatal("callback must not run") })
	assert.EqualError(t, err, "refused")
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Error, rec.Ended()[0].Status().Code)
}

func TestInstrumentForwardsCancel(t *testing.T) {
	rec, tp, _, mp := newProviders()
	inner := &parkedTransport{live: map[string]transport.ResponseFunc{}}
	in := Instrument(inner, Config{TracerProvider: tp, MeterProvider: mp})

	cancel, err := in.SendCancelable("Ping", nil, func([]byte, error) {})
	require.NoError(t, err)
	assert.Len(t, inner.live, 1)
	assert.Empty(t, rec.Ended())

	cancel()
	cancel()
	assert.Empty(t, inner.live)
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Error, rec.Ended()[0].Status().Code)

	// Without cancellation support the call is simply sent.
	plain := Instrument(&syncTransport{reply: []byte("ok")}, Config{TracerProvider: tp, MeterProvider: mp})
	var got []byte
	cancel, err = plain.SendCancelable("Ping", nil, func(p []byte, _ error) { got = p })
	require.NoError(t, err)
	cancel()
	assert.Equal(t, []byte("ok"), got)
}

func TestInstrumentCountsEvents(t *testing.T) {
	_, tp, reader, mp := newProviders()
	inner := &syncTransport{}
	in := Instrument(inner, Config{TracerProvider: tp, MeterProvider: mp})

	var n int
	in.SubscribeEvents(func([]byte) { n++ })
	inner.onEvent(nil)
	inner.onEvent(nil)
	assert.Equal(t, 2, n)

	events, ok := collect(t, reader)["rpc.client.events"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, events.DataPoints, 1)
	assert.Equal(t, int64(2), events.DataPoints[0].Value)

	in.SubscribeEvents(nil)
	assert.Nil(t, inner.onEvent)
	assert.Same(t, inner, in.Unwrap())
}

func TestSetup(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	var buf bytes.Buffer
	shutdown, err = Setup(context.Background(), config.TelemetryConfig{Enabled: true, ServiceName: "test"}, &buf)
	require.NoError(t, err)

	in := Instrument(&syncTransport{}, DefaultConfig())
	require.NoError(t, in.Send("Ping", nil, func([]byte, error) {}))
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "mwbridge/Ping")
}
