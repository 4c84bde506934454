package cli

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mw-bridge/registry"
	"mw-bridge/service"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestListInstances(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, listInstances(ctx, &out, reg, false, 0))
	assert.Equal(t, "no instances\n", out.String())

	require.NoError(t, reg.Register(ctx, service.ServiceName, registry.ServiceInstance{
		Addr: "10.0.0.1:31007", GRPCAddr: "10.0.0.1:31008", Weight: 5, Version: "v1",
	}, 10))
	out.Reset()
	require.NoError(t, listInstances(ctx, &out, reg, false, 0))
	assert.Equal(t, "tcp 10.0.0.1:31007 weight=5 version=v1 grpc=10.0.0.1:31008\n", out.String())
}

func TestListInstancesWatch(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, service.ServiceName, registry.ServiceInstance{Addr: "a:1", Version: "v1"}, 10))

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- listInstances(ctx, &out, reg, true, 1) }()

	require.Eventually(t, func() bool { return out.String() != "" }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, reg.Register(ctx, service.ServiceName, registry.ServiceInstance{Addr: "b:2", Version: "v1"}, 10))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after one change")
	}
	assert.Equal(t, "tcp a:1 weight=0 version=v1\n--\ntcp a:1 weight=0 version=v1\ntcp b:2 weight=0 version=v1\n", out.String())
}

func TestInstancesNeedsRegistry(t *testing.T) {
	_, err := run(t, "instances")
	assert.ErrorContains(t, err, "no registry configured")
}
