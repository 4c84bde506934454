package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mw-bridge/codec"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Client.CallTimeout)
	assert.Equal(t, codec.CodecTypeBinary, cfg.Client.CodecType())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "mwbridge.yml", `
client:
  address: 10.0.0.5:4000
  call_timeout: 2s
  codec: json
server:
  grpc_listen: ":9000"
registry:
  endpoints: ["etcd-1:2379", "etcd-2:2379"]
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:4000", cfg.Client.Address)
	assert.Equal(t, 2*time.Second, cfg.Client.CallTimeout)
	assert.Equal(t, codec.CodecTypeJSON, cfg.Client.CodecType())
	assert.Equal(t, ":9000", cfg.Server.GRPCListen)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.Registry.Endpoints)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "stream", cfg.Client.Transport)
	assert.Equal(t, int64(10), cfg.Registry.TTL)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "mwbridge.toml", `
[client]
transport = "grpc"
grpc_address = "localhost:7000"
call_timeout = "500ms"

[server]
rate_limit = 50.0
retries = 2

[telemetry]
enabled = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "grpc", cfg.Client.Transport)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.CallTimeout)
	assert.Equal(t, 50.0, cfg.Server.RateLimit)
	assert.Equal(t, 2, cfg.Server.Retries)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yml", "invalid: yaml: content: [[["))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "[client\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "invalid.yml", "logging:\n  level: loud\n"))
	assert.ErrorContains(t, err, "logging.level")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.Transport = "carrier-pigeon"
	cfg.Client.Codec = "xml"
	cfg.Server.ServiceName = ""
	cfg.Registry.Endpoints = []string{"etcd:2379"}
	cfg.Registry.TTL = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"client.transport", "client.codec", "server.service_name", "registry.ttl"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidateTransportRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.Transport = "fifo"
	assert.ErrorContains(t, cfg.Validate(), "fifo_request")

	cfg.Client.FIFORequest, cfg.Client.FIFOResponse = "/tmp/req", "/tmp/resp"
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Client.Address = ""
	assert.ErrorContains(t, cfg.Validate(), "client.address")
	cfg.Registry.Endpoints = []string{"etcd:2379"}
	assert.NoError(t, cfg.Validate())
}

func TestBindFlags(t *testing.T) {
	cfg := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"--address", "unix.sock", "--network", "unix", "--timeout", "1s", "--etcd", "a:1,b:2"}))
	assert.Equal(t, "unix.sock", cfg.Client.Address)
	assert.Equal(t, "unix", cfg.Client.Network)
	assert.Equal(t, time.Second, cfg.Client.CallTimeout)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Registry.Endpoints)
	assert.NoError(t, cfg.Validate())
}

func TestOverlayKeepsFlagsOverFile(t *testing.T) {
	flagged := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flagged.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--timeout", "2s", "--etcd", "x:1,y:2", "--telemetry"}))

	fromFile := DefaultConfig()
	fromFile.Client.CallTimeout = time.Minute
	fromFile.Client.Address = "file:1"
	require.NoError(t, fromFile.Overlay(fs))

	assert.Equal(t, 2*time.Second, fromFile.Client.CallTimeout)
	assert.Equal(t, []string{"x:1", "y:2"}, fromFile.Registry.Endpoints)
	assert.True(t, fromFile.Telemetry.Enabled)
	assert.Equal(t, "file:1", fromFile.Client.Address)
}
