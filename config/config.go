// Package config loads mw-bridge settings from YAML or TOML files, with
// defaults and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"mw-bridge/codec"
	"mw-bridge/loadbalance"
)

// Config is the complete configuration for clients and servers.
type Config struct {
	Client    ClientConfig    `yaml:"client" toml:"client"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Registry  RegistryConfig  `yaml:"registry" toml:"registry"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// ClientConfig controls how a client reaches the middleware.
type ClientConfig struct {
	Transport         string        `yaml:"transport" toml:"transport"` // "stream", "grpc" or "fifo"
	Network           string        `yaml:"network" toml:"network"`     // "tcp" or "unix"
	Address           string        `yaml:"address" toml:"address"`     // empty = discover through the registry
	GRPCAddress       string        `yaml:"grpc_address" toml:"grpc_address"`
	FIFORequest       string        `yaml:"fifo_request" toml:"fifo_request"`
	FIFOResponse      string        `yaml:"fifo_response" toml:"fifo_response"`
	CallTimeout       time.Duration `yaml:"call_timeout" toml:"call_timeout"` // 0 = no timeout
	Codec             string        `yaml:"codec" toml:"codec"`               // "binary" or "json"
	CompressThreshold int           `yaml:"compress_threshold" toml:"compress_threshold"`
	Heartbeat         time.Duration `yaml:"heartbeat" toml:"heartbeat"`
	MaxMessageSize    int           `yaml:"max_message_size" toml:"max_message_size"`
	Balancer          string        `yaml:"balancer" toml:"balancer"`       // round_robin, weighted_random, consistent_hash
	SessionKey        string        `yaml:"session_key" toml:"session_key"` // consistent_hash key
}

// ServerConfig controls the counterpart service.
type ServerConfig struct {
	Network        string        `yaml:"network" toml:"network"`
	Listen         string        `yaml:"listen" toml:"listen"`
	GRPCListen     string        `yaml:"grpc_listen" toml:"grpc_listen"` // empty disables gRPC
	FIFORequest    string        `yaml:"fifo_request" toml:"fifo_request"`
	FIFOResponse   string        `yaml:"fifo_response" toml:"fifo_response"`
	Advertise      string        `yaml:"advertise" toml:"advertise"`
	ServiceName    string        `yaml:"service_name" toml:"service_name"`
	Weight         int           `yaml:"weight" toml:"weight"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" toml:"handler_timeout"`
	RateLimit      float64       `yaml:"rate_limit" toml:"rate_limit"` // commands per second, 0 = unlimited
	RateBurst      int           `yaml:"rate_burst" toml:"rate_burst"`
	RatePerMethod  bool          `yaml:"rate_per_method" toml:"rate_per_method"` // one bucket per command instead of one shared
	Retries        int           `yaml:"retries" toml:"retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" toml:"retry_backoff"`
	RetryMethods   []string      `yaml:"retry_methods" toml:"retry_methods"` // wire names safe to run twice
	ShutdownGrace  time.Duration `yaml:"shutdown_grace" toml:"shutdown_grace"`
	DataDir        string        `yaml:"data_dir" toml:"data_dir"` // root path for wallets created by the in-memory backend
}

// RegistryConfig selects service discovery. No endpoints means no registry.
type RegistryConfig struct {
	Endpoints   []string      `yaml:"endpoints" toml:"endpoints"`
	TTL         int64         `yaml:"ttl" toml:"ttl"` // seconds
	DialTimeout time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console
}

type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled" toml:"enabled"`
	ServiceName    string        `yaml:"service_name" toml:"service_name"`
	MetricInterval time.Duration `yaml:"metric_interval" toml:"metric_interval"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Transport:         "stream",
			Network:           "tcp",
			Address:           "127.0.0.1:31007",
			GRPCAddress:       "127.0.0.1:31008",
			CallTimeout:       30 * time.Second,
			Codec:             "binary",
			CompressThreshold: 64 << 10,
			Heartbeat:         30 * time.Second,
			MaxMessageSize:    16 << 20,
			Balancer:          "round_robin",
		},
		Server: ServerConfig{
			Network:        "tcp",
			Listen:         "127.0.0.1:31007",
			ServiceName:    "mwbridge.ClientCommands",
			Weight:         10,
			HandlerTimeout: 10 * time.Second,
			RateBurst:      100,
			RetryBackoff:   50 * time.Millisecond,
			RetryMethods:   []string{"Ping", "GetVersion", "ImageGetBlob"},
			ShutdownGrace:  5 * time.Second,
		},
		Registry: RegistryConfig{
			TTL:         10,
			DialTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "mw-bridge",
			MetricInterval: time.Minute,
		},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml is TOML, anything else YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Client.Transport {
	case "stream":
		check(c.Client.Network == "tcp" || c.Client.Network == "unix", "client.network must be tcp or unix, got %q", c.Client.Network)
		check(c.Client.Address != "" || len(c.Registry.Endpoints) > 0, "client.address required without registry.endpoints")
	case "grpc":
		check(c.Client.GRPCAddress != "", "client.grpc_address required for grpc transport")
	case "fifo":
		check(c.Client.FIFORequest != "" && c.Client.FIFOResponse != "", "client.fifo_request and client.fifo_response required for fifo transport")
	default:
		errs = append(errs, fmt.Errorf("client.transport must be stream, grpc or fifo, got %q", c.Client.Transport))
	}
	check(c.Client.CallTimeout >= 0, "client.call_timeout must not be negative")
	check(c.Client.CompressThreshold >= 0, "client.compress_threshold must not be negative")
	check(c.Client.MaxMessageSize > 0, "client.max_message_size must be positive")
	if _, err := codec.ParseCodecType(c.Client.Codec); err != nil {
		errs = append(errs, fmt.Errorf("client.codec: %w", err))
	}
	if _, err := loadbalance.New(c.Client.Balancer, c.Client.SessionKey); err != nil {
		errs = append(errs, fmt.Errorf("client.balancer: %w", err))
	}

	check(c.Server.Network == "tcp" || c.Server.Network == "unix", "server.network must be tcp or unix, got %q", c.Server.Network)
	check(c.Server.ServiceName != "", "server.service_name required")
	check(c.Server.RateLimit >= 0, "server.rate_limit must not be negative")
	check(c.Server.Retries >= 0, "server.retries must not be negative")

	if len(c.Registry.Endpoints) > 0 {
		check(c.Registry.TTL > 0, "registry.ttl must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	check(c.Logging.Format == "json" || c.Logging.Format == "console", "logging.format must be json or console, got %q", c.Logging.Format)

	return errors.Join(errs...)
}

// CodecType returns the parsed client codec. Call after Validate.
func (c *ClientConfig) CodecType() codec.CodecType {
	t, _ := codec.ParseCodecType(c.Codec)
	return t
}
