package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"mw-bridge/config"
	"mw-bridge/loadbalance"
	"mw-bridge/registry"
	"mw-bridge/service"
	"mw-bridge/transport"
)

// Client is a Service bound to a transport it owns.
type Client struct {
	*Service
	conn     io.Closer
	Instance *registry.ServiceInstance // the discovered instance, nil when dialed directly
}

// Close fails every pending call and then closes the transport.
func (c *Client) Close() error {
	return errors.Join(c.Service.Close(), c.conn.Close())
}

type dialOptions struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	logger   *zap.Logger
	wrap     func(transport.Transport) transport.Transport
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// WithRegistry discovers the counterpart in reg instead of using the
// configured address.
func WithRegistry(reg registry.Registry) DialOption {
	return func(o *dialOptions) { o.registry = reg }
}

// WithBalancer overrides the balancer named in the configuration.
func WithBalancer(b loadbalance.Balancer) DialOption {
	return func(o *dialOptions) { o.balancer = b }
}

func WithDialLogger(l *zap.Logger) DialOption {
	return func(o *dialOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTransportWrapper decorates the transport before the dispatcher is
// built on it, e.g. with telemetry.Instrument.
func WithTransportWrapper(fn func(transport.Transport) transport.Transport) DialOption {
	return func(o *dialOptions) { o.wrap = fn }
}

// Dial opens the transport cfg selects and builds a Client on it.
//
// With a registry the counterpart is discovered under service.ServiceName
// and picked with the configured balancer; otherwise cfg.Address (or
// cfg.GRPCAddress) is used. The fifo transport never consults the registry.
func Dial(ctx context.Context, cfg config.ClientConfig, opts ...DialOption) (*Client, error) {
	o := dialOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	topts := []transport.Option{
		transport.WithCodec(cfg.CodecType()),
		transport.WithHeartbeat(cfg.Heartbeat),
		transport.WithCompressThreshold(cfg.CompressThreshold),
		transport.WithMaxBodySize(cfg.MaxMessageSize),
		transport.WithLogger(o.logger),
	}

	var (
		inst *registry.ServiceInstance
		err  error
	)
	network, address, grpcAddress := cfg.Network, cfg.Address, cfg.GRPCAddress
	if o.registry != nil && cfg.Transport != "fifo" {
		if inst, err = discover(ctx, cfg, &o); err != nil {
			return nil, err
		}
		network, address, grpcAddress = inst.NetworkOrDefault(), inst.Addr, inst.GRPCAddr
		o.logger.Debug("picked instance", zap.String("addr", inst.Addr), zap.String("grpc_addr", inst.GRPCAddr))
	}

	var (
		t    transport.Transport
		conn io.Closer
	)
	switch cfg.Transport {
	case "", "stream":
		if network == "" {
			network = "tcp"
		}
		c, err := transport.Dial(ctx, network, address, topts...)
		if err != nil {
			return nil, err
		}
		t, conn = c, c
	case "grpc":
		if grpcAddress == "" {
			return nil, fmt.Errorf("no gRPC address for %s", service.ServiceName)
		}
		g, err := transport.DialGRPC(grpcAddress, nil, topts...)
		if err != nil {
			return nil, err
		}
		t, conn = g, g
	case "fifo":
		c, err := transport.OpenFIFO(cfg.FIFORequest, cfg.FIFOResponse, topts...)
		if err != nil {
			return nil, err
		}
		t, conn = c, c
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	if o.wrap != nil {
		t = o.wrap(t)
	}
	svc := NewService(t, WithCallTimeout(cfg.CallTimeout), WithLogger(o.logger))
	return &Client{Service: svc, conn: conn, Instance: inst}, nil
}

func discover(ctx context.Context, cfg config.ClientConfig, o *dialOptions) (*registry.ServiceInstance, error) {
	instances, err := o.registry.Discover(ctx, service.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", service.ServiceName, err)
	}
	bal := o.balancer
	if bal == nil {
		if bal, err = loadbalance.New(cfg.Balancer, cfg.SessionKey); err != nil {
			return nil, err
		}
	}
	return bal.Pick(instances)
}
