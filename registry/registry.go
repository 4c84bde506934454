// Package registry is service discovery for middleware instances: servers
// register where they listen, clients discover and pick one.
package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Discover when no instance is registered.
var ErrNotFound = errors.New("registry: no instances registered")

// ServiceInstance describes one running counterpart.
type ServiceInstance struct {
	Network  string            `json:"network,omitempty"` // "tcp" or "unix"; empty means tcp
	Addr     string            `json:"addr"`
	GRPCAddr string            `json:"grpc_addr,omitempty"`
	Weight   int               `json:"weight"` // for weighted load balancing
	Version  string            `json:"version"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NetworkOrDefault returns the dial network of the instance.
func (s ServiceInstance) NetworkOrDefault() string {
	if s.Network == "" {
		return "tcp"
	}
	return s.Network
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
