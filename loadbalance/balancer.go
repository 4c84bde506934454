// Package loadbalance picks the middleware instance a client connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  instances of different capacity
//   - ConsistentHash:  keeps a session on the same instance, since accounts
//     and wallets live in the instance that created them
package loadbalance

import (
	"errors"
	"fmt"

	"mw-bridge/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer selects one instance. Implementations are goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer for a strategy name as written in configuration.
// key is only used by consistent_hash.
func New(strategy, key string) (Balancer, error) {
	switch strategy {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	}
	return nil, fmt.Errorf("unknown balancer %q", strategy)
}
