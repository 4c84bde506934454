package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"mw-bridge/registry"
)

const defaultReplicas = 100

// ConsistentHashBalancer maps a fixed session key onto a hash ring of the
// instances, so the same client keeps landing on the same instance while
// the instance set is stable, and only sessions of a removed instance move.
//
// Each real instance is placed on the ring as many virtual nodes; without
// them a handful of instances clusters on the ring and load is uneven.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int

	mu      sync.Mutex
	ringFor string   // instance set the ring was built for
	ring    []uint32 // sorted
	nodes   map[uint32]string
}

// NewConsistentHashBalancer creates a balancer for one session key.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key, replicas: defaultReplicas}
}

// Pick returns the instance owning the session key. The ring is rebuilt only
// when the set of addresses changes.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	b.rebuildLocked(instances)
	hash := crc32.ChecksumIEEE([]byte(b.key))
	// First node clockwise from the key, wrapping past the end of the ring.
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	addr := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range instances {
		if instances[i].Addr == addr {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("hash ring out of sync: %s not in instance list", addr)
}

func (b *ConsistentHashBalancer) rebuildLocked(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	id := strings.Join(addrs, ",")
	if id == b.ringFor && b.nodes != nil {
		return
	}

	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]string, len(addrs)*b.replicas)
	for _, addr := range addrs {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = addr
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
	b.ringFor = id
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
