package router

import (
	"sync"
)

// Balancer selects one address from an endpoint's Ready set. The policy is
// pluggable; round-robin is the default.
type Balancer interface {
	Pick(endpoint string, addrs []string) string
}

// RoundRobin cycles through addresses per endpoint. Over any window of N
// requests against a stable set of N addresses, each address is picked
// exactly once.
type RoundRobin struct {
	mu      sync.Mutex
	indexes map[string]int // endpoint name -> next index
}

// NewRoundRobin creates a round-robin balancer
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{
		indexes: make(map[string]int),
	}
}

// Pick returns the next address in rotation
func (rr *RoundRobin) Pick(endpoint string, addrs []string) string {
	rr.mu.Lock()
	index := rr.indexes[endpoint] % len(addrs)
	rr.indexes[endpoint] = (index + 1) % len(addrs)
	rr.mu.Unlock()

	return addrs[index]
}

// LeastConnections picks the address with the fewest in-flight requests.
// Callers must bracket each proxied request with Acquire and Release for
// the accounting to mean anything.
type LeastConnections struct {
	mu     sync.Mutex
	active map[string]int // address -> in-flight count
}

// NewLeastConnections creates a least-connections balancer
func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		active: make(map[string]int),
	}
}

// Pick returns the address with the fewest in-flight requests; ties go to
// the first address in the ordered set
func (lc *LeastConnections) Pick(endpoint string, addrs []string) string {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	selected := addrs[0]
	min := lc.active[selected]
	for _, addr := range addrs[1:] {
		if n := lc.active[addr]; n < min {
			selected = addr
			min = n
		}
	}
	return selected
}

// Acquire records a request starting against addr
func (lc *LeastConnections) Acquire(addr string) {
	lc.mu.Lock()
	lc.active[addr]++
	lc.mu.Unlock()
}

// Release records a request finishing against addr
func (lc *LeastConnections) Release(addr string) {
	lc.mu.Lock()
	if lc.active[addr] > 0 {
		lc.active[addr]--
	}
	lc.mu.Unlock()
}
