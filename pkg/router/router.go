package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hutchstack/hutch/pkg/types"
)

var (
	// ErrNoMatch means no routing rule matched the request. The rule set
	// is misconfigured or the request is simply not ours.
	ErrNoMatch = errors.New("no matching route")

	// ErrNoHealthyBackend means a rule matched but its endpoint has no
	// Ready addresses right now. Reported separately from ErrNoMatch so
	// operators can tell a misconfigured rule from a backend that is
	// down.
	ErrNoHealthyBackend = errors.New("no healthy backend")
)

// Resolver turns a logical endpoint name into the current Ready addresses.
// The endpoint registry satisfies this.
type Resolver interface {
	Resolve(name string) ([]string, error)
}

// Target is the routing outcome for one request
type Target struct {
	Endpoint string
	Address  string
}

// Router matches requests against host/path rules and picks a backend
// address through the balancer
type Router struct {
	resolver Resolver
	balancer Balancer

	mu     sync.RWMutex
	routes []*types.Route // Sorted by Position
}

// New creates a router. The balancer defaults to round-robin when nil.
func New(resolver Resolver, balancer Balancer) *Router {
	if balancer == nil {
		balancer = NewRoundRobin()
	}
	return &Router{
		resolver: resolver,
		balancer: balancer,
	}
}

// SetRoutes replaces the rule set
func (r *Router) SetRoutes(routes []*types.Route) {
	sorted := make([]*types.Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	r.mu.Lock()
	r.routes = sorted
	r.mu.Unlock()
}

// Route finds the backend for a request: filter rules by host, pick the
// longest path prefix that prefixes the request path, break ties by
// registration order, then balance across the endpoint's Ready addresses.
func (r *Router) Route(host, path string) (Target, error) {
	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	var best *types.Route
	for _, route := range routes {
		if !matchHost(route.Host, host) {
			continue
		}
		if !matchPrefix(route.PathPrefix, path) {
			continue
		}
		// Routes are in registration order, so strictly-longer wins and
		// equal length keeps the earlier rule
		if best == nil || len(route.PathPrefix) > len(best.PathPrefix) {
			best = route
		}
	}

	if best == nil {
		return Target{}, ErrNoMatch
	}

	addrs, err := r.resolver.Resolve(best.Endpoint)
	if err != nil {
		return Target{}, fmt.Errorf("%w: endpoint %s: %v", ErrNoHealthyBackend, best.Endpoint, err)
	}
	if len(addrs) == 0 {
		return Target{}, fmt.Errorf("%w: endpoint %s", ErrNoHealthyBackend, best.Endpoint)
	}

	return Target{
		Endpoint: best.Endpoint,
		Address:  r.balancer.Pick(best.Endpoint, addrs),
	}, nil
}

// matchHost checks the request host against the rule's host pattern
func matchHost(pattern, host string) bool {
	// Empty pattern matches all hosts
	if pattern == "" {
		return true
	}

	// Remove port from host if present
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}

	// Exact match
	if pattern == host {
		return true
	}

	// Wildcard match (*.example.com)
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // Remove "*"
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	}

	return false
}

// matchPrefix checks a path prefix at segment granularity: "/api" matches
// "/api" and "/api/users" but not "/apiary"
func matchPrefix(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	if prefix[len(prefix)-1] == '/' {
		return true
	}
	return path[len(prefix)] == '/'
}
