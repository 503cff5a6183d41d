package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hutchstack/hutch/pkg/events"
	"github.com/hutchstack/hutch/pkg/health"
	"github.com/hutchstack/hutch/pkg/log"
	"github.com/hutchstack/hutch/pkg/metrics"
	"github.com/hutchstack/hutch/pkg/storage"
	"github.com/hutchstack/hutch/pkg/types"
)

// ErrUnknownEndpoint is returned by Resolve for a name no endpoint claims
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Registry maintains the mapping from stable logical endpoint names to the
// addresses of Ready instances matching each endpoint's selector.
//
// Reads are lock-free: each endpoint publishes its address set through an
// atomic pointer, so Resolve sees either the pre- or post-update snapshot,
// never a partial one. Updates are scoped to the endpoints selecting the
// affected workload; no lock spans the whole registry during an update.
type Registry struct {
	store  storage.Store
	broker *events.Broker

	// mu guards the endpoints map topology only, never address updates
	mu        sync.RWMutex
	endpoints map[string]*entry
}

type entry struct {
	endpoint types.Endpoint
	addrs    atomic.Pointer[[]string]
}

// New creates a registry over the given store
func New(store storage.Store, broker *events.Broker) *Registry {
	return &Registry{
		store:     store,
		broker:    broker,
		endpoints: make(map[string]*entry),
	}
}

// Sync loads all endpoints from the store and rebuilds their address sets.
// Called once at startup before traffic is served.
func (r *Registry) Sync() error {
	eps, err := r.store.ListEndpoints()
	if err != nil {
		return fmt.Errorf("failed to list endpoints: %w", err)
	}

	for _, ep := range eps {
		r.ApplyEndpoint(ep)
	}
	return nil
}

// ApplyEndpoint registers or replaces an endpoint and publishes its
// current address set
func (r *Registry) ApplyEndpoint(ep *types.Endpoint) {
	r.mu.Lock()
	e, ok := r.endpoints[ep.Name]
	if !ok {
		e = &entry{}
		empty := []string{}
		e.addrs.Store(&empty)
		r.endpoints[ep.Name] = e
	}
	e.endpoint = *ep
	r.mu.Unlock()

	r.refreshEndpoint(ep.Name, e)
}

// RemoveEndpoint drops an endpoint from the registry
func (r *Registry) RemoveEndpoint(name string) {
	r.mu.Lock()
	delete(r.endpoints, name)
	r.mu.Unlock()

	metrics.EndpointAddresses.DeleteLabelValues(name)
}

// Update applies a health transition for an instance: it persists the new
// state and republishes the address sets of every endpoint selecting the
// instance's workload. The caller observes its own write on the next
// Resolve (read-your-writes).
func (r *Registry) Update(instanceID string, state types.InstanceState) error {
	inst, err := r.store.GetInstance(instanceID)
	if errors.Is(err, storage.ErrNotFound) {
		// Instance was removed before the transition was applied
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}

	if inst.State == types.InstanceTerminating {
		// A terminating instance never re-enters an endpoint
		return nil
	}

	if inst.State != state {
		now := time.Now()
		inst.State = state
		switch state {
		case types.InstanceReady:
			inst.ReadyAt = now
			inst.UnreadySince = time.Time{}
		case types.InstanceUnready:
			inst.UnreadySince = now
		}

		if err := r.store.SaveInstance(inst); err != nil {
			return fmt.Errorf("failed to save instance %s: %w", instanceID, err)
		}

		evType := events.EventInstanceReady
		if state != types.InstanceReady {
			evType = events.EventInstanceUnready
		}
		r.broker.Publish(&events.Event{
			Type:     evType,
			Workload: inst.Workload,
			Instance: inst.ID,
		})
	}

	r.refreshWorkload(inst.Workload)
	return nil
}

// Resolve returns the ordered set of Ready addresses for a logical name.
// The returned slice is a snapshot; callers must not mutate it.
func (r *Registry) Resolve(name string) ([]string, error) {
	r.mu.RLock()
	e, ok := r.endpoints[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}

	return *e.addrs.Load(), nil
}

// Run consumes health transitions and broker events until the context is
// cancelled. A periodic verify pass recomputes every endpoint and logs any
// divergence between published and derived address sets.
func (r *Registry) Run(ctx context.Context, transitions <-chan health.Transition, sub events.Subscriber) {
	logger := log.WithComponent("registry")

	verify := time.NewTicker(30 * time.Second)
	defer verify.Stop()

	for {
		select {
		case tr := <-transitions:
			state := types.InstanceUnready
			if tr.Ready {
				state = types.InstanceReady
			}
			if err := r.Update(tr.InstanceID, state); err != nil {
				logger.Error().Err(err).Str("instance_id", tr.InstanceID).Msg("health update failed")
			}

		case ev := <-sub:
			r.handleEvent(ev)

		case <-verify.C:
			r.verify()

		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) handleEvent(ev *events.Event) {
	switch ev.Type {
	case events.EventEndpointApplied:
		ep, err := r.store.GetEndpoint(ev.Endpoint)
		if err != nil {
			logger := log.WithEndpoint(ev.Endpoint)
			logger.Error().Err(err).Msg("failed to load applied endpoint")
			return
		}
		r.ApplyEndpoint(ep)

	case events.EventEndpointDeleted:
		r.RemoveEndpoint(ev.Endpoint)

	case events.EventInstanceCreated, events.EventInstanceRemoved,
		events.EventWorkloadDeleted:
		r.refreshWorkload(ev.Workload)
	}
}

// refreshWorkload republishes every endpoint whose selector matches the
// workload
func (r *Registry) refreshWorkload(workload string) {
	r.mu.RLock()
	matching := make(map[string]*entry)
	for name, e := range r.endpoints {
		if e.endpoint.Selector.Workload == workload {
			matching[name] = e
		}
	}
	r.mu.RUnlock()

	for name, e := range matching {
		r.refreshEndpoint(name, e)
	}
}

// refreshEndpoint derives the endpoint's address set from the store and
// swaps it in atomically
func (r *Registry) refreshEndpoint(name string, e *entry) {
	addrs := r.derive(&e.endpoint)
	e.addrs.Store(&addrs)
	metrics.EndpointAddresses.WithLabelValues(name).Set(float64(len(addrs)))
}

// derive computes the addresses of Ready instances matching the selector
func (r *Registry) derive(ep *types.Endpoint) []string {
	instances, err := r.store.ListInstancesByWorkload(ep.Selector.Workload)
	if err != nil {
		logger := log.WithEndpoint(ep.Name)
		logger.Error().Err(err).Msg("failed to list instances")
		return []string{}
	}

	addrs := make([]string, 0, len(instances))
	for _, inst := range instances {
		if inst.State != types.InstanceReady || !ep.Selector.Matches(inst) {
			continue
		}
		addrs = append(addrs, targetAddress(inst, ep))
	}

	sort.Strings(addrs)
	return addrs
}

// targetAddress maps an instance address onto the endpoint's target port
func targetAddress(inst *types.Instance, ep *types.Endpoint) string {
	if ep.TargetPort <= 0 {
		return inst.Address
	}
	host, _, err := net.SplitHostPort(inst.Address)
	if err != nil {
		return inst.Address
	}
	return net.JoinHostPort(host, strconv.Itoa(ep.TargetPort))
}

// verify recomputes every endpoint and compares against the published
// snapshot. Divergence should not occur under the registry's invariants;
// it is logged as an internal inconsistency and corrected in place.
func (r *Registry) verify() {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.endpoints))
	for name, e := range r.endpoints {
		entries[name] = e
	}
	r.mu.RUnlock()

	for name, e := range entries {
		published := *e.addrs.Load()
		derived := r.derive(&e.endpoint)
		if !equalAddrs(published, derived) {
			logger := log.WithEndpoint(name)
			logger.Error().
				Strs("published", published).
				Strs("derived", derived).
				Msg("registry inconsistent, correcting")
			e.addrs.Store(&derived)
			metrics.EndpointAddresses.WithLabelValues(name).Set(float64(len(derived)))
		}
	}
}

func equalAddrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
