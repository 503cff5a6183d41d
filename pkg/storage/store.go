package storage

import (
	"errors"

	"github.com/hutchstack/hutch/pkg/types"
)

// ErrNotFound is returned when a lookup by name or ID has no match
var ErrNotFound = errors.New("not found")

// Store is the injected desired-state repository. Desired entities
// (workloads, endpoints, routes) are keyed by unique name and applied
// idempotently; the instance table is observed state owned by the
// controller.
type Store interface {
	// Workloads
	SaveWorkload(w *types.Workload) error
	GetWorkload(name string) (*types.Workload, error)
	ListWorkloads() ([]*types.Workload, error)
	DeleteWorkload(name string) error

	// Endpoints
	SaveEndpoint(e *types.Endpoint) error
	GetEndpoint(name string) (*types.Endpoint, error)
	ListEndpoints() ([]*types.Endpoint, error)
	DeleteEndpoint(name string) error

	// Routes
	SaveRoute(r *types.Route) error
	GetRoute(name string) (*types.Route, error)
	ListRoutes() ([]*types.Route, error)
	DeleteRoute(name string) error

	// Instances (observed state)
	SaveInstance(inst *types.Instance) error
	GetInstance(id string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	ListInstancesByWorkload(workload string) ([]*types.Instance, error)
	DeleteInstance(id string) error

	// Utility
	Close() error
}
