package apply

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hutchstack/hutch/pkg/events"
	"github.com/hutchstack/hutch/pkg/log"
	"github.com/hutchstack/hutch/pkg/storage"
	"github.com/hutchstack/hutch/pkg/types"
)

// Supported manifest kinds
const (
	KindWorkload = "Workload"
	KindEndpoint = "Endpoint"
	KindRoute    = "Route"
)

// Ref identifies an applied entity, used to track which file owns what
type Ref struct {
	Kind string
	Name string
}

// Manifest is one YAML document in a manifest file
type Manifest struct {
	APIVersion string    `yaml:"apiVersion"`
	Kind       string    `yaml:"kind"`
	Metadata   Metadata  `yaml:"metadata"`
	Spec       yaml.Node `yaml:"spec"`
}

type Metadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type workloadSpec struct {
	Image         string     `yaml:"image"`
	Replicas      int        `yaml:"replicas"`
	ContainerPort int        `yaml:"containerPort"`
	Env           []string   `yaml:"env,omitempty"`
	Probe         *probeSpec `yaml:"probe,omitempty"`
}

type probeSpec struct {
	Type             string `yaml:"type"`
	Path             string `yaml:"path,omitempty"`
	IntervalSeconds  int    `yaml:"intervalSeconds,omitempty"`
	TimeoutSeconds   int    `yaml:"timeoutSeconds,omitempty"`
	FailureThreshold int    `yaml:"failureThreshold,omitempty"`
	SuccessThreshold int    `yaml:"successThreshold,omitempty"`
}

type endpointSpec struct {
	Selector struct {
		Workload string `yaml:"workload"`
	} `yaml:"selector"`
	Port       int `yaml:"port"`
	TargetPort int `yaml:"targetPort,omitempty"`
}

type routeSpec struct {
	Host       string `yaml:"host,omitempty"`
	PathPrefix string `yaml:"pathPrefix"`
	Endpoint   string `yaml:"endpoint"`
}

// Applier validates manifests and writes desired state to the store.
// Applies are idempotent: re-applying an unchanged spec is a no-op and
// does not bump the workload generation.
type Applier struct {
	store  storage.Store
	broker *events.Broker
}

// New creates an applier
func New(store storage.Store, broker *events.Broker) *Applier {
	return &Applier{
		store:  store,
		broker: broker,
	}
}

// ApplyFile applies every document in a YAML manifest file. Validation is
// all-or-nothing: every document is checked before any is written.
func (a *Applier) ApplyFile(path string) ([]Ref, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	manifests, err := decodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a.Apply(manifests)
}

// Apply validates all manifests, then applies them in order. Nothing is
// written if any document fails validation.
func (a *Applier) Apply(manifests []*Manifest) ([]Ref, error) {
	type staged struct {
		ref   Ref
		apply func() error
	}

	plan := make([]staged, 0, len(manifests))
	for _, m := range manifests {
		if m.Metadata.Name == "" {
			return nil, fmt.Errorf("%w: %s manifest missing metadata.name", types.ErrSpecInvalid, m.Kind)
		}

		switch m.Kind {
		case KindWorkload:
			w, err := m.workload()
			if err != nil {
				return nil, err
			}
			plan = append(plan, staged{
				ref:   Ref{Kind: KindWorkload, Name: w.Name},
				apply: func() error { return a.applyWorkload(w) },
			})
		case KindEndpoint:
			e, err := m.endpoint()
			if err != nil {
				return nil, err
			}
			plan = append(plan, staged{
				ref:   Ref{Kind: KindEndpoint, Name: e.Name},
				apply: func() error { return a.applyEndpoint(e) },
			})
		case KindRoute:
			r, err := m.route()
			if err != nil {
				return nil, err
			}
			plan = append(plan, staged{
				ref:   Ref{Kind: KindRoute, Name: r.Name},
				apply: func() error { return a.applyRoute(r) },
			})
		default:
			return nil, fmt.Errorf("%w: unsupported kind %q", types.ErrSpecInvalid, m.Kind)
		}
	}

	refs := make([]Ref, 0, len(plan))
	for _, s := range plan {
		if err := s.apply(); err != nil {
			return refs, err
		}
		refs = append(refs, s.ref)
	}
	return refs, nil
}

// Delete removes an entity by kind and name. Deleting something already
// gone is not an error.
func (a *Applier) Delete(ref Ref) error {
	var err error
	switch ref.Kind {
	case KindWorkload:
		err = a.store.DeleteWorkload(ref.Name)
		if err == nil {
			a.broker.Publish(&events.Event{Type: events.EventWorkloadDeleted, Workload: ref.Name})
		}
	case KindEndpoint:
		err = a.store.DeleteEndpoint(ref.Name)
		if err == nil {
			a.broker.Publish(&events.Event{Type: events.EventEndpointDeleted, Endpoint: ref.Name})
		}
	case KindRoute:
		err = a.store.DeleteRoute(ref.Name)
		if err == nil {
			a.broker.Publish(&events.Event{Type: events.EventRouteDeleted, Route: ref.Name})
		}
	default:
		return fmt.Errorf("unsupported kind %q", ref.Kind)
	}

	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (a *Applier) applyWorkload(w *types.Workload) error {
	existing, err := a.store.GetWorkload(w.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	now := time.Now()
	if existing == nil {
		w.Generation = 1
		w.Status = types.WorkloadStatusActive
		w.CreatedAt = now
		w.UpdatedAt = now
	} else {
		if !workloadChanged(existing, w) {
			return nil
		}
		w.Generation = existing.Generation + 1
		w.Status = types.WorkloadStatusActive
		w.CreatedAt = existing.CreatedAt
		w.UpdatedAt = now
	}

	if err := a.store.SaveWorkload(w); err != nil {
		return err
	}

	logger := log.WithWorkload(w.Name)
	logger.Info().
		Int64("generation", w.Generation).
		Int("replicas", w.Replicas).
		Msg("workload applied")
	a.broker.Publish(&events.Event{Type: events.EventWorkloadApplied, Workload: w.Name})
	return nil
}

func (a *Applier) applyEndpoint(e *types.Endpoint) error {
	existing, err := a.store.GetEndpoint(e.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if existing == nil {
		e.CreatedAt = time.Now()
	} else {
		if existing.Selector == e.Selector && existing.Port == e.Port && existing.TargetPort == e.TargetPort {
			return nil
		}
		e.CreatedAt = existing.CreatedAt
	}

	if err := a.store.SaveEndpoint(e); err != nil {
		return err
	}

	logger := log.WithEndpoint(e.Name)
	logger.Info().Str("workload", e.Selector.Workload).Msg("endpoint applied")
	a.broker.Publish(&events.Event{Type: events.EventEndpointApplied, Endpoint: e.Name})
	return nil
}

func (a *Applier) applyRoute(r *types.Route) error {
	existing, err := a.store.GetRoute(r.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if existing == nil {
		// New routes go last in precedence order
		pos, err := a.nextRoutePosition()
		if err != nil {
			return err
		}
		r.Position = pos
		r.CreatedAt = time.Now()
	} else {
		if existing.Host == r.Host && existing.PathPrefix == r.PathPrefix && existing.Endpoint == r.Endpoint {
			return nil
		}
		r.Position = existing.Position
		r.CreatedAt = existing.CreatedAt
	}

	if err := a.store.SaveRoute(r); err != nil {
		return err
	}

	logger := log.WithComponent("apply")
	logger.Info().
		Str("route", r.Name).
		Str("path_prefix", r.PathPrefix).
		Str("endpoint", r.Endpoint).
		Msg("route applied")
	a.broker.Publish(&events.Event{Type: events.EventRouteApplied, Route: r.Name})
	return nil
}

func (a *Applier) nextRoutePosition() (int, error) {
	routes, err := a.store.ListRoutes()
	if err != nil {
		return 0, err
	}
	next := 0
	for _, r := range routes {
		if r.Position >= next {
			next = r.Position + 1
		}
	}
	return next, nil
}

func workloadChanged(old, updated *types.Workload) bool {
	return old.Image != updated.Image ||
		old.Replicas != updated.Replicas ||
		old.ContainerPort != updated.ContainerPort ||
		!reflect.DeepEqual(old.Env, updated.Env) ||
		!reflect.DeepEqual(old.Labels, updated.Labels) ||
		!reflect.DeepEqual(old.Probe, updated.Probe)
}

func (m *Manifest) workload() (*types.Workload, error) {
	var spec workloadSpec
	if err := m.Spec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: workload %s: %v", types.ErrSpecInvalid, m.Metadata.Name, err)
	}

	w := &types.Workload{
		Name:          m.Metadata.Name,
		Image:         spec.Image,
		Replicas:      spec.Replicas,
		ContainerPort: spec.ContainerPort,
		Env:           spec.Env,
		Labels:        m.Metadata.Labels,
	}
	if spec.Probe != nil {
		w.Probe = &types.Probe{
			Type:             types.ProbeType(spec.Probe.Type),
			Path:             spec.Probe.Path,
			Interval:         time.Duration(spec.Probe.IntervalSeconds) * time.Second,
			Timeout:          time.Duration(spec.Probe.TimeoutSeconds) * time.Second,
			FailureThreshold: spec.Probe.FailureThreshold,
			SuccessThreshold: spec.Probe.SuccessThreshold,
		}
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (m *Manifest) endpoint() (*types.Endpoint, error) {
	var spec endpointSpec
	if err := m.Spec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: endpoint %s: %v", types.ErrSpecInvalid, m.Metadata.Name, err)
	}

	e := &types.Endpoint{
		Name:       m.Metadata.Name,
		Selector:   types.Selector{Workload: spec.Selector.Workload},
		Port:       spec.Port,
		TargetPort: spec.TargetPort,
	}
	if e.TargetPort == 0 {
		e.TargetPort = e.Port
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (m *Manifest) route() (*types.Route, error) {
	var spec routeSpec
	if err := m.Spec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: route %s: %v", types.ErrSpecInvalid, m.Metadata.Name, err)
	}

	r := &types.Route{
		Name:       m.Metadata.Name,
		Host:       spec.Host,
		PathPrefix: spec.PathPrefix,
		Endpoint:   spec.Endpoint,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeAll(r io.Reader) ([]*Manifest, error) {
	dec := yaml.NewDecoder(r)
	var manifests []*Manifest
	for {
		var m Manifest
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				return manifests, nil
			}
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if m.Kind == "" {
			continue // Skip empty documents
		}
		manifests = append(manifests, &m)
	}
}
