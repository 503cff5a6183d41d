package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrSpecInvalid marks validation failures. A spec that fails validation is
// rejected wholesale at submission time and never partially applied.
var ErrSpecInvalid = errors.New("spec invalid")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSpecInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the workload spec and applies probe defaults
func (w *Workload) Validate() error {
	if w.Name == "" {
		return invalidf("workload name is required")
	}
	if w.Image == "" {
		return invalidf("workload %s: image is required", w.Name)
	}
	if w.Replicas < 0 {
		return invalidf("workload %s: replicas must be >= 0, got %d", w.Name, w.Replicas)
	}
	if w.ContainerPort <= 0 || w.ContainerPort > 65535 {
		return invalidf("workload %s: container port %d out of range", w.Name, w.ContainerPort)
	}
	if w.Probe != nil {
		if err := w.Probe.validate(w.Name); err != nil {
			return err
		}
	}
	return nil
}

func (p *Probe) validate(workload string) error {
	switch p.Type {
	case ProbeHTTP, ProbeTCP:
	default:
		return invalidf("workload %s: unknown probe type %q", workload, p.Type)
	}
	if p.Type == ProbeHTTP && p.Path == "" {
		p.Path = "/"
	}
	if p.Interval <= 0 {
		p.Interval = 10 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
	return nil
}

// Validate checks the endpoint spec
func (e *Endpoint) Validate() error {
	if e.Name == "" {
		return invalidf("endpoint name is required")
	}
	if e.Selector.Workload == "" {
		return invalidf("endpoint %s: selector workload is required", e.Name)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return invalidf("endpoint %s: port %d out of range", e.Name, e.Port)
	}
	if e.TargetPort <= 0 || e.TargetPort > 65535 {
		return invalidf("endpoint %s: target port %d out of range", e.Name, e.TargetPort)
	}
	return nil
}

// Validate checks the route spec
func (r *Route) Validate() error {
	if r.Name == "" {
		return invalidf("route name is required")
	}
	if r.PathPrefix == "" {
		return invalidf("route %s: path prefix must be non-empty", r.Name)
	}
	if r.PathPrefix[0] != '/' {
		return invalidf("route %s: path prefix %q must start with /", r.Name, r.PathPrefix)
	}
	if r.Endpoint == "" {
		return invalidf("route %s: target endpoint is required", r.Name)
	}
	return nil
}
