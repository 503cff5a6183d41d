package types

import (
	"time"
)

// Workload represents a user-defined workload: a container image that
// should be kept running at a fixed replica count.
type Workload struct {
	Name          string
	Image         string
	Replicas      int
	ContainerPort int
	Probe         *Probe
	Env           []string
	Labels        map[string]string

	// Generation is bumped on every applied change to the spec. Instances
	// carry the generation they were created for; a mismatch means the
	// instance belongs to a superseded spec.
	Generation int64

	Status    WorkloadStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkloadStatus represents the reconciliation health of a workload
type WorkloadStatus string

const (
	// WorkloadStatusActive means reconciliation is keeping up with the spec
	WorkloadStatusActive WorkloadStatus = "active"

	// WorkloadStatusDegraded means instance creation exhausted its retry
	// budget; reconciliation keeps running but operators should look
	WorkloadStatusDegraded WorkloadStatus = "degraded"
)

// Probe defines how instance readiness is determined
type Probe struct {
	Type     ProbeType // "http" or "tcp"
	Path     string    // For http probes (e.g., "/healthz")
	Interval time.Duration
	Timeout  time.Duration

	// FailureThreshold is the number of consecutive failures before an
	// instance is marked unready
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes before an
	// unready instance is marked ready again
	SuccessThreshold int
}

// ProbeType defines the type of readiness probe
type ProbeType string

const (
	ProbeHTTP ProbeType = "http"
	ProbeTCP  ProbeType = "tcp"
)

// Instance represents a single running replica of a workload
type Instance struct {
	ID           string
	Workload     string // Owning workload name (non-owning back-reference)
	Generation   int64  // Workload generation this instance was created for
	ContainerID  string
	Address      string // host:port reachable by the routing layer
	State        InstanceState
	CreatedAt    time.Time
	ReadyAt      time.Time // Last transition into InstanceReady
	UnreadySince time.Time // Set while State == InstanceUnready
	RestartCount int
	Error        string
}

// InstanceState represents the lifecycle state of an instance
type InstanceState string

const (
	// InstanceStarting means the container is created but has not yet
	// passed its readiness probe
	InstanceStarting InstanceState = "starting"

	// InstanceReady means the instance may receive traffic
	InstanceReady InstanceState = "ready"

	// InstanceUnready means the readiness probe is failing; the instance
	// is excluded from endpoints but kept so it can recover without churn
	InstanceUnready InstanceState = "unready"

	// InstanceTerminating means the instance is being shut down and will
	// be removed
	InstanceTerminating InstanceState = "terminating"
)

// Active reports whether the instance still participates in reconciliation.
// Unready instances are active: they are kept for self-healing, not
// replaced in place.
func (s InstanceState) Active() bool {
	return s != InstanceTerminating
}

// Endpoint maps a stable logical name to the Ready instances of the
// workloads its selector matches.
type Endpoint struct {
	Name       string
	Selector   Selector
	Port       int // External port
	TargetPort int // Port on the instance
	CreatedAt  time.Time
}

// Selector picks instances by attributes of their owning workload
type Selector struct {
	Workload string
}

// Matches reports whether the instance is selected
func (s Selector) Matches(inst *Instance) bool {
	return s.Workload != "" && s.Workload == inst.Workload
}

// Route directs external traffic matched by host and path prefix to an
// endpoint.
type Route struct {
	Name       string
	Host       string // Exact host, "*.suffix" wildcard, or empty for any
	PathPrefix string
	Endpoint   string // Target endpoint logical name

	// Position is the insertion order, used to break precedence ties
	// between routes with equally long path prefixes
	Position  int
	CreatedAt time.Time
}
