package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/hutchstack/hutch/pkg/types"
)

// ErrImagePull marks a failed image pull. Pulls fail for transient reasons
// (registry unreachable, throttling) far more often than permanent ones, so
// the controller treats this as retryable rather than fatal.
var ErrImagePull = errors.New("image pull failed")

// ContainerState is the coarse runtime state of a container
type ContainerState string

const (
	ContainerRunning ContainerState = "running"
	ContainerStopped ContainerState = "stopped"
	ContainerUnknown ContainerState = "unknown"
)

// Runtime is the container runtime the controller drives. Implementations
// must be safe for concurrent use; the controller reconciles different
// workloads in parallel.
type Runtime interface {
	// PullImage fetches the image from its registry. Failures wrap
	// ErrImagePull.
	PullImage(ctx context.Context, imageRef string) error

	// CreateContainer creates (but does not start) a container for the
	// instance and returns its container ID
	CreateContainer(ctx context.Context, inst *types.Instance, w *types.Workload) (string, error)

	// StartContainer starts a created container
	StartContainer(ctx context.Context, containerID string) error

	// StopContainer stops a running container, SIGTERM first, SIGKILL
	// after the timeout
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error

	// RemoveContainer deletes a container and its snapshot
	RemoveContainer(ctx context.Context, containerID string) error

	// ContainerState reports the container's coarse state
	ContainerState(ctx context.Context, containerID string) (ContainerState, error)

	// Close releases the runtime connection
	Close() error
}
