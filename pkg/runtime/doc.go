// Package runtime abstracts the container runtime behind the Runtime
// interface and provides the containerd implementation. The controller
// only depends on the interface; image pull failures are reported as
// ErrImagePull so callers can classify them as retryable.
package runtime
