package health

import (
	"context"
	"time"
)

// CheckType represents the type of readiness check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a single readiness check
type Result struct {
	Ready     bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all readiness checkers must implement
type Checker interface {
	// Check performs the readiness check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of readiness check
	Type() CheckType
}

// Config contains common configuration for all readiness checks
type Config struct {
	// Interval is the time between checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a check to complete.
	// A timed-out check counts as a failure, never as an error that
	// stops probing.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures before an
	// instance is considered unready
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes before an
	// unready instance is considered ready again
	SuccessThreshold int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	}
}

// Status tracks the readiness of a single instance across checks.
// Instances start out not ready and must pass the probe before they may
// receive traffic.
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last check
	LastCheck time.Time

	// LastResult is the result of the last check
	LastResult Result

	// Ready indicates whether the instance currently passes readiness
	Ready bool

	// StartedAt is when probing started for this instance
	StartedAt time.Time
}

// NewStatus creates a new Status. Ready is false until the probe succeeds.
func NewStatus() *Status {
	return &Status{
		StartedAt: time.Now(),
	}
}

// Update folds a new check result into the status and reports whether the
// readiness verdict flipped.
func (s *Status) Update(result Result, config Config) bool {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	was := s.Ready

	if result.Ready {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0

		if s.ConsecutiveSuccesses >= config.SuccessThreshold {
			s.Ready = true
		}
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		if s.ConsecutiveFailures >= config.FailureThreshold {
			s.Ready = false
		}
	}

	return s.Ready != was
}
