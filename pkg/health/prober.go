package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hutchstack/hutch/pkg/log"
	"github.com/hutchstack/hutch/pkg/types"
)

// Transition is a readiness flip for a single instance, delivered
// asynchronously to whoever consumes the prober's channel.
type Transition struct {
	InstanceID string
	Ready      bool
	Message    string
	At         time.Time
}

// Prober runs one probe loop per watched instance and reports readiness
// transitions over a channel. Probe loops are independent: a slow or
// failing probe never blocks probes of other instances or reconciliation.
type Prober struct {
	mu          sync.Mutex
	cancels     map[string]context.CancelFunc
	transitions chan Transition
	stopped     bool
}

// NewProber creates a new prober. The transitions channel is buffered;
// consumers should drain it promptly.
func NewProber() *Prober {
	return &Prober{
		cancels:     make(map[string]context.CancelFunc),
		transitions: make(chan Transition, 64),
	}
}

// Transitions returns the channel readiness flips are delivered on
func (p *Prober) Transitions() <-chan Transition {
	return p.transitions
}

// Watch starts probing an instance. A workload without a probe is
// considered ready as soon as its container starts, so a single Ready
// transition is emitted immediately. Watching an already-watched instance
// is a no-op.
func (p *Prober) Watch(inst *types.Instance, probe *types.Probe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if _, exists := p.cancels[inst.ID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancels[inst.ID] = cancel

	if probe == nil {
		go p.deliver(ctx, Transition{
			InstanceID: inst.ID,
			Ready:      true,
			Message:    "no probe configured",
			At:         time.Now(),
		})
		return
	}

	checker := newChecker(inst, probe)
	cfg := Config{
		Interval:         probe.Interval,
		Timeout:          probe.Timeout,
		FailureThreshold: probe.FailureThreshold,
		SuccessThreshold: probe.SuccessThreshold,
	}

	go p.probeLoop(ctx, inst.ID, checker, cfg)
}

// Forget stops probing an instance
func (p *Prober) Forget(instanceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.cancels[instanceID]; ok {
		cancel()
		delete(p.cancels, instanceID)
	}
}

// Stop cancels all probe loops
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for id, cancel := range p.cancels {
		cancel()
		delete(p.cancels, id)
	}
}

func (p *Prober) probeLoop(ctx context.Context, instanceID string, checker Checker, cfg Config) {
	logger := log.WithInstance(instanceID)
	status := NewStatus()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	// First check happens immediately, not after one interval
	for {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		result := checker.Check(checkCtx)
		cancel()

		if flipped := status.Update(result, cfg); flipped {
			logger.Debug().
				Bool("ready", status.Ready).
				Str("message", result.Message).
				Msg("readiness transition")
			p.deliver(ctx, Transition{
				InstanceID: instanceID,
				Ready:      status.Ready,
				Message:    result.Message,
				At:         result.CheckedAt,
			})
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// deliver sends a transition unless the probe loop was cancelled
func (p *Prober) deliver(ctx context.Context, tr Transition) {
	select {
	case p.transitions <- tr:
	case <-ctx.Done():
	}
}

// newChecker builds a checker for the instance address from the probe config
func newChecker(inst *types.Instance, probe *types.Probe) Checker {
	switch probe.Type {
	case types.ProbeTCP:
		return NewTCPChecker(inst.Address)
	default:
		return NewHTTPChecker(fmt.Sprintf("http://%s%s", inst.Address, probe.Path))
	}
}
