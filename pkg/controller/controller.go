package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hutchstack/hutch/pkg/events"
	"github.com/hutchstack/hutch/pkg/health"
	"github.com/hutchstack/hutch/pkg/log"
	"github.com/hutchstack/hutch/pkg/metrics"
	"github.com/hutchstack/hutch/pkg/runtime"
	"github.com/hutchstack/hutch/pkg/storage"
	"github.com/hutchstack/hutch/pkg/types"
)

// Config holds controller configuration
type Config struct {
	// Interval between periodic reconciliation sweeps
	Interval time.Duration

	// UnreadyGrace is how long an instance may fail readiness before it
	// is terminated and replaced
	UnreadyGrace time.Duration

	// StopTimeout is the graceful shutdown window for terminated containers
	StopTimeout time.Duration

	// CreateRetries is the retry budget for instance creation before the
	// workload is marked degraded
	CreateRetries int

	// RetryBackoff is the base backoff between creation retries; it
	// doubles per attempt
	RetryBackoff time.Duration

	// InstanceHost is the host part of instance addresses
	InstanceHost string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:      10 * time.Second,
		UnreadyGrace:  2 * time.Minute,
		StopTimeout:   10 * time.Second,
		CreateRetries: 3,
		RetryBackoff:  500 * time.Millisecond,
		InstanceHost:  "127.0.0.1",
	}
}

// Controller drives observed instances toward workload specs. One
// reconciliation runs per workload at a time; different workloads
// reconcile in parallel.
type Controller struct {
	store   storage.Store
	runtime runtime.Runtime
	prober  *health.Prober
	broker  *events.Broker
	cfg     Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a new controller
func New(store storage.Store, rt runtime.Runtime, prober *health.Prober, broker *events.Broker, cfg Config) *Controller {
	return &Controller{
		store:   store,
		runtime: rt,
		prober:  prober,
		broker:  broker,
		cfg:     cfg,
		locks:   make(map[string]*sync.Mutex),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (c *Controller) Start() {
	go c.run()
}

// Stop stops the controller and waits for the loop to exit
func (c *Controller) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// run is the main reconciliation loop: a periodic sweep plus immediate
// reconciliation of workloads named in apply events.
func (c *Controller) run() {
	defer close(c.doneCh)

	logger := log.WithComponent("controller")

	sub := c.broker.Subscribe()
	defer c.broker.Unsubscribe(sub)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.reconcileAll()

	for {
		select {
		case <-ticker.C:
			c.reconcileAll()

		case ev := <-sub:
			switch ev.Type {
			case events.EventWorkloadApplied, events.EventWorkloadDeleted:
				go func(name string) {
					if err := c.ReconcileWorkload(name); err != nil {
						logger.Error().Err(err).Str("workload", name).Msg("reconcile failed")
					}
				}(ev.Workload)
			}

		case <-c.stopCh:
			return
		}
	}
}

// reconcileAll runs one sweep over every workload, in parallel, and cleans
// up instances whose workload no longer exists
func (c *Controller) reconcileAll() {
	logger := log.WithComponent("controller")

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	workloads, err := c.store.ListWorkloads()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list workloads")
		return
	}

	var wg sync.WaitGroup
	for _, w := range workloads {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := c.ReconcileWorkload(name); err != nil {
				logger.Error().Err(err).Str("workload", name).Msg("reconcile failed")
			}
		}(w.Name)
	}
	wg.Wait()

	c.cleanupOrphans(workloads)
	c.collectInstanceMetrics(workloads)
}

// ReconcileWorkload reconciles a single workload. Concurrent calls for the
// same workload are serialized; a deleted workload drains its instances.
func (c *Controller) ReconcileWorkload(name string) error {
	lock := c.workloadLock(name)
	lock.Lock()
	defer lock.Unlock()

	w, err := c.store.GetWorkload(name)
	if errors.Is(err, storage.ErrNotFound) {
		return c.drainWorkload(name)
	}
	if err != nil {
		return fmt.Errorf("failed to load workload %s: %w", name, err)
	}

	observed, err := c.store.ListInstancesByWorkload(name)
	if err != nil {
		return fmt.Errorf("failed to list instances for %s: %w", name, err)
	}

	observed = c.reapDeadContainers(w, observed)

	logger := log.WithWorkload(name)
	actions := Reconcile(w, observed, time.Now(), c.cfg.UnreadyGrace)
	for _, action := range actions {
		metrics.ReconcileActionsTotal.WithLabelValues(string(action.Type)).Inc()

		switch action.Type {
		case ActionCreateInstance:
			if err := c.createInstance(w, action); err != nil {
				logger.Error().Err(err).Msg("instance creation failed")
			}
		case ActionTerminateInstance:
			if err := c.terminateInstance(action); err != nil {
				logger.Error().Err(err).Msg("instance termination failed")
			}
		}
	}

	return nil
}

// reapDeadContainers terminates instances whose container exited out from
// under us, so the replica math below sees the deficit in the same pass.
// A runtime query failure keeps the instance; the next sweep retries.
func (c *Controller) reapDeadContainers(w *types.Workload, observed []*types.Instance) []*types.Instance {
	ctx := context.Background()

	live := make([]*types.Instance, 0, len(observed))
	for _, inst := range observed {
		if inst.State == types.InstanceTerminating || inst.ContainerID == "" {
			live = append(live, inst)
			continue
		}

		state, err := c.runtime.ContainerState(ctx, inst.ContainerID)
		if err != nil || state != runtime.ContainerStopped {
			live = append(live, inst)
			continue
		}

		action := Action{
			Type:       ActionTerminateInstance,
			Workload:   w.Name,
			Generation: inst.Generation,
			InstanceID: inst.ID,
			Reason:     "container exited",
		}
		if err := c.terminateInstance(action); err != nil {
			logger := log.WithInstance(inst.ID)
			logger.Error().Err(err).Msg("failed to reap dead instance")
			live = append(live, inst)
		}
	}
	return live
}

// createInstance pulls the image, creates and starts a container, and
// commits the instance. Pull and create failures are retried with
// exponential backoff; past the budget the workload is marked degraded.
// The commit is skipped if the workload generation moved on mid-flight.
func (c *Controller) createInstance(w *types.Workload, action Action) error {
	logger := log.WithWorkload(w.Name)

	inst := &types.Instance{
		ID:         uuid.New().String(),
		Workload:   w.Name,
		Generation: action.Generation,
		Address:    net.JoinHostPort(c.cfg.InstanceHost, strconv.Itoa(w.ContainerPort)),
		State:      types.InstanceStarting,
		CreatedAt:  time.Now(),
	}

	ctx := context.Background()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.CreateRetries; attempt++ {
		if attempt > 0 {
			metrics.InstanceCreateRetriesTotal.Inc()
			backoff := c.cfg.RetryBackoff << (attempt - 1)
			logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying instance creation")

			select {
			case <-time.After(backoff):
			case <-c.stopCh:
				return lastErr
			}
		}

		lastErr = c.tryCreate(ctx, w, inst)
		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		c.markDegraded(w, lastErr)
		return fmt.Errorf("instance creation exhausted %d retries: %w", c.cfg.CreateRetries, lastErr)
	}

	// Supersession check: commit only if the generation we were issued
	// for is still current
	current, err := c.store.GetWorkload(w.Name)
	if err != nil || current.Generation != action.Generation {
		logger.Info().
			Str("instance_id", inst.ID).
			Int64("generation", action.Generation).
			Msg("creation superseded, discarding instance")
		_ = c.runtime.RemoveContainer(ctx, inst.ContainerID)
		return nil
	}

	if err := c.store.SaveInstance(inst); err != nil {
		_ = c.runtime.RemoveContainer(ctx, inst.ContainerID)
		return fmt.Errorf("failed to save instance: %w", err)
	}

	c.prober.Watch(inst, w.Probe)
	c.broker.Publish(&events.Event{
		Type:     events.EventInstanceCreated,
		Workload: w.Name,
		Instance: inst.ID,
	})

	logger.Info().
		Str("instance_id", inst.ID).
		Str("address", inst.Address).
		Msg("instance created")

	return nil
}

// tryCreate is one creation attempt: pull, create, start
func (c *Controller) tryCreate(ctx context.Context, w *types.Workload, inst *types.Instance) error {
	if err := c.runtime.PullImage(ctx, w.Image); err != nil {
		return err
	}

	containerID, err := c.runtime.CreateContainer(ctx, inst, w)
	if err != nil {
		return err
	}
	inst.ContainerID = containerID

	if err := c.runtime.StartContainer(ctx, containerID); err != nil {
		_ = c.runtime.RemoveContainer(ctx, containerID)
		inst.ContainerID = ""
		return err
	}

	return nil
}

// terminateInstance moves an instance to terminating, stops its container
// and removes it. Scale-down terminations are dropped if the workload
// generation moved on; terminations of superseded or draining instances
// always proceed.
func (c *Controller) terminateInstance(action Action) error {
	inst, err := c.store.GetInstance(action.InstanceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load instance %s: %w", action.InstanceID, err)
	}

	if inst.Generation == action.Generation && inst.State != types.InstanceTerminating {
		// Scale-down decision: re-check it against the current spec
		current, err := c.store.GetWorkload(inst.Workload)
		if err == nil && current.Generation != action.Generation {
			return nil
		}
	}

	logger := log.WithInstance(inst.ID)

	if inst.State != types.InstanceTerminating {
		inst.State = types.InstanceTerminating
		if err := c.store.SaveInstance(inst); err != nil {
			return fmt.Errorf("failed to mark instance terminating: %w", err)
		}
	}

	c.prober.Forget(inst.ID)

	ctx := context.Background()
	if inst.ContainerID != "" {
		if err := c.runtime.StopContainer(ctx, inst.ContainerID, c.cfg.StopTimeout); err != nil {
			logger.Warn().Err(err).Msg("failed to stop container")
		}
		if err := c.runtime.RemoveContainer(ctx, inst.ContainerID); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}

	if err := c.store.DeleteInstance(inst.ID); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	c.broker.Publish(&events.Event{
		Type:     events.EventInstanceRemoved,
		Workload: inst.Workload,
		Instance: inst.ID,
		Message:  action.Reason,
	})

	logger.Info().Str("reason", action.Reason).Msg("instance terminated")
	return nil
}

// drainWorkload terminates every remaining instance of a deleted workload
func (c *Controller) drainWorkload(name string) error {
	observed, err := c.store.ListInstancesByWorkload(name)
	if err != nil {
		return fmt.Errorf("failed to list instances for %s: %w", name, err)
	}

	logger := log.WithWorkload(name)
	for _, inst := range observed {
		action := Action{
			Type:       ActionTerminateInstance,
			Workload:   name,
			Generation: inst.Generation,
			InstanceID: inst.ID,
			Reason:     "workload deleted",
		}
		if err := c.terminateInstance(action); err != nil {
			logger.Error().Err(err).Msg("drain termination failed")
		}
	}

	return nil
}

// cleanupOrphans drains instances whose workload no longer exists. The
// event-driven path usually gets there first; this covers events lost
// across restarts.
func (c *Controller) cleanupOrphans(workloads []*types.Workload) {
	known := make(map[string]bool, len(workloads))
	for _, w := range workloads {
		known[w.Name] = true
	}

	instances, err := c.store.ListInstances()
	if err != nil {
		return
	}

	orphaned := make(map[string]bool)
	for _, inst := range instances {
		if !known[inst.Workload] {
			orphaned[inst.Workload] = true
		}
	}

	for name := range orphaned {
		lock := c.workloadLock(name)
		lock.Lock()
		if err := c.drainWorkload(name); err != nil {
			logger := log.WithWorkload(name)
			logger.Error().Err(err).Msg("orphan cleanup failed")
		}
		lock.Unlock()
	}
}

// markDegraded flips the workload status after the creation retry budget
// is exhausted
func (c *Controller) markDegraded(w *types.Workload, cause error) {
	current, err := c.store.GetWorkload(w.Name)
	if err != nil || current.Generation != w.Generation {
		return
	}
	if current.Status == types.WorkloadStatusDegraded {
		return
	}

	current.Status = types.WorkloadStatusDegraded
	current.UpdatedAt = time.Now()
	if err := c.store.SaveWorkload(current); err != nil {
		logger := log.WithWorkload(w.Name)
		logger.Error().Err(err).Msg("failed to mark workload degraded")
		return
	}

	c.broker.Publish(&events.Event{
		Type:     events.EventWorkloadDegraded,
		Workload: w.Name,
		Message:  cause.Error(),
	})
}

// collectInstanceMetrics refreshes the instance and workload gauges
func (c *Controller) collectInstanceMetrics(workloads []*types.Workload) {
	metrics.WorkloadsTotal.Set(float64(len(workloads)))

	degraded := 0
	for _, w := range workloads {
		if w.Status == types.WorkloadStatusDegraded {
			degraded++
		}
	}
	metrics.WorkloadsDegraded.Set(float64(degraded))

	instances, err := c.store.ListInstances()
	if err != nil {
		return
	}

	counts := map[types.InstanceState]int{
		types.InstanceStarting:    0,
		types.InstanceReady:       0,
		types.InstanceUnready:     0,
		types.InstanceTerminating: 0,
	}
	for _, inst := range instances {
		counts[inst.State]++
	}
	for state, n := range counts {
		metrics.InstancesTotal.WithLabelValues(string(state)).Set(float64(n))
	}
}

// workloadLock returns the mutex serializing reconciliation of one workload
func (c *Controller) workloadLock(name string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	lock, ok := c.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[name] = lock
	}
	return lock
}
