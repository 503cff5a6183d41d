package controller

import (
	"fmt"
	"sort"
	"time"

	"github.com/hutchstack/hutch/pkg/types"
)

// ActionType represents the kind of reconciliation action
type ActionType string

const (
	ActionCreateInstance    ActionType = "create-instance"
	ActionTerminateInstance ActionType = "terminate-instance"
)

// Action is one step toward desired state, computed by Reconcile and
// executed by the controller. It carries the workload generation it was
// issued for; execution no-ops if the generation has been superseded.
type Action struct {
	Type       ActionType
	Workload   string
	Generation int64
	InstanceID string // Set for terminations
	Reason     string
}

func (a Action) String() string {
	if a.Type == ActionCreateInstance {
		return fmt.Sprintf("create instance for %s gen %d (%s)", a.Workload, a.Generation, a.Reason)
	}
	return fmt.Sprintf("terminate instance %s of %s (%s)", a.InstanceID, a.Workload, a.Reason)
}

// Reconcile computes the actions needed to drive the observed instances of
// a workload toward its spec. It is pure and level-triggered: calling it
// again with unchanged spec and observed state yields the same actions, and
// a converged workload yields none.
//
// Both deficit and surplus are measured against instances in {starting,
// ready}. Unready instances count toward neither: a replacement is created
// while they are kept around to recover, and the replacement does not turn
// them into surplus. They are terminated only on grace expiry, generation
// supersession, or an actual drop in desired replicas (where they are the
// first to go). Create and terminate are mutually exclusive within one
// pass.
func Reconcile(w *types.Workload, observed []*types.Instance, now time.Time, unreadyGrace time.Duration) []Action {
	var actions []Action

	var current []*types.Instance
	for _, inst := range observed {
		switch {
		case inst.State == types.InstanceTerminating:
			// Re-emit so a failed removal is retried
			actions = append(actions, Action{
				Type:       ActionTerminateInstance,
				Workload:   w.Name,
				Generation: w.Generation,
				InstanceID: inst.ID,
				Reason:     "finishing termination",
			})

		case inst.Generation != w.Generation:
			// An instance never outlives the generation it was created for
			actions = append(actions, Action{
				Type:       ActionTerminateInstance,
				Workload:   w.Name,
				Generation: w.Generation,
				InstanceID: inst.ID,
				Reason:     fmt.Sprintf("superseded by generation %d", w.Generation),
			})

		case inst.State == types.InstanceUnready && unreadyGrace > 0 &&
			!inst.UnreadySince.IsZero() && now.Sub(inst.UnreadySince) > unreadyGrace:
			actions = append(actions, Action{
				Type:       ActionTerminateInstance,
				Workload:   w.Name,
				Generation: w.Generation,
				InstanceID: inst.ID,
				Reason:     fmt.Sprintf("unready for more than %s", unreadyGrace),
			})

		default:
			current = append(current, inst)
		}
	}

	countable := 0 // starting + ready
	for _, inst := range current {
		if inst.State == types.InstanceStarting || inst.State == types.InstanceReady {
			countable++
		}
	}

	if deficit := w.Replicas - countable; deficit > 0 {
		for i := 0; i < deficit; i++ {
			actions = append(actions, Action{
				Type:       ActionCreateInstance,
				Workload:   w.Name,
				Generation: w.Generation,
				Reason:     fmt.Sprintf("want %d replicas, have %d", w.Replicas, countable),
			})
		}
		return actions
	}

	if surplus := countable - w.Replicas; surplus > 0 {
		for _, inst := range terminationOrder(current)[:surplus] {
			actions = append(actions, Action{
				Type:       ActionTerminateInstance,
				Workload:   w.Name,
				Generation: w.Generation,
				InstanceID: inst.ID,
				Reason:     fmt.Sprintf("want %d replicas, have %d", w.Replicas, countable),
			})
		}
	}

	return actions
}

// terminationOrder sorts instances by how disruptive terminating them is:
// unready first (longest-unready leading), then starting, then ready with
// the most recent ReadyAt first so long-stable instances keep serving.
func terminationOrder(instances []*types.Instance) []*types.Instance {
	sorted := make([]*types.Instance, len(instances))
	copy(sorted, instances)

	rank := func(s types.InstanceState) int {
		switch s {
		case types.InstanceUnready:
			return 0
		case types.InstanceStarting:
			return 1
		default:
			return 2
		}
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rank(sorted[i].State), rank(sorted[j].State)
		if ri != rj {
			return ri < rj
		}
		switch sorted[i].State {
		case types.InstanceUnready:
			return sorted[i].UnreadySince.Before(sorted[j].UnreadySince)
		case types.InstanceReady:
			return sorted[i].ReadyAt.After(sorted[j].ReadyAt)
		default:
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
	})

	return sorted
}
