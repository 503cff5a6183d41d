package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchstack/hutch/pkg/types"
)

func workload(replicas int, generation int64) *types.Workload {
	return &types.Workload{
		Name:          "greeter",
		Image:         "docker.io/library/nginx:1.27",
		Replicas:      replicas,
		ContainerPort: 8080,
		Generation:    generation,
	}
}

func instance(id string, state types.InstanceState, generation int64) *types.Instance {
	return &types.Instance{
		ID:         id,
		Workload:   "greeter",
		Generation: generation,
		Address:    "10.0.0.1:8080",
		State:      state,
		CreatedAt:  time.Now(),
	}
}

func TestReconcileConvergedProducesNoActions(t *testing.T) {
	w := workload(2, 1)
	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
		instance("i-2", types.InstanceReady, 1),
	}

	actions := Reconcile(w, observed, time.Now(), time.Minute)
	assert.Empty(t, actions)

	// Level-triggered: re-running with unchanged inputs stays empty
	actions = Reconcile(w, observed, time.Now(), time.Minute)
	assert.Empty(t, actions)
}

func TestReconcileCreatesDeficit(t *testing.T) {
	w := workload(3, 1)
	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
	}

	actions := Reconcile(w, observed, time.Now(), time.Minute)
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, ActionCreateInstance, a.Type)
		assert.Equal(t, int64(1), a.Generation)
	}
}

func TestReconcileFromZero(t *testing.T) {
	w := workload(3, 1)

	actions := Reconcile(w, nil, time.Now(), time.Minute)
	require.Len(t, actions, 3)
	for _, a := range actions {
		assert.Equal(t, ActionCreateInstance, a.Type)
	}
}

func TestReconcileScaleDownPrefersNonReady(t *testing.T) {
	now := time.Now()
	w := workload(1, 1)

	unready := instance("i-unready", types.InstanceUnready, 1)
	unready.UnreadySince = now.Add(-5 * time.Second)

	oldReady := instance("i-old", types.InstanceReady, 1)
	oldReady.ReadyAt = now.Add(-time.Hour)

	youngReady := instance("i-young", types.InstanceReady, 1)
	youngReady.ReadyAt = now.Add(-time.Minute)

	// First pass: one ready instance over the target, and the unready one
	// goes first
	actions := Reconcile(w, []*types.Instance{oldReady, youngReady, unready}, now, time.Minute)
	require.Len(t, actions, 1)
	require.Equal(t, ActionTerminateInstance, actions[0].Type)
	assert.Equal(t, "i-unready", actions[0].InstanceID, "unready instance must go first")

	// Second pass after the unready is gone: the youngest ready goes next
	actions = Reconcile(w, []*types.Instance{oldReady, youngReady}, now, time.Minute)
	require.Len(t, actions, 1)
	require.Equal(t, ActionTerminateInstance, actions[0].Type)
	assert.Equal(t, "i-young", actions[0].InstanceID, "long-stable instance keeps serving")
}

func TestReconcileScaleDownThreeToOne(t *testing.T) {
	w := workload(1, 1)
	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
		instance("i-2", types.InstanceReady, 1),
		instance("i-3", types.InstanceReady, 1),
	}

	actions := Reconcile(w, observed, time.Now(), time.Minute)
	require.Len(t, actions, 2, "scale-down from 3 to 1 terminates exactly 2")
}

func TestReconcileUnreadyGetsReplacementNotReplaced(t *testing.T) {
	now := time.Now()
	w := workload(2, 1)

	unready := instance("i-unready", types.InstanceUnready, 1)
	unready.UnreadySince = now.Add(-time.Second)

	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
		unready,
	}

	actions := Reconcile(w, observed, now, time.Minute)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionCreateInstance, actions[0].Type,
		"an unready instance within grace is kept and a replacement created")
}

func TestReconcileReplacementDoesNotEvictUnready(t *testing.T) {
	now := time.Now()
	w := workload(2, 1)

	unready := instance("i-unready", types.InstanceUnready, 1)
	unready.UnreadySince = now.Add(-time.Second)

	// The replacement created for the unready instance is already running;
	// the unready one stays within its grace period
	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
		instance("i-replacement", types.InstanceStarting, 1),
		unready,
	}

	actions := Reconcile(w, observed, now, time.Minute)
	assert.Empty(t, actions, "a within-grace unready instance is kept, not counted as surplus")
}

func TestReconcileUnreadyGraceExpiry(t *testing.T) {
	now := time.Now()
	w := workload(1, 1)

	expired := instance("i-unready", types.InstanceUnready, 1)
	expired.UnreadySince = now.Add(-3 * time.Minute)

	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
		expired,
	}

	actions := Reconcile(w, observed, now, time.Minute)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionTerminateInstance, actions[0].Type)
	assert.Equal(t, "i-unready", actions[0].InstanceID)
}

func TestReconcileSupersededGeneration(t *testing.T) {
	w := workload(2, 2)
	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
		instance("i-2", types.InstanceReady, 1),
	}

	actions := Reconcile(w, observed, time.Now(), time.Minute)

	var terminates, creates int
	for _, a := range actions {
		switch a.Type {
		case ActionTerminateInstance:
			terminates++
			assert.Equal(t, int64(2), a.Generation)
		case ActionCreateInstance:
			creates++
		}
	}
	assert.Equal(t, 2, terminates, "old-generation instances never survive")
	assert.Equal(t, 2, creates, "replacements come from the new generation")
}

func TestReconcileRetriesStuckTermination(t *testing.T) {
	w := workload(1, 1)
	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
		instance("i-stuck", types.InstanceTerminating, 1),
	}

	actions := Reconcile(w, observed, time.Now(), time.Minute)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionTerminateInstance, actions[0].Type)
	assert.Equal(t, "i-stuck", actions[0].InstanceID)
}

func TestReconcileZeroReplicas(t *testing.T) {
	w := workload(0, 1)
	observed := []*types.Instance{
		instance("i-1", types.InstanceReady, 1),
	}

	actions := Reconcile(w, observed, time.Now(), time.Minute)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionTerminateInstance, actions[0].Type)
}
