package apply

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchstack/hutch/pkg/events"
	"github.com/hutchstack/hutch/pkg/storage"
	"github.com/hutchstack/hutch/pkg/types"
)

func newTestApplier(t *testing.T) (*Applier, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(store, broker), store
}

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const webWorkload = `
apiVersion: hutch/v1
kind: Workload
metadata:
  name: web
spec:
  image: nginx:1.27
  replicas: 3
  containerPort: 80
  probe:
    type: http
    path: /healthz
`

func TestApplyWorkloadCreates(t *testing.T) {
	applier, store := newTestApplier(t)
	path := writeManifest(t, t.TempDir(), "web.yaml", webWorkload)

	refs, err := applier.ApplyFile(path)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, Ref{Kind: KindWorkload, Name: "web"}, refs[0])

	w, err := store.GetWorkload("web")
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.27", w.Image)
	assert.Equal(t, 3, w.Replicas)
	assert.Equal(t, int64(1), w.Generation)
	assert.Equal(t, types.WorkloadStatusActive, w.Status)

	// Probe defaults were filled in by validation
	require.NotNil(t, w.Probe)
	assert.Equal(t, types.ProbeHTTP, w.Probe.Type)
	assert.Equal(t, 3, w.Probe.FailureThreshold)
	assert.Equal(t, 1, w.Probe.SuccessThreshold)
}

func TestApplyWorkloadIdempotent(t *testing.T) {
	applier, store := newTestApplier(t)
	path := writeManifest(t, t.TempDir(), "web.yaml", webWorkload)

	_, err := applier.ApplyFile(path)
	require.NoError(t, err)
	_, err = applier.ApplyFile(path)
	require.NoError(t, err)

	w, err := store.GetWorkload("web")
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Generation, "unchanged spec must not bump generation")
}

func TestApplyWorkloadChangeBumpsGeneration(t *testing.T) {
	applier, store := newTestApplier(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "web.yaml", webWorkload)

	_, err := applier.ApplyFile(path)
	require.NoError(t, err)
	created, err := store.GetWorkload("web")
	require.NoError(t, err)

	updated := writeManifest(t, dir, "web2.yaml", `
apiVersion: hutch/v1
kind: Workload
metadata:
  name: web
spec:
  image: nginx:1.28
  replicas: 3
  containerPort: 80
  probe:
    type: http
    path: /healthz
`)
	_, err = applier.ApplyFile(updated)
	require.NoError(t, err)

	w, err := store.GetWorkload("web")
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.Generation)
	assert.Equal(t, "nginx:1.28", w.Image)
	assert.Equal(t, created.CreatedAt.Unix(), w.CreatedAt.Unix())
}

func TestApplyRejectsInvalidFileWholesale(t *testing.T) {
	applier, store := newTestApplier(t)
	path := writeManifest(t, t.TempDir(), "bad.yaml", `
apiVersion: hutch/v1
kind: Workload
metadata:
  name: ok
spec:
  image: nginx:1.27
  replicas: 1
  containerPort: 80
---
apiVersion: hutch/v1
kind: Workload
metadata:
  name: broken
spec:
  replicas: 1
  containerPort: 80
`)

	_, err := applier.ApplyFile(path)
	require.ErrorIs(t, err, types.ErrSpecInvalid)

	// First document must not have been applied
	_, err = store.GetWorkload("ok")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyEndpointTargetPortDefaults(t *testing.T) {
	applier, store := newTestApplier(t)
	path := writeManifest(t, t.TempDir(), "ep.yaml", `
apiVersion: hutch/v1
kind: Endpoint
metadata:
  name: web-svc
spec:
  selector:
    workload: web
  port: 8080
`)

	_, err := applier.ApplyFile(path)
	require.NoError(t, err)

	e, err := store.GetEndpoint("web-svc")
	require.NoError(t, err)
	assert.Equal(t, 8080, e.Port)
	assert.Equal(t, 8080, e.TargetPort)
	assert.Equal(t, "web", e.Selector.Workload)
}

func TestApplyRoutePositionsFollowInsertionOrder(t *testing.T) {
	applier, store := newTestApplier(t)
	path := writeManifest(t, t.TempDir(), "routes.yaml", `
apiVersion: hutch/v1
kind: Route
metadata:
  name: api
spec:
  pathPrefix: /api
  endpoint: api-svc
---
apiVersion: hutch/v1
kind: Route
metadata:
  name: catchall
spec:
  pathPrefix: /
  endpoint: web-svc
`)

	_, err := applier.ApplyFile(path)
	require.NoError(t, err)

	api, err := store.GetRoute("api")
	require.NoError(t, err)
	catchall, err := store.GetRoute("catchall")
	require.NoError(t, err)
	assert.Less(t, api.Position, catchall.Position)

	// Re-applying keeps the original position
	_, err = applier.ApplyFile(path)
	require.NoError(t, err)
	again, err := store.GetRoute("api")
	require.NoError(t, err)
	assert.Equal(t, api.Position, again.Position)
}

func TestDeleteIsIdempotent(t *testing.T) {
	applier, _ := newTestApplier(t)

	assert.NoError(t, applier.Delete(Ref{Kind: KindWorkload, Name: "ghost"}))
	assert.NoError(t, applier.Delete(Ref{Kind: KindRoute, Name: "ghost"}))
}

func TestWatcherLoadDir(t *testing.T) {
	applier, store := newTestApplier(t)
	dir := t.TempDir()
	writeManifest(t, dir, "web.yaml", webWorkload)
	writeManifest(t, dir, "notes.txt", "not a manifest")

	w := NewWatcher(applier, dir)
	require.NoError(t, w.LoadDir())

	_, err := store.GetWorkload("web")
	assert.NoError(t, err)
}

func TestWatcherDropsEntitiesRemovedFromFile(t *testing.T) {
	applier, store := newTestApplier(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "all.yaml", webWorkload+`
---
apiVersion: hutch/v1
kind: Endpoint
metadata:
  name: web-svc
spec:
  selector:
    workload: web
  port: 80
`)

	w := NewWatcher(applier, dir)
	w.applyPath(path)

	_, err := store.GetEndpoint("web-svc")
	require.NoError(t, err)

	// Rewrite the file without the endpoint
	writeManifest(t, dir, "all.yaml", webWorkload)
	w.applyPath(path)

	_, err = store.GetEndpoint("web-svc")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetWorkload("web")
	assert.NoError(t, err)
}

func TestWatcherRemovePathDeletesEntities(t *testing.T) {
	applier, store := newTestApplier(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "web.yaml", webWorkload)

	w := NewWatcher(applier, dir)
	w.applyPath(path)

	require.NoError(t, os.Remove(path))
	w.removePath(path)

	_, err := store.GetWorkload("web")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
