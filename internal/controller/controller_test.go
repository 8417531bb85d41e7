package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kubemirror/syncengine/internal/applypipeline"
	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/fullsync"
	"github.com/kubemirror/syncengine/internal/model"
	"github.com/kubemirror/syncengine/internal/registry"
	"github.com/kubemirror/syncengine/internal/store"
	"github.com/kubemirror/syncengine/internal/syncstate"
	"github.com/kubemirror/syncengine/internal/watchengine"
)

func simpleProjector(obj *unstructured.Unstructured) model.StoredResource {
	return model.StoredResource{UID: string(obj.GetUID()), Name: obj.GetName()}
}

func obj(kind, name, uid string) unstructured.Unstructured {
	return unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       kind,
		"metadata":   map[string]interface{}{"name": name, "uid": uid, "resourceVersion": "1"},
	}}
}

// fakeLister plays back a fixed item set per GVR for fullsync's ListPage.
type fakeLister struct {
	items map[schema.GroupVersionResource][]unstructured.Unstructured
}

func (f *fakeLister) ListPage(_ context.Context, gvr schema.GroupVersionResource, _ bool, _ int64, onPage func([]unstructured.Unstructured) error) (string, error) {
	items := f.items[gvr]
	if len(items) == 0 {
		return "1", nil
	}
	return "1", onPage(items)
}

// noWatcher never delivers events; used where the Watch Engine only needs
// to start and idle until shutdown.
type noWatcher struct{}

func (noWatcher) Watch(ctx context.Context, _ schema.GroupVersionResource, _ bool, _ string) (watch.Interface, error) {
	return &idleStream{ch: make(chan watch.Event)}, nil
}

type idleStream struct{ ch chan watch.Event }

func (s *idleStream) Stop()                         {}
func (s *idleStream) ResultChan() <-chan watch.Event { return s.ch }

func buildRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "Nodes", Kind: "Node", APIVersion: "v1", Plural: "nodes",
		SyncPriority: 5, Projector: simpleProjector, Watchable: true,
	}))
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "Deployments", Kind: "Deployment", APIGroup: "apps", APIVersion: "v1", Plural: "deployments",
		Namespaced: true, SyncPriority: 30, Projector: simpleProjector, Watchable: true,
	}))
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "Pods", Kind: "Pod", APIVersion: "v1", Plural: "pods",
		Namespaced: true, SyncPriority: 10, Projector: simpleProjector, Watchable: true,
	}))
	reg.Build()
	return reg
}

func TestStart_ColdStartSyncsAllKindsAndBecomesReady(t *testing.T) {
	reg := buildRegistry(t)
	nodesGVR := schema.GroupVersionResource{Version: "v1", Resource: "nodes"}
	depsGVR := schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
	podsGVR := schema.GroupVersionResource{Version: "v1", Resource: "pods"}

	lister := &fakeLister{items: map[schema.GroupVersionResource][]unstructured.Unstructured{
		nodesGVR: {obj("Node", "n1", "u1"), obj("Node", "n2", "u2"), obj("Node", "n3", "u3")},
		depsGVR:  {obj("Deployment", "d1", "u4"), obj("Deployment", "d2", "u5")},
		podsGVR:  {obj("Pod", "p1", "u6"), obj("Pod", "p2", "u7"), obj("Pod", "p3", "u8"), obj("Pod", "p4", "u9"), obj("Pod", "p5", "u10")},
	}}

	cfg := config.Default()
	cfg.FullSyncConcurrency = 2
	cfg.RetryMaxAttempts = 1
	cfg.ApplyPipelineDrainTimeout = time.Second

	st := store.NewMemoryStore(cfg)
	syncLog := syncstate.NewMemoryLog()
	fs := fullsync.New(reg, lister, st, syncLog, cfg)
	pipeline := applypipeline.New(cfg, ApplierFor(reg, st))
	we := watchengine.New(noWatcher{}, pipeline, syncLog, nil, cfg)

	ctrl := New(reg, st, syncLog, fs, we, pipeline, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ctrl.Start(ctx))

	snap := ctrl.GetSyncProgress()
	assert.Equal(t, 3, snap.SyncedResources)
	assert.Equal(t, 3, snap.TotalResources)
	assert.True(t, ctrl.IsReady())

	total := 0
	for _, kind := range []string{"nodes", "deployments", "pods"} {
		n, err := st.Count(context.Background(), kind, store.Filter{})
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 10, total)

	entries, err := syncLog.GetAll(context.Background())
	require.NoError(t, err)
	completed := 0
	for _, e := range entries {
		if e.Status == syncstate.StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 3, completed)

	cancel()
	ctrl.Shutdown()
}

func TestStart_AutoModeSkipsSyncWhenFresh(t *testing.T) {
	reg := buildRegistry(t)
	cfg := config.Default()
	cfg.ApplyPipelineDrainTimeout = time.Second

	st := store.NewMemoryStore(cfg)
	syncLog := syncstate.NewMemoryLog()
	for _, kind := range []string{"Nodes", "Deployments", "Pods"} {
		require.NoError(t, syncLog.MarkCompleted(context.Background(), kind, 10, 1, "100"))
	}

	lister := &fakeLister{} // would return empty pages; sync should never be called
	fs := fullsync.New(reg, lister, st, syncLog, cfg)
	pipeline := applypipeline.New(cfg, ApplierFor(reg, st))
	we := watchengine.New(noWatcher{}, pipeline, syncLog, nil, cfg)
	ctrl := New(reg, st, syncLog, fs, we, pipeline, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ctrl.Start(ctx))

	snap := ctrl.GetSyncProgress()
	assert.Equal(t, 0, snap.TotalResources)
	assert.True(t, ctrl.IsReady())

	cancel()
	ctrl.Shutdown()
}

func TestApplierFor_AppliesEventsInPerUIDOrder(t *testing.T) {
	reg := buildRegistry(t)
	cfg := config.Default()
	cfg.ApplyPipelineBatchPause = 0

	st := store.NewMemoryStore(cfg)
	pipeline := applypipeline.New(cfg, ApplierFor(reg, st))
	pipeline.Start(context.Background())

	event := func(phase model.EventPhase, name, uid, rv string) model.Event {
		o := obj("Pod", name, uid)
		require.NoError(t, unstructured.SetNestedField(o.Object, rv, "metadata", "resourceVersion"))
		return model.Event{Kind: "Pods", Phase: phase, Object: &o, ResourceVersion: rv}
	}

	ctx := context.Background()
	require.NoError(t, pipeline.Enqueue(ctx, event(model.EventAdded, "u-pod", "U", "1"), "U"))
	require.NoError(t, pipeline.Enqueue(ctx, event(model.EventAdded, "v-pod", "V", "1"), "V"))
	require.NoError(t, pipeline.Enqueue(ctx, event(model.EventModified, "u-pod", "U", "2"), "U"))
	require.NoError(t, pipeline.Enqueue(ctx, event(model.EventModified, "v-pod-renamed", "V", "2"), "V"))
	require.NoError(t, pipeline.Enqueue(ctx, event(model.EventDeleted, "u-pod", "U", "3"), "U"))

	pipeline.Shutdown(2 * time.Second)

	gone, err := st.FindByIdentity(ctx, "pods", model.IdentityUID, "U")
	require.NoError(t, err)
	assert.Nil(t, gone, "a uid whose stream ends in DELETE must leave no record")

	kept, err := st.FindByIdentity(ctx, "pods", model.IdentityUID, "V")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "v-pod-renamed", kept.Name, "record must match the final MODIFY projection")
}

func TestApplierFor_DropsEventsWithoutIdentity(t *testing.T) {
	reg := buildRegistry(t)
	cfg := config.Default()
	st := store.NewMemoryStore(cfg)
	apply := ApplierFor(reg, st)

	o := obj("Pod", "anon", "")
	require.NoError(t, apply(context.Background(), model.Event{Kind: "Pods", Phase: model.EventAdded, Object: &o}))

	n, err := st.Count(context.Background(), "pods", store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	reg := buildRegistry(t)
	cfg := config.Default()
	cfg.StartupSyncMode = "never"
	cfg.ApplyPipelineDrainTimeout = time.Second

	st := store.NewMemoryStore(cfg)
	syncLog := syncstate.NewMemoryLog()
	fs := fullsync.New(reg, &fakeLister{}, st, syncLog, cfg)
	pipeline := applypipeline.New(cfg, ApplierFor(reg, st))
	we := watchengine.New(noWatcher{}, pipeline, syncLog, nil, cfg)
	ctrl := New(reg, st, syncLog, fs, we, pipeline, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ctrl.Start(ctx))
	cancel()

	ctrl.Shutdown()
	ctrl.Shutdown() // must not block or panic the second time
}
