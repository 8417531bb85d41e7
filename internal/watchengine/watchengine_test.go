package watchengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/model"
	"github.com/kubemirror/syncengine/internal/registry"
	"github.com/kubemirror/syncengine/internal/syncstate"
)

// fakeWatcher hands out a scripted sequence of watch.Interface streams, one
// per Watch call, standing in for k8sclient.Watcher.
type fakeWatcher struct {
	mu      sync.Mutex
	streams []*fakeStream
	next    int
	openErr []error // parallel to streams; non-nil entries fail that open
	calls   int
}

func (f *fakeWatcher) Watch(_ context.Context, _ schema.GroupVersionResource, _ bool, _ string) (watch.Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.openErr) && f.openErr[idx] != nil {
		return nil, f.openErr[idx]
	}
	if idx >= len(f.streams) {
		return newFakeStream(), nil
	}
	return f.streams[idx], nil
}

type fakeStream struct {
	ch   chan watch.Event
	once sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan watch.Event, 16)}
}

func (s *fakeStream) Stop() {
	s.once.Do(func() { close(s.ch) })
}

func (s *fakeStream) ResultChan() <-chan watch.Event { return s.ch }

func podEvent(eventType watch.EventType, name, uid, rv string) watch.Event {
	return watch.Event{
		Type: eventType,
		Object: &unstructured.Unstructured{Object: map[string]interface{}{
			"apiVersion": "v1",
			"kind":       "Pod",
			"metadata": map[string]interface{}{
				"name":            name,
				"namespace":       "default",
				"uid":             uid,
				"resourceVersion": rv,
			},
		}},
	}
}

// fakeSink records every enqueued event in arrival order.
type fakeSink struct {
	mu     sync.Mutex
	events []model.Event
	idents []string
}

func (f *fakeSink) Enqueue(_ context.Context, ev model.Event, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	f.idents = append(f.idents, identity)
	return nil
}

func (f *fakeSink) snapshot() ([]model.Event, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Event(nil), f.events...), append([]string(nil), f.idents...)
}

func podDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name: "Pods", Kind: "Pod", APIVersion: "v1", Plural: "pods",
		Namespaced: true, SyncPriority: 50, Watchable: true,
		Projector: func(obj *unstructured.Unstructured) model.StoredResource {
			return model.StoredResource{UID: string(obj.GetUID()), Name: obj.GetName()}
		},
	}
}

func newTestEngine(watcher *fakeWatcher, sink *fakeSink, resync ResyncFunc) *Engine {
	cfg := config.Default()
	cfg.RetryMaxAttempts = 2
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	return New(watcher, sink, syncstate.NewMemoryLog(), resync, cfg)
}

func TestRunKind_DeliversEventsInArrivalOrder(t *testing.T) {
	stream := newFakeStream()
	stream.ch <- podEvent(watch.Added, "a", "uid-a", "1")
	stream.ch <- podEvent(watch.Modified, "a", "uid-a", "2")
	stream.ch <- podEvent(watch.Deleted, "a", "uid-a", "3")

	watcher := &fakeWatcher{streams: []*fakeStream{stream}}
	sink := &fakeSink{}
	eng := newTestEngine(watcher, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d := podDescriptor()
	eng.Start(ctx, []registry.Descriptor{d}, nil)

	require.Eventually(t, func() bool {
		evs, _ := sink.snapshot()
		return len(evs) == 3
	}, time.Second, time.Millisecond)

	cancel()
	eng.Wait()

	evs, idents := sink.snapshot()
	require.Len(t, evs, 3)
	assert.Equal(t, model.EventAdded, evs[0].Phase)
	assert.Equal(t, model.EventModified, evs[1].Phase)
	assert.Equal(t, model.EventDeleted, evs[2].Phase)
	for _, id := range idents {
		assert.Equal(t, "uid-a", id)
	}

	status, ok := eng.Status("Pods")
	require.True(t, ok)
	assert.Equal(t, "3", status.Cursor)
}

func TestRunKind_SkipsNonWatchableDescriptor(t *testing.T) {
	watcher := &fakeWatcher{}
	sink := &fakeSink{}
	eng := newTestEngine(watcher, sink, nil)

	d := podDescriptor()
	d.Watchable = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx, []registry.Descriptor{d}, nil)
	eng.Wait()

	_, ok := eng.Status("Pods")
	assert.False(t, ok)
}

func TestRunKind_GoneTriggersResyncWhenEnabled(t *testing.T) {
	goneStream := newFakeStream()
	goneStream.ch <- watch.Event{Type: watch.Error, Object: &metav1.Status{
		Status: metav1.StatusFailure, Reason: metav1.StatusReasonGone, Code: 410,
	}}

	resumedStream := newFakeStream()
	resumedStream.ch <- podEvent(watch.Added, "b", "uid-b", "150")

	watcher := &fakeWatcher{streams: []*fakeStream{goneStream, resumedStream}}
	sink := &fakeSink{}

	var resyncCalls int
	resync := func(_ context.Context, d registry.Descriptor) (string, error) {
		resyncCalls++
		return "150", nil
	}

	eng := newTestEngine(watcher, sink, resync)
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx, []registry.Descriptor{podDescriptor()}, nil)

	require.Eventually(t, func() bool {
		evs, _ := sink.snapshot()
		return len(evs) == 1
	}, time.Second, time.Millisecond)

	cancel()
	eng.Wait()

	assert.Equal(t, 1, resyncCalls)
	status, ok := eng.Status("Pods")
	require.True(t, ok)
	assert.Equal(t, "150", status.Cursor)
	assert.Equal(t, 0, status.ReconnectCount)
}

func TestRunKind_ReconnectCapWithoutAutoResyncStops(t *testing.T) {
	watcher := &fakeWatcher{
		openErr: []error{apierrors.NewInternalError(assertError("boom")), apierrors.NewInternalError(assertError("boom"))},
	}
	sink := &fakeSink{}
	eng := newTestEngine(watcher, sink, nil)
	eng.Cfg.AutoSyncOnWatchFailure = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx, []registry.Descriptor{podDescriptor()}, nil)

	require.Eventually(t, func() bool {
		status, ok := eng.Status("Pods")
		return ok && status.State == StateStopped
	}, time.Second, time.Millisecond)

	status, _ := eng.Status("Pods")
	assert.Equal(t, 2, status.ReconnectCount)
}

type assertError string

func (e assertError) Error() string { return string(e) }
