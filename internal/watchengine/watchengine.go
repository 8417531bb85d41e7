/*
 * internal/watchengine/watchengine.go
 *
 * Watch Engine: one resumable watch stream per registered, watchable kind,
 * applying events to the Store via the Event Apply Pipeline. Each kind runs
 * a context-scoped goroutine wrapping a single long-lived watch.Interface,
 * backing off and reopening on error, and is generic over the registry —
 * no per-kind code.
 */

package watchengine

import (
	"context"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/backoffpolicy"
	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/k8sclient"
	"github.com/kubemirror/syncengine/internal/model"
	"github.com/kubemirror/syncengine/internal/registry"
	"github.com/kubemirror/syncengine/internal/syncstate"
)

// State is one node of the per-kind watch state machine.
type State string

const (
	StateOpening      State = "OPENING"
	StateRunning      State = "RUNNING"
	StateBackoff      State = "BACKOFF"
	StateReconnecting State = "RECONNECTING"
	StateResync       State = "RESYNC"
	StateStopped      State = "STOPPED"
)

// EventSink is the subset of applypipeline.Pipeline the Watch Engine
// depends on, so it can be unit tested with a fake instead of a real
// pipeline.
type EventSink interface {
	Enqueue(ctx context.Context, ev model.Event, identityValue string) error
}

// ResyncFunc triggers a full resync for one kind, returning the new
// resourceVersion cursor to resume watching from. cmd/mirrorsync wires
// this to a closure around fullsync.Engine.SyncOne.
type ResyncFunc func(ctx context.Context, d registry.Descriptor) (cursor string, err error)

// KindStatus is a read-only snapshot of one kind's watch state, consumed by
// the Readiness/Status Surface.
type KindStatus struct {
	Kind           string
	State          State
	Cursor         string
	ReconnectCount int
	LastError      error
}

type kindWatch struct {
	mu             sync.Mutex
	state          State
	cursor         string
	reconnectCount int
	lastErr        error
}

func (k *kindWatch) snapshot(name string) KindStatus {
	k.mu.Lock()
	defer k.mu.Unlock()
	return KindStatus{Kind: name, State: k.state, Cursor: k.cursor, ReconnectCount: k.reconnectCount, LastError: k.lastErr}
}

func (k *kindWatch) set(state State, cursor string, reconnects int, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = state
	if cursor != "" {
		k.cursor = cursor
	}
	k.reconnectCount = reconnects
	k.lastErr = err
}

// Engine is the Watch Engine. Like fullsync.Engine it holds no SyncProgress
// state; the Hybrid Controller owns progress reporting.
type Engine struct {
	Watcher   k8sclient.Watcher
	Sink      EventSink
	SyncState syncstate.Log
	Resync    ResyncFunc
	Cfg       config.Config
	Policy    backoffpolicy.Policy

	mu     sync.Mutex
	kinds  map[string]*kindWatch
	wg     sync.WaitGroup
}

// New builds a Watch Engine from its collaborators.
func New(watcher k8sclient.Watcher, sink EventSink, log syncstate.Log, resync ResyncFunc, cfg config.Config) *Engine {
	return &Engine{
		Watcher:   watcher,
		Sink:      sink,
		SyncState: log,
		Resync:    resync,
		Cfg:       cfg,
		Policy:    backoffpolicy.FromConfig(cfg),
		kinds:     make(map[string]*kindWatch),
	}
}

// Start launches one watch goroutine per watchable descriptor in
// descriptors, resuming from cursors[d.Name] when present. Non-watchable
// descriptors (e.g. metrics.k8s.io kinds) are skipped silently;
// they are refreshed only by full/periodic sync. Start returns immediately;
// call Wait to block until ctx is cancelled and every goroutine has exited.
func (e *Engine) Start(ctx context.Context, descriptors []registry.Descriptor, cursors map[string]string) {
	for _, d := range descriptors {
		if !d.Watchable {
			continue
		}
		kw := &kindWatch{state: StateOpening, cursor: cursors[d.Name]}
		e.mu.Lock()
		e.kinds[d.Name] = kw
		e.mu.Unlock()

		e.wg.Add(1)
		go func(d registry.Descriptor, kw *kindWatch) {
			defer e.wg.Done()
			e.runKind(ctx, d, kw)
		}(d, kw)
	}
}

// Wait blocks until every launched watch goroutine has returned (i.e. after
// the context passed to Start is cancelled and each kind has unwound).
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Status returns the current watch state for kind, if it was started.
func (e *Engine) Status(kind string) (KindStatus, bool) {
	e.mu.Lock()
	kw, ok := e.kinds[kind]
	e.mu.Unlock()
	if !ok {
		return KindStatus{}, false
	}
	return kw.snapshot(kind), true
}

// AllStatus returns every tracked kind's current watch state.
func (e *Engine) AllStatus() []KindStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]KindStatus, 0, len(e.kinds))
	for name, kw := range e.kinds {
		result = append(result, kw.snapshot(name))
	}
	return result
}

// runKind drives one kind through the state machine until ctx is cancelled
// (STOPPED) or the reconnect cap is exhausted with auto-resync disabled
// (STOPPED).
func (e *Engine) runKind(ctx context.Context, d registry.Descriptor, kw *kindWatch) {
	state := StateOpening
	cursor := kw.cursor
	reconnects := 0

	for {
		if ctx.Err() != nil {
			kw.set(StateStopped, cursor, reconnects, nil)
			return
		}

		switch state {
		case StateOpening, StateReconnecting:
			kw.set(state, cursor, reconnects, nil)
			w, err := e.Watcher.Watch(ctx, d.GVR(), d.Namespaced, cursor)
			if err != nil {
				if isShutdown(ctx, err) {
					kw.set(StateStopped, cursor, reconnects, nil)
					return
				}
				klog.Warningf("watchengine: %s: open failed: %v", d.Name, err)
				state = e.afterFailure(ctx, d.Name, &reconnects, err, &cursor)
				continue
			}

			kw.set(StateRunning, cursor, reconnects, nil)
			consumeErr := e.consume(ctx, d, w, &cursor)
			w.Stop()

			if ctx.Err() != nil {
				kw.set(StateStopped, cursor, reconnects, nil)
				return
			}
			if consumeErr == nil {
				// The stream closed cleanly (server-initiated reconnect
				// window); resume without counting it as a failure.
				state = StateReconnecting
				continue
			}
			if isShutdown(ctx, consumeErr) {
				kw.set(StateStopped, cursor, reconnects, nil)
				return
			}
			if apierrors.IsResourceExpired(consumeErr) || apierrors.IsGone(consumeErr) {
				if e.Cfg.AutoSyncOnWatchFailure {
					state = StateResync
					continue
				}
			}
			klog.Warningf("watchengine: %s: watch ended: %v", d.Name, consumeErr)
			state = e.afterFailure(ctx, d.Name, &reconnects, consumeErr, &cursor)

		case StateBackoff:
			delay := e.Policy.DelayForAttempt(reconnects)
			kw.set(StateBackoff, cursor, reconnects, nil)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				kw.set(StateStopped, cursor, reconnects, nil)
				return
			case <-timer.C:
			}
			state = StateReconnecting

		case StateResync:
			kw.set(StateResync, cursor, reconnects, nil)
			newCursor, err := e.Resync(ctx, d)
			if err != nil {
				klog.Warningf("watchengine: %s: resync failed: %v", d.Name, err)
				state = e.afterFailure(ctx, d.Name, &reconnects, err, &cursor)
				continue
			}
			cursor = newCursor
			reconnects = 0
			e.persistReconnects(ctx, d.Name, cursor, reconnects)
			state = StateReconnecting

		case StateStopped:
			kw.set(StateStopped, cursor, reconnects, nil)
			return
		}
	}
}

// afterFailure increments the reconnect counter and decides the next state:
// BACKOFF while under the retry cap, otherwise RESYNC (when enabled, also
// resetting the counter) or STOPPED.
func (e *Engine) afterFailure(ctx context.Context, kind string, reconnects *int, err error, cursor *string) State {
	*reconnects++
	e.persistReconnects(ctx, kind, *cursor, *reconnects)

	reconnectCap := e.Policy.MaxAttempts
	if reconnectCap <= 0 {
		reconnectCap = config.DefaultRetryMaxAttempts
	}
	if *reconnects < reconnectCap {
		return StateBackoff
	}
	if e.Cfg.AutoSyncOnWatchFailure {
		return StateResync
	}
	if markErr := e.SyncState.MarkFailed(ctx, kind, err); markErr != nil {
		klog.Warningf("watchengine: %s: mark failed: %v", kind, markErr)
	}
	return StateStopped
}

func (e *Engine) persistReconnects(ctx context.Context, kind, cursor string, reconnects int) {
	patch := syncstate.Patch{ReconnectCount: &reconnects}
	if cursor != "" {
		patch.ResourceVersionCursor = &cursor
	}
	if err := e.SyncState.Upsert(ctx, kind, patch); err != nil {
		klog.Warningf("watchengine: %s: persist reconnect state: %v", kind, err)
	}
}

// consume reads events from w until it closes or errors, applying each to
// the Event Apply Pipeline. Returns nil when the
// channel closes without error (a clean server-side reconnect window).
func (e *Engine) consume(ctx context.Context, d registry.Descriptor, w watch.Interface, cursor *string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			if err := e.applyOne(ctx, d, ev, cursor); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) applyOne(ctx context.Context, d registry.Descriptor, ev watch.Event, cursor *string) error {
	if ev.Type == watch.Error {
		return apierrors.FromObject(ev.Object)
	}
	if ev.Type == watch.Bookmark {
		if obj, ok := ev.Object.(*unstructured.Unstructured); ok {
			if rv := obj.GetResourceVersion(); rv != "" {
				*cursor = rv
			}
		}
		return nil
	}

	obj, ok := ev.Object.(*unstructured.Unstructured)
	if !ok {
		klog.Warningf("watchengine: %s: non-unstructured event object, dropped", d.Name)
		return nil
	}
	if rv := obj.GetResourceVersion(); rv != "" {
		*cursor = rv
	}

	identity := string(obj.GetUID())
	if d.IdentityField == model.IdentityName {
		identity = obj.GetName()
	}
	if identity == "" {
		// Malformed event: missing identity value. Drop it.
		klog.Warningf("watchengine: %s: event missing identity value, dropped", d.Name)
		return nil
	}

	var phase model.EventPhase
	switch ev.Type {
	case watch.Added:
		phase = model.EventAdded
	case watch.Modified:
		phase = model.EventModified
	case watch.Deleted:
		phase = model.EventDeleted
	default:
		klog.Warningf("watchengine: %s: unrecognized event type %q, dropped", d.Name, ev.Type)
		return nil
	}

	event := model.Event{Kind: d.Name, Phase: phase, Object: obj, ResourceVersion: obj.GetResourceVersion()}
	if err := e.Sink.Enqueue(ctx, event, identity); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		klog.Warningf("watchengine: %s: enqueue failed: %v", d.Name, err)
	}
	return nil
}

// isShutdown reports whether err is attributable to ctx being cancelled.
// Deliberate shutdown is silent: never logged as an error, never a
// reconnection trigger.
func isShutdown(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return err == context.Canceled || err == context.DeadlineExceeded
}
