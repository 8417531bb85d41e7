/*
 * internal/controller/controller.go
 *
 * Hybrid Controller: decides whether to run a full sync at startup,
 * orchestrates the Store purge / full sync / watch sequence, owns the
 * process-global readiness flag, schedules periodic resync, and drives a
 * graceful shutdown. Pure orchestration over the fullsync, watchengine,
 * applypipeline, and progress packages' exported APIs.
 */

package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/applypipeline"
	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/fullsync"
	"github.com/kubemirror/syncengine/internal/model"
	"github.com/kubemirror/syncengine/internal/progress"
	"github.com/kubemirror/syncengine/internal/registry"
	"github.com/kubemirror/syncengine/internal/store"
	"github.com/kubemirror/syncengine/internal/syncstate"
	"github.com/kubemirror/syncengine/internal/watchengine"
)

// Controller is the Hybrid Controller.
type Controller struct {
	Registry  *registry.Registry
	Store     store.Store
	SyncState syncstate.Log
	FullSync  *fullsync.Engine
	Watch     *watchengine.Engine
	Pipeline  *applypipeline.Pipeline
	Progress  *progress.Tracker
	Cfg       config.Config

	mu             sync.Mutex
	shuttingDown   bool
	periodicCancel context.CancelFunc
	periodicDone   chan struct{}
}

// New wires a Controller from its collaborators. FullSync, Watch, and
// Pipeline are expected to already be constructed against the same
// Registry/Store/SyncState so the caller controls how events are applied
// (the Applier closure resolving a descriptor's projector per event).
func New(reg *registry.Registry, st store.Store, log syncstate.Log, fs *fullsync.Engine, we *watchengine.Engine, pipeline *applypipeline.Pipeline, cfg config.Config) *Controller {
	return &Controller{
		Registry:  reg,
		Store:     st,
		SyncState: log,
		FullSync:  fs,
		Watch:     we,
		Pipeline:  pipeline,
		Progress:  progress.New(),
		Cfg:       cfg,
	}
}

// Start runs the startup sequence: purge invalid records, decide whether a
// full sync is due, run it if so, start watches from their resume cursors,
// flip readiness, and schedule periodic resync. Building the registry is
// the caller's responsibility so this Controller can be constructed with
// any frozen registry. Start blocks only for the decided full sync (if
// any); watches and the periodic scheduler run in background goroutines
// after it returns.
func (c *Controller) Start(ctx context.Context) error {
	c.Pipeline.Start(ctx)

	descriptors := c.Registry.IterateSorted()
	for _, d := range descriptors {
		if err := c.Store.DeleteWhereInvalid(ctx, d.StoreBinding); err != nil {
			klog.Warningf("controller: purge invalid records for %s: %v", d.StoreBinding, err)
		}
	}

	shouldSync, err := c.shouldFullSync(ctx, descriptors)
	if err != nil {
		return fmt.Errorf("controller: startup decision rule: %w", err)
	}

	if shouldSync {
		c.runFullSync(ctx, descriptors)
	}

	cursors, err := c.loadCursors(ctx)
	if err != nil {
		klog.Warningf("controller: load cursors: %v", err)
	}
	c.Progress.SetStep(progress.StepInformer)
	c.Watch.Start(ctx, descriptors, cursors)

	c.markReady()

	if c.Cfg.PeriodicSyncInterval > 0 {
		c.startPeriodicSync(ctx, descriptors)
	}

	return nil
}

// shouldFullSync implements the startup decision rule: always/never are
// unconditional; auto syncs when any kind has no entry, any entry failed,
// or any entry's last sync is older than the staleness threshold.
func (c *Controller) shouldFullSync(ctx context.Context, descriptors []registry.Descriptor) (bool, error) {
	switch c.Cfg.StartupSyncMode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	}

	entries, err := c.SyncState.GetAll(ctx)
	if err != nil {
		return false, err
	}
	byKind := make(map[string]syncstate.Entry, len(entries))
	for _, e := range entries {
		byKind[e.Kind] = e
	}

	staleBefore := time.Now().Add(-c.Cfg.DataStaleThreshold)
	for _, d := range descriptors {
		entry, ok := byKind[d.Name]
		if !ok {
			return true, nil
		}
		if entry.Status == syncstate.StatusFailed {
			return true, nil
		}
		if entry.LastSyncTime.Before(staleBefore) {
			return true, nil
		}
	}
	return false, nil
}

// runFullSync drives SyncAll with progress callbacks wired to the status
// surface.
func (c *Controller) runFullSync(ctx context.Context, descriptors []registry.Descriptor) {
	names := make([]string, len(descriptors))
	for i, d := range descriptors {
		names[i] = d.Name
	}
	c.Progress.BeginPass(names)
	c.Progress.SetStep(progress.StepSync)

	cb := fullsync.Callbacks{
		OnStart:    c.Progress.StartKind,
		OnComplete: c.Progress.CompleteKind,
		OnFail:     c.Progress.FailKind,
	}
	c.FullSync.SyncAll(ctx, cb)
}

// loadCursors returns the resourceVersion cursor the Watch Engine should
// resume from for each kind. SyncOne writes the post-sync cursor into Sync
// State via MarkCompleted, so a single read after runFullSync covers both
// the warm-restart and just-synced cases.
func (c *Controller) loadCursors(ctx context.Context) (map[string]string, error) {
	entries, err := c.SyncState.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	cursors := make(map[string]string, len(entries))
	for _, e := range entries {
		cursors[e.Kind] = e.ResourceVersionCursor
	}
	return cursors, nil
}

func (c *Controller) markReady() {
	c.Progress.FinishPass()
}

// startPeriodicSync schedules a repeating full sync at
// Cfg.PeriodicSyncInterval. Watches keep running during periodic sync;
// concurrent writes are absorbed by the Event Apply Pipeline's per-uid
// FIFO ordering.
func (c *Controller) startPeriodicSync(ctx context.Context, descriptors []registry.Descriptor) {
	c.mu.Lock()
	periodicCtx, cancel := context.WithCancel(ctx)
	c.periodicCancel = cancel
	c.periodicDone = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.periodicDone)
		ticker := time.NewTicker(c.Cfg.PeriodicSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-periodicCtx.Done():
				return
			case <-ticker.C:
				klog.Infof("controller: periodic full sync starting")
				c.runFullSync(periodicCtx, descriptors)
			}
		}
	}()
}

// TriggerFullSync runs an out-of-band full sync for every registered kind,
// serving the admin trigger endpoint.
func (c *Controller) TriggerFullSync(ctx context.Context) []fullsync.KindResult {
	descriptors := c.Registry.IterateSorted()
	c.runFullSync(ctx, descriptors)
	return c.snapshotResults(descriptors)
}

// TriggerFullSyncKind runs an out-of-band full sync for a single kind,
// serving the per-kind admin trigger endpoint.
func (c *Controller) TriggerFullSyncKind(ctx context.Context, kind string) (fullsync.KindResult, error) {
	d, err := c.FullSync.SingleKind(kind)
	if err != nil {
		return fullsync.KindResult{}, err
	}
	cb := fullsync.Callbacks{
		OnStart:    c.Progress.StartKind,
		OnComplete: c.Progress.CompleteKind,
		OnFail:     c.Progress.FailKind,
	}
	return c.FullSync.SyncOne(ctx, d, cb), nil
}

func (c *Controller) snapshotResults(descriptors []registry.Descriptor) []fullsync.KindResult {
	snap := c.Progress.Snapshot()
	byName := make(map[string]progress.ResourceStatus, len(snap.ResourceStatus))
	for _, rs := range snap.ResourceStatus {
		byName[rs.Name] = rs
	}
	results := make([]fullsync.KindResult, 0, len(descriptors))
	for _, d := range descriptors {
		rs, ok := byName[d.Name]
		if !ok {
			continue
		}
		res := fullsync.KindResult{Kind: d.Name, Success: rs.Status == "completed"}
		if rs.Count != nil {
			res.Count = *rs.Count
		}
		if rs.Error != "" {
			res.Err = fmt.Errorf("%s", rs.Error)
		}
		results = append(results, res)
	}
	return results
}

// GetSyncProgress returns the current progress snapshot for the status
// endpoints and response-header decoration.
func (c *Controller) GetSyncProgress() progress.Snapshot {
	return c.Progress.Snapshot()
}

// IsReady reports whether initial sync has been driven to completion; list
// endpoints gate on this.
func (c *Controller) IsReady() bool {
	return c.Progress.IsReady()
}

// IsLive serves the liveness half of the readiness surface.
func (c *Controller) IsLive() bool {
	return c.Progress.IsLive()
}

// WatchStatus exposes one kind's Watch Engine state, used by the status
// surface to report reconnect counts and current state per kind.
func (c *Controller) WatchStatus(kind string) (watchengine.KindStatus, bool) {
	return c.Watch.Status(kind)
}

// Shutdown runs the shutdown sequence: set the shutting-down
// flag, stop the periodic scheduler, let every watch unwind via ctx
// cancellation (the caller owns that context and is expected to cancel it
// around this call), drain the Event Apply Pipeline with a timeout, then
// flip ready false. Safe to call once; a second call is a no-op.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return
	}
	c.shuttingDown = true
	cancel := c.periodicCancel
	done := c.periodicDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.Watch.Wait()
	c.Pipeline.Shutdown(c.Cfg.ApplyPipelineDrainTimeout)
	c.Progress.Abort(fmt.Errorf("shutdown"))
}

// ApplierFor returns an applypipeline.Applier that resolves each event's
// kind to its registered descriptor and applies it to the Store: ADDED/
// MODIFIED project-then-upsert, DELETED delete-by-identity. Used by
// cmd/mirrorsync to build the Pipeline before wiring it into New.
func ApplierFor(reg *registry.Registry, st store.Store) applypipeline.Applier {
	return func(ctx context.Context, ev model.Event) error {
		var d registry.Descriptor
		var found bool
		for _, candidate := range reg.All() {
			if candidate.Name == ev.Kind {
				d, found = candidate, true
				break
			}
		}
		if !found {
			return fmt.Errorf("controller: apply: unknown kind %q", ev.Kind)
		}

		if ev.Phase == model.EventDeleted {
			identity := ev.Object.GetUID()
			if d.IdentityField == model.IdentityName {
				return st.DeleteByIdentity(ctx, d.StoreBinding, d.IdentityField, ev.Object.GetName())
			}
			return st.DeleteByIdentity(ctx, d.StoreBinding, d.IdentityField, string(identity))
		}

		rec := d.Projector(ev.Object)
		if rec.IdentityValue(d.IdentityField) == "" {
			// Malformed event: missing identity value. Drop it.
			return nil
		}
		return st.UpsertByIdentity(ctx, d.StoreBinding, d.IdentityField, rec.IdentityValue(d.IdentityField), rec)
	}
}
