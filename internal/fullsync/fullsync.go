/*
 * internal/fullsync/fullsync.go
 *
 * Full Sync Engine: brings the Store into a state consistent with the API
 * server's current snapshot, one kind at a time or for every registered
 * kind. Each kind produces one outcome value and never aborts its
 * siblings.
 */

package fullsync

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/backoffpolicy"
	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/k8sclient"
	"github.com/kubemirror/syncengine/internal/model"
	"github.com/kubemirror/syncengine/internal/registry"
	"github.com/kubemirror/syncengine/internal/store"
	"github.com/kubemirror/syncengine/internal/syncstate"

	"golang.org/x/sync/errgroup"
)

// KindResult is one kind's sync outcome, carried as an explicit value so a
// failure in one kind never unwinds its siblings.
type KindResult struct {
	Kind    string
	Count   int
	Success bool
	Err     error
}

// Callbacks lets the Hybrid Controller observe per-kind progress without
// this engine importing the progress package directly.
type Callbacks struct {
	OnStart    func(kind string)
	OnComplete func(kind string, count int)
	OnFail     func(kind string, err error)
}

func (c Callbacks) started(kind string) {
	if c.OnStart != nil {
		c.OnStart(kind)
	}
}

func (c Callbacks) completed(kind string, count int) {
	if c.OnComplete != nil {
		c.OnComplete(kind, count)
	}
}

func (c Callbacks) failed(kind string, err error) {
	if c.OnFail != nil {
		c.OnFail(kind, err)
	}
}

// Engine is the Full Sync Engine. It holds no progress state of its own;
// SyncProgress is exclusively owned by the Hybrid Controller.
type Engine struct {
	Registry  *registry.Registry
	Clients   k8sclient.Lister
	Store     store.Store
	SyncState syncstate.Log
	Cfg       config.Config
	Policy    backoffpolicy.Policy
}

// New builds a Full Sync Engine from its collaborators.
func New(reg *registry.Registry, clients k8sclient.Lister, st store.Store, log syncstate.Log, cfg config.Config) *Engine {
	return &Engine{
		Registry:  reg,
		Clients:   clients,
		Store:     st,
		SyncState: log,
		Cfg:       cfg,
		Policy:    backoffpolicy.FromConfig(cfg),
	}
}

// SyncOne syncs one kind: mark in-progress, list with the descriptor's
// timeout class, project and bulk-upsert each page, track the highest
// resourceVersion seen, then mark the outcome.
func (e *Engine) SyncOne(ctx context.Context, d registry.Descriptor, cb Callbacks) KindResult {
	kind := d.Name
	cb.started(kind)

	if err := e.SyncState.MarkInProgress(ctx, kind); err != nil {
		klog.Warningf("fullsync: mark in-progress %s: %v", kind, err)
	}
	if err := e.Store.DeleteWhereInvalid(ctx, d.StoreBinding); err != nil {
		klog.Warningf("fullsync: purge invalid records %s: %v", kind, err)
	}

	timeout := e.Cfg.RequestTimeout
	if d.TimeoutClass == model.TimeoutExtended {
		timeout = e.Cfg.LargeResourceTimeout
	}
	pageSize := int64(e.Cfg.DefaultPageSize)
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}

	start := time.Now()
	var count int
	var cursor string
	var skipped int

	attempt := func(callCtx context.Context) error {
		count, skipped = 0, 0
		callCtx, cancel := context.WithTimeout(callCtx, timeout)
		defer cancel()

		rv, err := e.Clients.ListPage(callCtx, d.GVR(), d.Namespaced, pageSize, func(page []unstructured.Unstructured) error {
			items := make([]model.StoredResource, 0, len(page))
			for i := range page {
				rec := d.Projector(&page[i])
				if rec.IdentityValue(d.IdentityField) == "" {
					skipped++
					continue
				}
				items = append(items, rec)
			}
			if len(items) == 0 {
				return nil
			}
			if err := e.Store.BulkUpsert(callCtx, d.StoreBinding, d.IdentityField, items); err != nil {
				return err
			}
			count += len(items)
			return nil
		})
		if err != nil {
			if isFatalAPIError(err) {
				return backoffpolicy.Fatal(err)
			}
			return err
		}
		cursor = rv
		return nil
	}

	err := e.Policy.Run(ctx, attempt)
	durationMs := time.Since(start).Milliseconds()

	if skipped > 0 {
		klog.Warningf("fullsync: %s: skipped %d item(s) missing identity value", kind, skipped)
	}

	if err != nil {
		if markErr := e.SyncState.MarkFailed(ctx, kind, err); markErr != nil {
			klog.Warningf("fullsync: mark failed %s: %v", kind, markErr)
		}
		cb.failed(kind, err)
		return KindResult{Kind: kind, Count: count, Success: false, Err: err}
	}

	if markErr := e.SyncState.MarkCompleted(ctx, kind, durationMs, count, cursor); markErr != nil {
		klog.Warningf("fullsync: mark completed %s: %v", kind, markErr)
	}
	cb.completed(kind, count)
	return KindResult{Kind: kind, Count: count, Success: true}
}

// SyncAll iterates the registry in ascending SyncPriority, dispatching
// kinds into a bounded worker pool (or strictly sequentially when
// concurrent mode is disabled). One kind's failure never aborts the
// others; the full list of per-kind results is always returned.
func (e *Engine) SyncAll(ctx context.Context, cb Callbacks) []KindResult {
	descriptors := e.Registry.IterateSorted()
	results := make([]KindResult, len(descriptors))

	limit := e.Cfg.FullSyncConcurrency
	if !e.Cfg.ConcurrentSyncEnabled {
		limit = 1
	}
	if limit <= 0 {
		limit = config.DefaultFullSyncConcurrency
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for i, d := range descriptors {
		i, d := i, d
		group.Go(func() error {
			results[i] = e.SyncOne(gctx, d, cb)
			return nil
		})
	}
	// Errors are never returned by the goroutines above (SyncOne always
	// returns a result value), so Wait only blocks for completion.
	_ = group.Wait()

	return results
}

// isFatalAPIError classifies HTTP 401/403 responses as non-retryable:
// authentication/authorization failures never resolve by waiting.
func isFatalAPIError(err error) bool {
	return apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err)
}

// SingleKind looks up a descriptor by its display name, used by the
// per-kind admin trigger endpoint.
func (e *Engine) SingleKind(name string) (registry.Descriptor, error) {
	for _, d := range e.Registry.IterateSorted() {
		if d.Name == name {
			return d, nil
		}
	}
	return registry.Descriptor{}, fmt.Errorf("fullsync: unknown kind %q", name)
}
