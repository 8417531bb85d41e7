/*
 * internal/store/store.go
 *
 * Store Adapter contract: per-kind persistence hiding the document
 * database behind upsert/delete/find/list/count plus a chunked, retrying
 * bulk-write path.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/backoffpolicy"
	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/model"
)

// Filter narrows a List/Count call: equality on Namespace, regex on Name.
type Filter struct {
	Namespace string
	NameRegex string
}

// ListOptions controls pagination and projection for List.
type ListOptions struct {
	Filter     Filter
	Offset     int
	Limit      int
	Projection []string // field names to include; empty means all fields
}

// Store is the per-kind persistence contract every driver implements.
// "kind" here is the descriptor's StoreBinding, not the Kubernetes Kind
// string, so two descriptors may never share a binding (registry enforces
// this).
type Store interface {
	FindByIdentity(ctx context.Context, kind string, idKey model.IdentityField, idValue string) (*model.StoredResource, error)
	List(ctx context.Context, kind string, opts ListOptions) ([]model.StoredResource, error)
	Count(ctx context.Context, kind string, filter Filter) (int, error)
	UpsertByIdentity(ctx context.Context, kind string, idKey model.IdentityField, idValue string, record model.StoredResource) error
	DeleteByIdentity(ctx context.Context, kind string, idKey model.IdentityField, idValue string) error

	// BulkUpsert writes items in chunks with retry. Drivers supply a
	// ChunkWriter (the atomic per-chunk operation) to a ChunkedWriter and
	// delegate BulkUpsert to it, so every driver gets identical
	// chunking/retry semantics.
	BulkUpsert(ctx context.Context, kind string, idKey model.IdentityField, items []model.StoredResource) error

	// DeleteWhereInvalid purges records with empty uid or empty name. Run
	// once per kind before each full sync.
	DeleteWhereInvalid(ctx context.Context, kind string) error
}

// ChunkWriter is the atomic, single-chunk write operation a driver supplies.
type ChunkWriter func(ctx context.Context, kind string, idKey model.IdentityField, chunk []model.StoredResource) error

// ChunkedWriter implements the BulkUpsert chunking/retry contract
// on top of any driver's ChunkWriter, so every Store implementation
// gets identical chunk-size, inter-chunk-delay, and retry-on-recoverable-
// error behavior without duplicating it per driver.
type ChunkedWriter struct {
	Write   ChunkWriter
	Cfg     config.Config
	Policy  backoffpolicy.Policy
}

// BulkUpsert splits items into chunks of Cfg.BulkWriteBatchSize (or treats
// the whole slice as one chunk when chunking is disabled), writes each chunk
// sequentially with an inter-chunk delay, and retries a failing chunk once
// via the shared backoff policy when the error is recoverable. A bulk write
// of zero items is a no-op.
func (c ChunkedWriter) BulkUpsert(ctx context.Context, kind string, idKey model.IdentityField, items []model.StoredResource) error {
	if len(items) == 0 {
		return nil
	}
	if c.Write == nil {
		return fmt.Errorf("store: no chunk writer configured for %q", kind)
	}

	chunkSize := c.Cfg.BulkWriteBatchSize
	if !c.Cfg.ChunkedBulkWriteEnabled || chunkSize <= 0 {
		chunkSize = len(items)
	}

	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		// A failing chunk gets exactly one retry, and only when the
		// failure looks transient; anything else is wrapped fatal so the
		// shared policy gives up after the first attempt.
		retryPolicy := c.Policy
		retryPolicy.MaxAttempts = 2
		writeOnce := func(callCtx context.Context) error {
			err := c.Write(callCtx, kind, idKey, chunk)
			if err != nil && !IsRecoverable(err) {
				return backoffpolicy.Fatal(err)
			}
			return err
		}

		if err := retryPolicy.Run(ctx, writeOnce); err != nil {
			return fmt.Errorf("store: bulk upsert chunk [%d:%d] of kind %q: %w", start, end, kind, err)
		}

		if start+chunkSize < len(items) && c.Cfg.BulkWriteBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.Cfg.BulkWriteBatchDelay):
			}
		}
	}

	return nil
}

// IsRecoverable classifies an error as a transient I/O failure eligible for
// retry: broken pipe, connection reset,
// socket timeout, or a network-level timeout. Authentication/authorization
// failures and malformed-data errors are never recoverable here.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"broken pipe",
		"connection reset",
		"econnreset",
		"epipe",
		"socket timeout",
		"i/o timeout",
		"network timeout",
		"connection refused",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func warnIfSlow(kind string, start time.Time, threshold time.Duration) {
	if elapsed := time.Since(start); elapsed > threshold {
		klog.V(2).Infof("store: %s op took %s (> %s)", kind, elapsed, threshold)
	}
}
