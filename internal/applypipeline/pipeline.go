/*
 * internal/applypipeline/pipeline.go
 *
 * Event Apply Pipeline: a single logical FIFO queue per process that
 * serializes Store writes delivered by every kind's watch, with bounded
 * in-flight concurrency. Per-uid ordering is preserved by sharding events
 * across a fixed number of lanes keyed by uid hash — events for the same
 * uid always land on the same lane and are therefore applied strictly in
 * arrival order, while different uids can apply concurrently across lanes,
 * bounding in-flight Store writes without a single global lock.
 */

package applypipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/model"
	"github.com/kubemirror/syncengine/internal/resources"
)

// Applier applies one event to the Store. Implementations live in the
// controller wiring layer, which closes over the registry and Store to
// resolve a descriptor's projector and identity field per event's kind.
type Applier func(ctx context.Context, ev model.Event) error

// Pipeline is the Event Apply Pipeline. It owns no Store reference directly
// — Apply is supplied by the caller — so it can be unit tested with a fake
// applier and reused unchanged by the Hybrid Controller's wiring.
type Pipeline struct {
	apply   Applier
	lanes   []chan model.Event
	wg      sync.WaitGroup
	cfg     config.Config

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds a Pipeline with lanes-count concurrency (default from cfg) and
// a fixed buffer of 256 events per lane. Start must be called before Enqueue.
func New(cfg config.Config, apply Applier) *Pipeline {
	lanes := cfg.ApplyPipelineConcurrency
	if lanes <= 0 {
		lanes = config.DefaultApplyPipelineConcurrency
	}
	p := &Pipeline{apply: apply, cfg: cfg, lanes: make([]chan model.Event, lanes)}
	for i := range p.lanes {
		p.lanes[i] = make(chan model.Event, 256)
	}
	return p
}

// Start launches one worker goroutine per lane. Safe to call once.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := range p.lanes {
		lane := p.lanes[i]
		p.wg.Add(1)
		go p.runLane(ctx, lane)
	}
}

func (p *Pipeline) runLane(ctx context.Context, lane chan model.Event) {
	defer p.wg.Done()
	pause := p.cfg.ApplyPipelineBatchPause

	processed := 0
	for ev := range lane {
		if err := p.apply(ctx, ev); err != nil {
			klog.Errorf("applypipeline: apply %s/%s failed: %v", ev.Kind, ev.Phase, err)
			if klog.V(4).Enabled() {
				klog.V(4).Infof("applypipeline: failed object dump:\n%s", resources.ToDiagnosticYAML(ev.Object))
			}
		}
		processed++
		// A small pause every few items prevents one saturated lane from
		// hammering the Store continuously.
		if pause > 0 && processed%8 == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}
	}
}

// Enqueue submits an event for application, routed to the lane owning its
// identity value so same-identity events serialize in arrival order.
// Enqueue blocks if the target lane's buffer is full,
// naturally applying backpressure to the Watch Engine.
func (p *Pipeline) Enqueue(ctx context.Context, ev model.Event, identityValue string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("applypipeline: enqueue after shutdown")
	}

	lane := p.lanes[laneFor(identityValue, len(p.lanes))]
	select {
	case lane <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func laneFor(identityValue string, count int) int {
	if count <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(identityValue))
	return int(h.Sum32()) % count
}

// Shutdown closes every lane and waits up to timeout for in-flight and
// queued events to drain, logging if the timeout elapses first. Subsequent
// Enqueue calls return an error. Safe to call once; a second call is a
// no-op.
func (p *Pipeline) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		klog.Warningf("applypipeline: shutdown drain timed out after %s", timeout)
	}
}

// QueueDepth reports the total number of events currently buffered across
// all lanes, used by the status surface and tests.
func (p *Pipeline) QueueDepth() int {
	total := 0
	for _, lane := range p.lanes {
		total += len(lane)
	}
	return total
}
