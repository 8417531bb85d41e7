/*
 * internal/progress/progress.go
 *
 * Readiness/status surface: a mutex-guarded SyncProgress snapshot, owned
 * exclusively by the Hybrid Controller and updated via the progress
 * callbacks the Full Sync Engine is handed.
 */

package progress

import (
	"sync"
	"time"
)

// Status is SyncProgress's overall status.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Step names the phase within an initialization pass.
type Step string

const (
	StepCleanup  Step = "cleanup"
	StepSync     Step = "sync"
	StepInformer Step = "informer"
	StepDone     Step = "done"
)

// ResourceStatus is the per-kind entry inside a SyncProgress snapshot.
type ResourceStatus struct {
	Name   string `json:"name"`
	Icon   string `json:"icon,omitempty"`
	Status string `json:"status"`
	Count  *int   `json:"count,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is the read-only view returned to external consumers: the HTTP
// admin surface, the websocket stream, and response-header decoration.
// Never a mutable reference into the tracker's internal state.
type Snapshot struct {
	Status           Status           `json:"status"`
	Step             Step             `json:"step"`
	TotalResources   int              `json:"totalResources"`
	SyncedResources  int              `json:"syncedResources"`
	FailedResources  int              `json:"failedResources"`
	CurrentResource  string           `json:"currentResource,omitempty"`
	CurrentResources []string         `json:"currentResources,omitempty"`
	StartTime        time.Time        `json:"startTime"`
	EndTime          *time.Time       `json:"endTime,omitempty"`
	Error            string           `json:"error,omitempty"`
	ResourceStatus   []ResourceStatus `json:"resourceStatus"`
}

// Tracker owns one process-global SyncProgress. Only the Hybrid Controller
// holds a Tracker; the full sync engine updates it strictly through the
// callbacks it is handed, and the watch engine does not update it. Use New
// to obtain one: the zero value reports an empty status and has no per-kind
// map until BeginPass runs.
type Tracker struct {
	mu       sync.RWMutex
	snapshot Snapshot
	byName   map[string]ResourceStatus
	ready    bool
}

// New returns a Tracker in the not_started state.
func New() *Tracker {
	t := &Tracker{}
	t.reset()
	return t
}

func (t *Tracker) reset() {
	t.snapshot = Snapshot{Status: StatusNotStarted, Step: StepCleanup}
	t.byName = make(map[string]ResourceStatus)
}

// BeginPass resets the tracker at the start of a new initialization pass
// and seeds a pending entry for every kind that will be synced.
func (t *Tracker) BeginPass(kinds []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	t.snapshot.Status = StatusInProgress
	t.snapshot.Step = StepSync
	t.snapshot.TotalResources = len(kinds)
	t.snapshot.StartTime = time.Now().UTC()
	for _, k := range kinds {
		t.byName[k] = ResourceStatus{Name: k, Status: "pending"}
	}
}

// SetStep updates the current phase (cleanup/sync/informer/done).
func (t *Tracker) SetStep(step Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.Step = step
}

// StartKind marks kind as currently syncing.
func (t *Tracker) StartKind(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byName[kind] = ResourceStatus{Name: kind, Status: "syncing"}
	t.snapshot.CurrentResource = kind
	t.recomputeCurrentResourcesLocked()
}

// CompleteKind records a successful per-kind sync result and advances the
// synced counter. SyncedResources only ever increases during a pass and
// never exceeds TotalResources.
func (t *Tracker) CompleteKind(kind string, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := count
	t.byName[kind] = ResourceStatus{Name: kind, Status: "completed", Count: &c}
	if t.snapshot.SyncedResources < t.snapshot.TotalResources {
		t.snapshot.SyncedResources++
	}
	t.recomputeCurrentResourcesLocked()
}

// FailKind records a failed per-kind sync result. A kind's failure never
// aborts the pass; it is only reflected in the snapshot.
func (t *Tracker) FailKind(kind string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.byName[kind] = ResourceStatus{Name: kind, Status: "failed", Error: msg}
	if t.snapshot.SyncedResources < t.snapshot.TotalResources {
		t.snapshot.SyncedResources++
	}
	t.snapshot.FailedResources++
	t.recomputeCurrentResourcesLocked()
}

func (t *Tracker) recomputeCurrentResourcesLocked() {
	var syncing []string
	for name, rs := range t.byName {
		if rs.Status == "syncing" {
			syncing = append(syncing, name)
		}
	}
	t.snapshot.CurrentResources = syncing
}

// FinishPass marks the pass complete and flips the process-global ready
// flag. The Hybrid Controller never aborts initialization due to a single
// kind's failure, so reaching FinishPass at all — regardless of how many
// individual kinds failed — means the sequence was driven to completion
// and ready becomes true; per-kind failures stay visible in ResourceStatus.
func (t *Tracker) FinishPass() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.snapshot.EndTime = &now
	t.snapshot.Step = StepDone
	t.snapshot.Status = StatusCompleted
	t.ready = true
}

// Abort marks the entire pass as failed before it was driven to completion
// (e.g. a configuration-fatal error during startup). Unlike FinishPass,
// Abort never sets the ready flag.
func (t *Tracker) Abort(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.snapshot.EndTime = &now
	t.snapshot.Status = StatusFailed
	if err != nil {
		t.snapshot.Error = err.Error()
	}
}

// SetError records a top-level, pass-wide error (distinct from per-kind
// errors), e.g. a configuration-fatal failure during startup.
func (t *Tracker) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.snapshot.Error = err.Error()
	}
}

// Snapshot returns a read-only copy of the current progress state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := t.snapshot
	cp.ResourceStatus = make([]ResourceStatus, 0, len(t.byName))
	for _, rs := range t.byName {
		cp.ResourceStatus = append(cp.ResourceStatus, rs)
	}
	if cp.CurrentResources != nil {
		current := make([]string, len(cp.CurrentResources))
		copy(current, cp.CurrentResources)
		cp.CurrentResources = current
	}
	return cp
}

// IsReady reports true only when the pass completed AND the ready flag is
// set, so list endpoints keep returning 503 for a pass that never actually
// succeeded.
func (t *Tracker) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready && t.snapshot.Status == StatusCompleted
}

// IsLive always reports true while the process is serving requests.
func (t *Tracker) IsLive() bool {
	return true
}
