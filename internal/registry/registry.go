/*
 * internal/registry/registry.go
 *
 * Declarative table of every supported Kubernetes kind. Built once at
 * startup and frozen; adding a kind means adding a descriptor and a
 * projector, no engine code changes.
 */

package registry

import (
	"fmt"
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubemirror/syncengine/internal/model"
)

// Projector converts a raw API object into a storable record. Projectors
// must be total: they never panic, and unknown nested fields degrade to
// empty defaults rather than failing the whole projection.
type Projector func(obj *unstructured.Unstructured) model.StoredResource

// Descriptor describes one registered Kubernetes kind.
type Descriptor struct {
	Name          string // display name, e.g. "Pods"
	Kind          string // e.g. "Pod"
	APIGroup      string // empty for the core group
	APIVersion    string
	Plural        string // path segment, e.g. "pods"
	Namespaced    bool
	IdentityField model.IdentityField
	StoreBinding  string // typed collection name in the Store
	Projector     Projector
	SyncPriority  int
	TimeoutClass  model.TimeoutClass
	// Watchable is false for kinds the API server does not support
	// watching (e.g. metrics.k8s.io); the Watch Engine skips them and they
	// are only ever refreshed by full/periodic sync.
	Watchable bool
}

// GVR returns the GroupVersionResource addressed by this descriptor.
func (d Descriptor) GVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: d.APIGroup, Version: d.APIVersion, Resource: d.Plural}
}

// Path returns the REST path for this descriptor: core-group
// resources use /api/v1/{plural}, everything else uses
// /apis/{group}/{version}/{plural}.
func (d Descriptor) Path() string {
	if d.APIGroup == "" {
		return fmt.Sprintf("/api/%s/%s", d.APIVersion, d.Plural)
	}
	return fmt.Sprintf("/apis/%s/%s/%s", d.APIGroup, d.APIVersion, d.Plural)
}

// Registry is the frozen, authoritative descriptor table. Descriptors are
// keyed by GroupVersionResource rather than bare plural: distinct API groups
// legitimately share a plural path segment (e.g. core "pods" and
// metrics.k8s.io "pods"), so the group must be part of the key.
type Registry struct {
	mu     sync.RWMutex
	byGVR  map[schema.GroupVersionResource]Descriptor
	frozen bool
}

// New returns an empty, unfrozen Registry ready for Register calls.
func New() *Registry {
	return &Registry{byGVR: make(map[schema.GroupVersionResource]Descriptor)}
}

// Register adds a descriptor. Returns an error if its GroupVersionResource is
// already taken, the (identityField, storeBinding) pair collides with an
// existing entry, or the registry has already been frozen by Build.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry: cannot register %q after Build", d.Plural)
	}
	if d.Plural == "" {
		return fmt.Errorf("registry: plural is required")
	}
	if d.Projector == nil {
		return fmt.Errorf("registry: %q requires a projector", d.Plural)
	}
	gvr := d.GVR()
	if _, exists := r.byGVR[gvr]; exists {
		return fmt.Errorf("registry: %s already registered", gvr)
	}
	if d.IdentityField == "" {
		d.IdentityField = model.IdentityUID
	}
	if d.TimeoutClass == "" {
		d.TimeoutClass = model.TimeoutNormal
	}
	if d.StoreBinding == "" {
		d.StoreBinding = d.Plural
	}

	for _, existing := range r.byGVR {
		if existing.IdentityField == d.IdentityField && existing.StoreBinding == d.StoreBinding {
			return fmt.Errorf("registry: (identityField=%s, storeBinding=%s) already bound to %q", d.IdentityField, d.StoreBinding, existing.Plural)
		}
	}

	r.byGVR[gvr] = d
	return nil
}

// Build freezes the registry. After Build, Register returns an error and
// iteration order is stable for the process lifetime.
func (r *Registry) Build() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// LookupByPlural returns the descriptor for plural, if registered. When two
// API groups share a plural, the lowest SyncPriority descriptor wins; use
// LookupByGVR to disambiguate explicitly.
func (r *Registry) LookupByPlural(plural string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, ok := Descriptor{}, false
	for _, d := range r.byGVR {
		if d.Plural != plural {
			continue
		}
		if !ok || d.SyncPriority < found.SyncPriority {
			found, ok = d, true
		}
	}
	return found, ok
}

// LookupByGVR returns the descriptor registered for an exact
// GroupVersionResource.
func (r *Registry) LookupByGVR(gvr schema.GroupVersionResource) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byGVR[gvr]
	return d, ok
}

// All returns every registered descriptor, unsorted.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Descriptor, 0, len(r.byGVR))
	for _, d := range r.byGVR {
		result = append(result, d)
	}
	return result
}

// IterateSorted returns every registered descriptor ordered by ascending
// SyncPriority, with a stable tiebreak on Plural.
func (r *Registry) IterateSorted() []Descriptor {
	all := r.All()
	sort.Slice(all, func(i, j int) bool {
		if all[i].SyncPriority != all[j].SyncPriority {
			return all[i].SyncPriority < all[j].SyncPriority
		}
		return all[i].Plural < all[j].Plural
	})
	return all
}

// Len reports how many kinds are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byGVR)
}
