/*
 * internal/model/resource.go
 *
 * Shared data model for stored Kubernetes resources.
 */

package model

import (
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// IdentityField names which top-level field of StoredResource uniquely
// identifies a record within its kind.
type IdentityField string

const (
	// IdentityUID is used for globally-unique, cluster-assigned identities.
	IdentityUID IdentityField = "uid"
	// IdentityName is used for kinds with no uid stability guarantee;
	// either field is admissible provided the choice is fixed per kind.
	IdentityName IdentityField = "name"
)

// TimeoutClass selects the deadline applied to outbound API server calls.
type TimeoutClass string

const (
	TimeoutNormal   TimeoutClass = "normal"
	TimeoutExtended TimeoutClass = "extended"
)

// StoredResource is one record per live API object, per kind.
// Kind-specific projected fields live in Extra; Raw is the opaque verbatim
// copy of the source API object.
type StoredResource struct {
	UID             string            `json:"uid" db:"uid"`
	Name            string            `json:"name" db:"name"`
	Namespace       string            `json:"namespace,omitempty" db:"namespace"`
	Kind            string            `json:"kind" db:"kind"`
	APIVersion      string            `json:"apiVersion" db:"api_version"`
	ResourceVersion string            `json:"resourceVersion" db:"resource_version"`
	Labels          map[string]string `json:"labels,omitempty" db:"-"`
	Annotations     map[string]string `json:"annotations,omitempty" db:"-"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time         `json:"updatedAt" db:"updated_at"`

	// Extra carries kind-specific projected fields, keyed by field name.
	Extra map[string]interface{} `json:"extra,omitempty" db:"-"`

	// Raw is the verbatim source object; the core never introspects it.
	Raw *unstructured.Unstructured `json:"raw,omitempty" db:"-"`
}

// IdentityValue returns the value of the supplied identity field for r.
func (r StoredResource) IdentityValue(field IdentityField) string {
	switch field {
	case IdentityName:
		return r.Name
	default:
		return r.UID
	}
}

// Valid reports whether r satisfies the storage invariant: records with
// empty uid or name must never exist.
func (r StoredResource) Valid() bool {
	return r.UID != "" && r.Name != ""
}

// Event is one ADD/MODIFY/DELETE notification delivered by the Watch Engine
// to the Event Apply Pipeline.
type Event struct {
	Kind            string
	Phase           EventPhase
	Object          *unstructured.Unstructured
	ResourceVersion string
}

// EventPhase enumerates the three watch event types.
type EventPhase string

const (
	EventAdded    EventPhase = "ADDED"
	EventModified EventPhase = "MODIFIED"
	EventDeleted  EventPhase = "DELETED"
)
