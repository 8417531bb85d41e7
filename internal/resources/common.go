/*
 * internal/resources/common.go
 *
 * Shared projector plumbing: every per-kind projector in this package
 * starts from baseProjection, which fills the flattened top-level fields
 * every StoredResource carries (uid, name, namespace, kind, apiVersion,
 * resourceVersion, labels, annotations, raw) and never panics on malformed
 * input — unknown or absent nested fields degrade to empty defaults.
 */

package resources

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubemirror/syncengine/internal/model"
)

// baseProjection builds the common StoredResource fields every kind shares.
// Callers add kind-specific fields to the returned record's Extra map.
func baseProjection(obj *unstructured.Unstructured) model.StoredResource {
	if obj == nil {
		return model.StoredResource{Extra: map[string]interface{}{}}
	}
	return model.StoredResource{
		UID:             string(obj.GetUID()),
		Name:            obj.GetName(),
		Namespace:       obj.GetNamespace(),
		Kind:            obj.GetKind(),
		APIVersion:      obj.GetAPIVersion(),
		ResourceVersion: obj.GetResourceVersion(),
		Labels:          obj.GetLabels(),
		Annotations:     obj.GetAnnotations(),
		Extra:           map[string]interface{}{},
		Raw:             obj,
	}
}

// str reads a nested string field, degrading to "" on any absence or type
// mismatch rather than panicking (the projector total-function invariant).
func str(obj *unstructured.Unstructured, fields ...string) string {
	if obj == nil {
		return ""
	}
	v, found, err := unstructured.NestedString(obj.Object, fields...)
	if err != nil || !found {
		return ""
	}
	return v
}

func i64(obj *unstructured.Unstructured, fields ...string) int64 {
	if obj == nil {
		return 0
	}
	v, found, err := unstructured.NestedInt64(obj.Object, fields...)
	if err != nil || !found {
		return 0
	}
	return v
}

func boolField(obj *unstructured.Unstructured, fields ...string) bool {
	if obj == nil {
		return false
	}
	v, found, err := unstructured.NestedBool(obj.Object, fields...)
	if err != nil || !found {
		return false
	}
	return v
}

func sliceLen(obj *unstructured.Unstructured, fields ...string) int {
	if obj == nil {
		return 0
	}
	v, found, err := unstructured.NestedSlice(obj.Object, fields...)
	if err != nil || !found {
		return 0
	}
	return len(v)
}

// synthesizeUID produces a stable, non-empty uid for kinds the API server
// assigns no uid to; stored records must never carry an empty uid.
func synthesizeUID(r model.StoredResource) string {
	if r.UID != "" {
		return r.UID
	}
	return fmt.Sprintf("synthetic:%s:%s:%s", r.Kind, r.Namespace, r.Name)
}

func mapField(obj *unstructured.Unstructured, fields ...string) (map[string]interface{}, bool) {
	if obj == nil {
		return nil, false
	}
	v, found, err := unstructured.NestedMap(obj.Object, fields...)
	if err != nil || !found {
		return nil, false
	}
	return v, true
}

func stringSlice(obj *unstructured.Unstructured, fields ...string) []string {
	if obj == nil {
		return nil
	}
	raw, found, err := unstructured.NestedSlice(obj.Object, fields...)
	if err != nil || !found {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
