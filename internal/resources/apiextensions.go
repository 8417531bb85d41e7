/*
 * internal/resources/apiextensions.go
 *
 * Projector for apiextensions.k8s.io/v1 CustomResourceDefinitions — synced
 * before every other kind since it is the first signal of which kinds this
 * cluster actually serves.
 */

package resources

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubemirror/syncengine/internal/model"
)

func ProjectCustomResourceDefinition(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["group"] = str(obj, "spec", "group")
	r.Extra["scope"] = str(obj, "spec", "scope")
	r.Extra["kind"] = str(obj, "spec", "names", "kind")
	r.Extra["plural"] = str(obj, "spec", "names", "plural")
	r.Extra["establishedCondition"] = conditionStatus(obj, "Established")
	return r
}

// conditionStatus scans a standard status.conditions array for the named
// condition type's status string, used by the CRD and Gateway projectors.
func conditionStatus(obj *unstructured.Unstructured, conditionType string) string {
	if obj == nil {
		return ""
	}
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found {
		return ""
	}
	for _, c := range conditions {
		m, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t == conditionType {
			status, _ := m["status"].(string)
			return status
		}
	}
	return ""
}
