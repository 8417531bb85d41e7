/*
 * internal/resources/yaml.go
 *
 * Raw-object YAML rendering for diagnostics: renders a watch-delivered or
 * list-delivered object back to YAML so it can be attached to an
 * apply-failure log line without the caller hand-rolling a marshaler.
 */

package resources

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

// ToDiagnosticYAML renders obj as YAML for inclusion in error logs. Returns
// an empty string if obj is nil or marshaling fails; diagnostics are never
// worth failing an apply over.
func ToDiagnosticYAML(obj *unstructured.Unstructured) string {
	if obj == nil {
		return ""
	}
	out, err := yaml.Marshal(obj.Object)
	if err != nil {
		return ""
	}
	return string(out)
}
