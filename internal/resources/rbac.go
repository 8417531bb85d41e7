/*
 * internal/resources/rbac.go
 *
 * Projectors for the rbac.authorization.k8s.io/v1 group.
 */

package resources

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubemirror/syncengine/internal/model"
)

func ProjectClusterRole(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["ruleCount"] = sliceLen(obj, "rules")
	return r
}

func ProjectClusterRoleBinding(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["roleRefKind"] = str(obj, "roleRef", "kind")
	r.Extra["roleRefName"] = str(obj, "roleRef", "name")
	r.Extra["subjectCount"] = sliceLen(obj, "subjects")
	return r
}

func ProjectRole(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["ruleCount"] = sliceLen(obj, "rules")
	return r
}

func ProjectRoleBinding(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["roleRefKind"] = str(obj, "roleRef", "kind")
	r.Extra["roleRefName"] = str(obj, "roleRef", "name")
	r.Extra["subjectCount"] = sliceLen(obj, "subjects")
	return r
}
