/*
 * internal/resources/core.go
 *
 * Projectors for the core/v1 group. Phase/status summaries are kept flat
 * for cheap list-endpoint filtering.
 */

package resources

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubemirror/syncengine/internal/model"
)

// ProjectPod flattens spec.nodeName/status.phase/status.podIP alongside the
// common fields, plus a terminal flag, the restart policy and the container
// count; per-container readiness is not projected.
func ProjectPod(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	phase := str(obj, "status", "phase")
	r.Extra["phase"] = phase
	r.Extra["terminal"] = phase == string(corev1.PodSucceeded) || phase == string(corev1.PodFailed)
	r.Extra["nodeName"] = str(obj, "spec", "nodeName")
	r.Extra["podIP"] = str(obj, "status", "podIP")
	r.Extra["containerCount"] = sliceLen(obj, "spec", "containers")
	r.Extra["restartPolicy"] = str(obj, "spec", "restartPolicy")
	return r
}

// ProjectNode adds the node's kubelet version, OS image, unschedulable flag
// and an addresses entry; node capacity and conditions are not projected.
func ProjectNode(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["kubeletVersion"] = str(obj, "status", "nodeInfo", "kubeletVersion")
	r.Extra["osImage"] = str(obj, "status", "nodeInfo", "osImage")
	r.Extra["unschedulable"] = boolField(obj, "spec", "unschedulable")
	r.Extra["addresses"] = stringSlice(obj, "status", "addresses")
	return r
}

// ProjectNamespace flattens the namespace phase (Active/Terminating).
func ProjectNamespace(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["phase"] = str(obj, "status", "phase")
	return r
}

// ProjectService flattens type/clusterIP for the networking list view.
func ProjectService(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["type"] = str(obj, "spec", "type")
	r.Extra["clusterIP"] = str(obj, "spec", "clusterIP")
	return r
}

// ProjectPersistentVolume flattens capacity/phase/storageClass.
func ProjectPersistentVolume(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["phase"] = str(obj, "status", "phase")
	r.Extra["storageClassName"] = str(obj, "spec", "storageClassName")
	r.Extra["capacity"] = str(obj, "spec", "capacity", "storage")
	return r
}

// ProjectPersistentVolumeClaim flattens phase/volumeName/storageClass.
func ProjectPersistentVolumeClaim(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["phase"] = str(obj, "status", "phase")
	r.Extra["volumeName"] = str(obj, "spec", "volumeName")
	r.Extra["storageClassName"] = str(obj, "spec", "storageClassName")
	return r
}

// ProjectServiceAccount flattens the secret-count field only; the
// projection never introspects secret contents.
func ProjectServiceAccount(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["secretCount"] = sliceLen(obj, "secrets")
	return r
}

// ProjectConfigMap flattens only a data-key count. Large payloads stay
// exclusively in Raw.
func ProjectConfigMap(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	if data, found := mapField(obj, "data"); found {
		r.Extra["dataKeyCount"] = len(data)
	}
	return r
}

// ProjectSecret flattens type and a data-key count. Secret values are never
// read out of the raw object by the projector.
func ProjectSecret(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["type"] = str(obj, "type")
	if data, found := mapField(obj, "data"); found {
		r.Extra["dataKeyCount"] = len(data)
	}
	if helm := decodeHelmRelease(obj); helm != nil {
		r.Extra["helmRelease"] = helm
	}
	return r
}

// ProjectEvent flattens the fields operators filter events by.
func ProjectEvent(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["reason"] = str(obj, "reason")
	r.Extra["message"] = str(obj, "message")
	r.Extra["type"] = str(obj, "type")
	r.Extra["isWarning"] = str(obj, "type") == corev1.EventTypeWarning
	r.Extra["involvedObjectKind"] = str(obj, "involvedObject", "kind")
	r.Extra["involvedObjectName"] = str(obj, "involvedObject", "name")
	r.Extra["count"] = i64(obj, "count")
	return r
}
