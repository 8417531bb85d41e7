/*
 * internal/resources/apps.go
 *
 * Projectors for the apps/v1 and batch/v1 groups.
 */

package resources

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubemirror/syncengine/internal/model"
)

func ProjectDeployment(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["replicas"] = i64(obj, "spec", "replicas")
	r.Extra["readyReplicas"] = i64(obj, "status", "readyReplicas")
	r.Extra["updatedReplicas"] = i64(obj, "status", "updatedReplicas")
	r.Extra["availableReplicas"] = i64(obj, "status", "availableReplicas")
	return r
}

func ProjectStatefulSet(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["replicas"] = i64(obj, "spec", "replicas")
	r.Extra["readyReplicas"] = i64(obj, "status", "readyReplicas")
	r.Extra["serviceName"] = str(obj, "spec", "serviceName")
	return r
}

func ProjectDaemonSet(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["desiredNumberScheduled"] = i64(obj, "status", "desiredNumberScheduled")
	r.Extra["numberReady"] = i64(obj, "status", "numberReady")
	r.Extra["numberAvailable"] = i64(obj, "status", "numberAvailable")
	return r
}

func ProjectReplicaSet(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["replicas"] = i64(obj, "spec", "replicas")
	r.Extra["readyReplicas"] = i64(obj, "status", "readyReplicas")
	return r
}

func ProjectJob(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["active"] = i64(obj, "status", "active")
	r.Extra["succeeded"] = i64(obj, "status", "succeeded")
	r.Extra["failed"] = i64(obj, "status", "failed")
	r.Extra["completions"] = i64(obj, "spec", "completions")
	return r
}

func ProjectCronJob(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["schedule"] = str(obj, "spec", "schedule")
	r.Extra["suspend"] = boolField(obj, "spec", "suspend")
	r.Extra["lastScheduleTime"] = str(obj, "status", "lastScheduleTime")
	return r
}
