/*
 * internal/resources/networking.go
 *
 * Projectors for networking.k8s.io/v1, storage.k8s.io/v1,
 * admissionregistration.k8s.io/v1, autoscaling/v1, and policy/v1.
 */

package resources

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubemirror/syncengine/internal/model"
)

func ProjectIngress(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["ingressClassName"] = str(obj, "spec", "ingressClassName")
	r.Extra["ruleCount"] = sliceLen(obj, "spec", "rules")
	return r
}

func ProjectIngressClass(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["controller"] = str(obj, "spec", "controller")
	return r
}

func ProjectNetworkPolicy(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["policyTypes"] = stringSlice(obj, "spec", "policyTypes")
	return r
}

func ProjectStorageClass(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["provisioner"] = str(obj, "provisioner")
	r.Extra["reclaimPolicy"] = str(obj, "reclaimPolicy")
	return r
}

func ProjectHorizontalPodAutoscaler(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["minReplicas"] = i64(obj, "spec", "minReplicas")
	r.Extra["maxReplicas"] = i64(obj, "spec", "maxReplicas")
	r.Extra["currentReplicas"] = i64(obj, "status", "currentReplicas")
	return r
}

func ProjectPodDisruptionBudget(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["currentHealthy"] = i64(obj, "status", "currentHealthy")
	r.Extra["desiredHealthy"] = i64(obj, "status", "desiredHealthy")
	return r
}

func ProjectValidatingWebhookConfiguration(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["webhookCount"] = sliceLen(obj, "webhooks")
	return r
}

func ProjectMutatingWebhookConfiguration(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["webhookCount"] = sliceLen(obj, "webhooks")
	return r
}
