/*
 * internal/resources/gateway.go
 *
 * Projectors for gateway.networking.k8s.io/v1 (Gateway API).
 */

package resources

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubemirror/syncengine/internal/model"
)

func ProjectGateway(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["gatewayClassName"] = str(obj, "spec", "gatewayClassName")
	r.Extra["listenerCount"] = sliceLen(obj, "spec", "listeners")
	r.Extra["programmedCondition"] = conditionStatus(obj, "Programmed")
	return r
}

func ProjectHTTPRoute(obj *unstructured.Unstructured) model.StoredResource {
	r := baseProjection(obj)
	r.Extra["hostnames"] = stringSlice(obj, "spec", "hostnames")
	r.Extra["ruleCount"] = sliceLen(obj, "spec", "rules")
	return r
}
