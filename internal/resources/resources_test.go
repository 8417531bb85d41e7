package resources

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubemirror/syncengine/internal/model"
)

func podFixture() *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"name":            "web-0",
			"namespace":       "prod",
			"uid":             "uid-web-0",
			"resourceVersion": "812",
			"labels":          map[string]interface{}{"app": "web"},
		},
		"spec": map[string]interface{}{
			"nodeName":      "node-a",
			"restartPolicy": "Always",
			"containers":    []interface{}{map[string]interface{}{"name": "c1"}, map[string]interface{}{"name": "c2"}},
		},
		"status": map[string]interface{}{
			"phase": "Running",
			"podIP": "10.0.0.9",
		},
	}}
}

func TestProjectPod_FlattensSummaryFields(t *testing.T) {
	r := ProjectPod(podFixture())

	assert.Equal(t, "uid-web-0", r.UID)
	assert.Equal(t, "web-0", r.Name)
	assert.Equal(t, "prod", r.Namespace)
	assert.Equal(t, "812", r.ResourceVersion)
	assert.Equal(t, map[string]string{"app": "web"}, r.Labels)
	assert.Equal(t, "Running", r.Extra["phase"])
	assert.Equal(t, false, r.Extra["terminal"])
	assert.Equal(t, "node-a", r.Extra["nodeName"])
	assert.Equal(t, "10.0.0.9", r.Extra["podIP"])
	assert.Equal(t, 2, r.Extra["containerCount"])
	require.NotNil(t, r.Raw)
}

func TestProjectPod_IsDeterministic(t *testing.T) {
	a := ProjectPod(podFixture())
	b := ProjectPod(podFixture())
	assert.Equal(t, a.UID, b.UID)
	assert.Equal(t, a.Extra, b.Extra)
}

// Every registered projector must be total: nil objects and objects with no
// spec/status must still project without panicking.
func TestProjectors_AreTotalOnDegenerateInput(t *testing.T) {
	empty := &unstructured.Unstructured{Object: map[string]interface{}{}}
	for _, d := range descriptors() {
		d := d
		t.Run(d.Name, func(t *testing.T) {
			assert.NotPanics(t, func() { d.Projector(nil) })
			assert.NotPanics(t, func() { d.Projector(empty) })
		})
	}
}

func TestProjectEvent_FlagsWarnings(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Event",
		"metadata":   map[string]interface{}{"name": "e1", "namespace": "prod", "uid": "uid-e1"},
		"type":       "Warning",
		"reason":     "BackOff",
		"count":      int64(7),
	}}
	r := ProjectEvent(obj)
	assert.Equal(t, true, r.Extra["isWarning"])
	assert.Equal(t, "BackOff", r.Extra["reason"])
	assert.Equal(t, int64(7), r.Extra["count"])
}

func TestProjectNodeMetrics_SynthesizesUID(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "metrics.k8s.io/v1beta1",
		"kind":       "NodeMetrics",
		"metadata":   map[string]interface{}{"name": "node-a"},
		"usage":      map[string]interface{}{"cpu": "250m", "memory": "1Gi"},
	}}
	r := ProjectNodeMetrics(obj)
	assert.NotEmpty(t, r.UID)
	assert.Equal(t, "250m", r.Extra["cpuUsage"])
	assert.True(t, r.Valid())
}

// helmStoragePayload builds Helm's own storage encoding of a release:
// base64(gzip(json)), the value its secrets driver writes.
func helmStoragePayload(t *testing.T) string {
	t.Helper()
	payload := map[string]interface{}{
		"name":    "web",
		"version": 3,
		"info":    map[string]interface{}{"status": "deployed"},
		"chart": map[string]interface{}{
			"metadata": map[string]interface{}{"name": "web", "version": "1.2.3"},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// helmSecretFixture wraps the storage payload the way it arrives off the
// wire: the API server base64-encodes every Secret data value once more.
func helmSecretFixture(t *testing.T) *unstructured.Unstructured {
	t.Helper()
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata": map[string]interface{}{
			"name": "sh.helm.release.v1.web.v3", "namespace": "prod", "uid": "uid-rel",
		},
		"type": "helm.sh/release.v1",
		"data": map[string]interface{}{
			"release": base64.StdEncoding.EncodeToString([]byte(helmStoragePayload(t))),
		},
	}}
}

func TestProjectSecret_DecodesHelmRelease(t *testing.T) {
	r := ProjectSecret(helmSecretFixture(t))

	helm, ok := r.Extra["helmRelease"].(*HelmReleaseSummary)
	require.True(t, ok, "helmRelease field missing or mistyped")
	assert.Equal(t, "web-1.2.3", helm.Chart)
	assert.Equal(t, 3, helm.Version)
	assert.Equal(t, "deployed", helm.Status)
}

// A payload that already lost the Secret-serialization layer (handed over
// by a typed client as decoded bytes) must still parse.
func TestProjectSecret_DecodesSingleLayerHelmPayload(t *testing.T) {
	obj := helmSecretFixture(t)
	require.NoError(t, unstructured.SetNestedField(obj.Object, helmStoragePayload(t), "data", "release"))

	r := ProjectSecret(obj)
	helm, ok := r.Extra["helmRelease"].(*HelmReleaseSummary)
	require.True(t, ok)
	assert.Equal(t, "deployed", helm.Status)
}

func TestProjectSecret_MalformedHelmPayloadDegradesSilently(t *testing.T) {
	obj := helmSecretFixture(t)
	require.NoError(t, unstructured.SetNestedField(obj.Object, "not-base64!!", "data", "release"))

	var r model.StoredResource
	assert.NotPanics(t, func() { r = ProjectSecret(obj) })
	_, present := r.Extra["helmRelease"]
	assert.False(t, present)
	assert.Equal(t, "helm.sh/release.v1", r.Extra["type"])
}

func TestProjectSecret_PlainSecretHasNoHelmField(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata":   map[string]interface{}{"name": "s1", "namespace": "prod", "uid": "uid-s1"},
		"type":       "Opaque",
		"data":       map[string]interface{}{"password": "aGk="},
	}}
	r := ProjectSecret(obj)
	_, present := r.Extra["helmRelease"]
	assert.False(t, present)
	assert.Equal(t, 1, r.Extra["dataKeyCount"])
}

func TestBuildRegistry_RegistersEveryKindAndFreezes(t *testing.T) {
	reg, err := BuildRegistry()
	require.NoError(t, err)
	assert.Equal(t, len(descriptors()), reg.Len())

	// Frozen after build.
	err = reg.Register(descriptors()[0])
	assert.Error(t, err)
}

func TestBuildRegistry_PriorityOrdering(t *testing.T) {
	reg, err := BuildRegistry()
	require.NoError(t, err)

	sorted := reg.IterateSorted()
	require.NotEmpty(t, sorted)
	assert.Equal(t, "CustomResourceDefinitions", sorted[0].Name)
	assert.Equal(t, "Nodes", sorted[1].Name)
	assert.Equal(t, "Events", sorted[len(sorted)-1].Name)

	for i := 1; i < len(sorted); i++ {
		assert.LessOrEqual(t, sorted[i-1].SyncPriority, sorted[i].SyncPriority)
	}
}

// metrics.k8s.io reuses the bare plurals "nodes" and "pods"; lookups by
// plural must resolve to the core kinds, with the metrics descriptors
// reachable by exact GroupVersionResource.
func TestBuildRegistry_SharedPluralsResolve(t *testing.T) {
	reg, err := BuildRegistry()
	require.NoError(t, err)

	core, ok := reg.LookupByPlural("pods")
	require.True(t, ok)
	assert.Equal(t, "Pods", core.Name)

	metrics, ok := reg.LookupByGVR(schema.GroupVersionResource{
		Group: "metrics.k8s.io", Version: "v1beta1", Resource: "pods",
	})
	require.True(t, ok)
	assert.Equal(t, "PodMetrics", metrics.Name)
	assert.False(t, metrics.Watchable)
	assert.Equal(t, model.IdentityName, metrics.IdentityField)
}
