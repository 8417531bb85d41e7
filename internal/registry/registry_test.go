package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubemirror/syncengine/internal/model"
)

func noopProjector(obj *unstructured.Unstructured) model.StoredResource {
	return model.StoredResource{}
}

func TestRegister_RejectsDuplicatePlural(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Descriptor{Plural: "pods", Kind: "Pod", SyncPriority: 50, Projector: noopProjector}))
	err := r.Register(Descriptor{Plural: "pods", Kind: "Pod", SyncPriority: 51, Projector: noopProjector})
	assert.Error(t, err)
}

func TestRegister_RejectsDuplicateIdentityStoreBinding(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Descriptor{Plural: "nodes", Kind: "Node", StoreBinding: "shared", IdentityField: model.IdentityUID, Projector: noopProjector}))
	err := r.Register(Descriptor{Plural: "other", Kind: "Other", StoreBinding: "shared", IdentityField: model.IdentityUID, Projector: noopProjector})
	assert.Error(t, err)
}

func TestRegister_RejectsAfterBuild(t *testing.T) {
	r := New()
	r.Build()
	err := r.Register(Descriptor{Plural: "pods", Projector: noopProjector})
	assert.Error(t, err)
}

func TestIterateSorted_OrdersByPriorityThenPlural(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Descriptor{Plural: "pods", SyncPriority: 50, Projector: noopProjector}))
	require.NoError(t, r.Register(Descriptor{Plural: "deployments", SyncPriority: 30, Projector: noopProjector}))
	require.NoError(t, r.Register(Descriptor{Plural: "nodes", SyncPriority: 5, Projector: noopProjector}))
	require.NoError(t, r.Register(Descriptor{Plural: "configmaps", SyncPriority: 50, Projector: noopProjector}))
	r.Build()

	sorted := r.IterateSorted()
	require.Len(t, sorted, 4)
	assert.Equal(t, "nodes", sorted[0].Plural)
	assert.Equal(t, "deployments", sorted[1].Plural)
	// pods and configmaps share priority 50; tiebreak is alphabetical plural.
	assert.Equal(t, "configmaps", sorted[2].Plural)
	assert.Equal(t, "pods", sorted[3].Plural)
}

func TestLookupByPlural(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Descriptor{Plural: "pods", Kind: "Pod", Projector: noopProjector}))
	d, ok := r.LookupByPlural("pods")
	require.True(t, ok)
	assert.Equal(t, "Pod", d.Kind)

	_, ok = r.LookupByPlural("missing")
	assert.False(t, ok)
}

func TestDescriptor_Path(t *testing.T) {
	core := Descriptor{APIVersion: "v1", Plural: "pods"}
	assert.Equal(t, "/api/v1/pods", core.Path())

	grouped := Descriptor{APIGroup: "apps", APIVersion: "v1", Plural: "deployments"}
	assert.Equal(t, "/apis/apps/v1/deployments", grouped.Path())
}

func TestRegister_DefaultsIdentityAndTimeoutClass(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Descriptor{Plural: "pods", Projector: noopProjector}))
	d, _ := r.LookupByPlural("pods")
	assert.Equal(t, model.IdentityUID, d.IdentityField)
	assert.Equal(t, model.TimeoutNormal, d.TimeoutClass)
	assert.Equal(t, "pods", d.StoreBinding)
}
