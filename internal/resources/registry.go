/*
 * internal/resources/registry.go
 *
 * Builds the frozen resource registry: one Register call per supported
 * kind, binding its GroupVersionResource, scope, identity field, sync
 * priority, timeout class, and projector. This is the single place a new
 * kind is added — every engine in this repository is generic over
 * internal/registry.Registry and needs no code change.
 */

package resources

import (
	"fmt"

	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/kubemirror/syncengine/internal/model"
	"github.com/kubemirror/syncengine/internal/registry"
)

// BuildRegistry registers every supported kind and freezes the registry.
func BuildRegistry() (*registry.Registry, error) {
	reg := registry.New()
	for _, d := range descriptors() {
		if err := reg.Register(d); err != nil {
			return nil, fmt.Errorf("resources: %w", err)
		}
	}
	reg.Build()
	return reg, nil
}

func descriptors() []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name: "CustomResourceDefinitions", Kind: "CustomResourceDefinition",
			APIGroup: "apiextensions.k8s.io", APIVersion: "v1", Plural: "customresourcedefinitions",
			Namespaced: false, SyncPriority: 0, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectCustomResourceDefinition,
		},
		{
			Name: "Nodes", Kind: "Node", APIGroup: "", APIVersion: "v1", Plural: "nodes",
			Namespaced: false, SyncPriority: 5, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectNode,
		},
		{
			Name: "Namespaces", Kind: "Namespace", APIGroup: "", APIVersion: "v1", Plural: "namespaces",
			Namespaced: false, SyncPriority: 10, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectNamespace,
		},
		{
			Name: "StorageClasses", Kind: "StorageClass", APIGroup: "storage.k8s.io", APIVersion: "v1", Plural: "storageclasses",
			Namespaced: false, SyncPriority: 15, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectStorageClass,
		},
		{
			Name: "IngressClasses", Kind: "IngressClass", APIGroup: "networking.k8s.io", APIVersion: "v1", Plural: "ingressclasses",
			Namespaced: false, SyncPriority: 15, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectIngressClass,
		},
		{
			Name: "ClusterRoles", Kind: "ClusterRole", APIGroup: "rbac.authorization.k8s.io", APIVersion: "v1", Plural: "clusterroles",
			Namespaced: false, SyncPriority: 20, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectClusterRole,
		},
		{
			Name: "ClusterRoleBindings", Kind: "ClusterRoleBinding", APIGroup: "rbac.authorization.k8s.io", APIVersion: "v1", Plural: "clusterrolebindings",
			Namespaced: false, SyncPriority: 20, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectClusterRoleBinding,
		},
		{
			Name: "Roles", Kind: "Role", APIGroup: "rbac.authorization.k8s.io", APIVersion: "v1", Plural: "roles",
			Namespaced: true, SyncPriority: 25, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectRole,
		},
		{
			Name: "RoleBindings", Kind: "RoleBinding", APIGroup: "rbac.authorization.k8s.io", APIVersion: "v1", Plural: "rolebindings",
			Namespaced: true, SyncPriority: 25, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectRoleBinding,
		},
		{
			Name: "PersistentVolumes", Kind: "PersistentVolume", APIGroup: "", APIVersion: "v1", Plural: "persistentvolumes",
			Namespaced: false, SyncPriority: 30, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectPersistentVolume,
		},
		{
			Name: "Deployments", Kind: "Deployment", APIGroup: "apps", APIVersion: "v1", Plural: "deployments",
			Namespaced: true, SyncPriority: 35, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectDeployment,
		},
		{
			Name: "StatefulSets", Kind: "StatefulSet", APIGroup: "apps", APIVersion: "v1", Plural: "statefulsets",
			Namespaced: true, SyncPriority: 35, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectStatefulSet,
		},
		{
			Name: "DaemonSets", Kind: "DaemonSet", APIGroup: "apps", APIVersion: "v1", Plural: "daemonsets",
			Namespaced: true, SyncPriority: 35, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectDaemonSet,
		},
		{
			Name: "ReplicaSets", Kind: "ReplicaSet", APIGroup: "apps", APIVersion: "v1", Plural: "replicasets",
			Namespaced: true, SyncPriority: 36, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectReplicaSet,
		},
		{
			Name: "Jobs", Kind: "Job", APIGroup: "batch", APIVersion: "v1", Plural: "jobs",
			Namespaced: true, SyncPriority: 38, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectJob,
		},
		{
			Name: "CronJobs", Kind: "CronJob", APIGroup: "batch", APIVersion: "v1", Plural: "cronjobs",
			Namespaced: true, SyncPriority: 38, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectCronJob,
		},
		{
			Name: "Services", Kind: "Service", APIGroup: "", APIVersion: "v1", Plural: "services",
			Namespaced: true, SyncPriority: 40, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectService,
		},
		{
			Name: "Gateways", Kind: "Gateway", APIGroup: gatewayv1.GroupName, APIVersion: gatewayv1.GroupVersion.Version, Plural: "gateways",
			Namespaced: true, SyncPriority: 40, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectGateway,
		},
		{
			Name: "HTTPRoutes", Kind: "HTTPRoute", APIGroup: gatewayv1.GroupName, APIVersion: gatewayv1.GroupVersion.Version, Plural: "httproutes",
			Namespaced: true, SyncPriority: 40, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectHTTPRoute,
		},
		{
			Name: "Ingresses", Kind: "Ingress", APIGroup: "networking.k8s.io", APIVersion: "v1", Plural: "ingresses",
			Namespaced: true, SyncPriority: 42, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectIngress,
		},
		{
			Name: "NetworkPolicies", Kind: "NetworkPolicy", APIGroup: "networking.k8s.io", APIVersion: "v1", Plural: "networkpolicies",
			Namespaced: true, SyncPriority: 42, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectNetworkPolicy,
		},
		{
			Name: "PersistentVolumeClaims", Kind: "PersistentVolumeClaim", APIGroup: "", APIVersion: "v1", Plural: "persistentvolumeclaims",
			Namespaced: true, SyncPriority: 45, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectPersistentVolumeClaim,
		},
		{
			Name: "HorizontalPodAutoscalers", Kind: "HorizontalPodAutoscaler", APIGroup: "autoscaling", APIVersion: "v1", Plural: "horizontalpodautoscalers",
			Namespaced: true, SyncPriority: 45, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectHorizontalPodAutoscaler,
		},
		{
			Name: "PodDisruptionBudgets", Kind: "PodDisruptionBudget", APIGroup: "policy", APIVersion: "v1", Plural: "poddisruptionbudgets",
			Namespaced: true, SyncPriority: 45, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectPodDisruptionBudget,
		},
		{
			Name: "ServiceAccounts", Kind: "ServiceAccount", APIGroup: "", APIVersion: "v1", Plural: "serviceaccounts",
			Namespaced: true, SyncPriority: 48, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectServiceAccount,
		},
		{
			Name: "Pods", Kind: "Pod", APIGroup: "", APIVersion: "v1", Plural: "pods",
			Namespaced: true, SyncPriority: 50, TimeoutClass: model.TimeoutExtended,
			Watchable: true, Projector: ProjectPod,
		},
		{
			Name: "ValidatingWebhookConfigurations", Kind: "ValidatingWebhookConfiguration", APIGroup: "admissionregistration.k8s.io", APIVersion: "v1", Plural: "validatingwebhookconfigurations",
			Namespaced: false, SyncPriority: 60, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectValidatingWebhookConfiguration,
		},
		{
			Name: "MutatingWebhookConfigurations", Kind: "MutatingWebhookConfiguration", APIGroup: "admissionregistration.k8s.io", APIVersion: "v1", Plural: "mutatingwebhookconfigurations",
			Namespaced: false, SyncPriority: 60, TimeoutClass: model.TimeoutNormal,
			Watchable: true, Projector: ProjectMutatingWebhookConfiguration,
		},
		{
			Name: "NodeMetrics", Kind: "NodeMetrics", APIGroup: "metrics.k8s.io", APIVersion: "v1beta1", Plural: "nodes",
			Namespaced: false, IdentityField: model.IdentityName, StoreBinding: "nodemetrics",
			SyncPriority: 80, TimeoutClass: model.TimeoutNormal,
			Watchable: false, Projector: ProjectNodeMetrics,
		},
		{
			Name: "PodMetrics", Kind: "PodMetrics", APIGroup: "metrics.k8s.io", APIVersion: "v1beta1", Plural: "pods",
			Namespaced: true, IdentityField: model.IdentityName, StoreBinding: "podmetrics",
			SyncPriority: 80, TimeoutClass: model.TimeoutNormal,
			Watchable: false, Projector: ProjectPodMetrics,
		},
		{
			Name: "ConfigMaps", Kind: "ConfigMap", APIGroup: "", APIVersion: "v1", Plural: "configmaps",
			Namespaced: true, SyncPriority: 90, TimeoutClass: model.TimeoutExtended,
			Watchable: true, Projector: ProjectConfigMap,
		},
		{
			Name: "Secrets", Kind: "Secret", APIGroup: "", APIVersion: "v1", Plural: "secrets",
			Namespaced: true, SyncPriority: 90, TimeoutClass: model.TimeoutExtended,
			Watchable: true, Projector: ProjectSecret,
		},
		{
			Name: "Events", Kind: "Event", APIGroup: "", APIVersion: "v1", Plural: "events",
			Namespaced: true, SyncPriority: 95, TimeoutClass: model.TimeoutExtended,
			Watchable: true, Projector: ProjectEvent,
		},
	}
}
