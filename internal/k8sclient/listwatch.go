/*
 * internal/k8sclient/listwatch.go
 *
 * Generic paginated LIST and resumable WATCH, parameterized entirely by a
 * registry descriptor's GroupVersionResource and namespaced flag. Most
 * kinds go through the dynamic client; metrics.k8s.io and
 * apiextensions.k8s.io route through their dedicated typed clientsets,
 * with the result converted back to unstructured so every engine stays
 * generic over the registry.
 */

package k8sclient

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
)

// Lister is the subset of Clients the Full Sync Engine depends on. Declaring
// it here lets fullsync.Engine accept any implementation (a fake in tests,
// *Clients in production) rather than the concrete client bundle.
type Lister interface {
	ListPage(ctx context.Context, gvr schema.GroupVersionResource, namespaced bool, pageSize int64, onPage func([]unstructured.Unstructured) error) (string, error)
}

// Watcher is the subset of Clients the Watch Engine depends on.
type Watcher interface {
	Watch(ctx context.Context, gvr schema.GroupVersionResource, namespaced bool, cursor string) (watch.Interface, error)
}

// resourceInterface returns the dynamic interface to address gvr, scoped
// across all namespaces when namespaced is true (an empty namespace on the
// dynamic client's NamespaceableResourceInterface lists/watches
// cluster-wide).
func (c *Clients) resourceInterface(gvr schema.GroupVersionResource, namespaced bool) dynamicResourceInterface {
	r := c.Dynamic.Resource(gvr)
	if namespaced {
		return r.Namespace(metav1.NamespaceAll)
	}
	return r
}

// dynamicResourceInterface is the subset of dynamic.ResourceInterface this
// package exercises; declared locally so tests can supply a fake without
// importing the full client-go dynamic fake machinery.
type dynamicResourceInterface interface {
	List(ctx context.Context, opts metav1.ListOptions) (*unstructured.UnstructuredList, error)
	Watch(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)
}

// ListPage issues one paginated LIST call, following the continuation token
// until exhausted, invoking onPage for each returned page so callers (the
// Full Sync Engine) can stream items into the bulk-write path rather than
// buffering the entire kind in memory. Returns the highest resourceVersion
// observed across the whole list, the list metadata's resourceVersion being
// the authoritative watch-resume cursor per the Kubernetes list semantics.
func (c *Clients) ListPage(ctx context.Context, gvr schema.GroupVersionResource, namespaced bool, pageSize int64, onPage func([]unstructured.Unstructured) error) (resourceVersion string, err error) {
	switch {
	case gvr.Group == "metrics.k8s.io":
		return c.listMetricsPage(ctx, gvr, onPage)
	case gvr.Group == "apiextensions.k8s.io" && gvr.Resource == "customresourcedefinitions":
		return c.listCRDPage(ctx, pageSize, onPage)
	}

	ri := c.resourceInterface(gvr, namespaced)
	opts := metav1.ListOptions{Limit: pageSize}

	for {
		list, err := ri.List(ctx, opts)
		if err != nil {
			return resourceVersion, err
		}
		if rv := list.GetResourceVersion(); rv != "" {
			resourceVersion = rv
		}
		if len(list.Items) > 0 {
			if err := onPage(list.Items); err != nil {
				return resourceVersion, err
			}
		}
		cont := list.GetContinue()
		if cont == "" {
			return resourceVersion, nil
		}
		opts.Continue = cont
	}
}

// listMetricsPage lists NodeMetrics/PodMetrics through the metrics
// clientset (metrics.k8s.io is an aggregated API the dynamic client has no
// discovery edge over, and it supports neither watch nor continuation, so
// a single typed list is the whole page set). Each typed item is converted
// back to unstructured, with TypeMeta restored (typed list items carry
// none), so projectors see the same shape every other kind delivers.
func (c *Clients) listMetricsPage(ctx context.Context, gvr schema.GroupVersionResource, onPage func([]unstructured.Unstructured) error) (string, error) {
	if c.Metrics == nil {
		return "", fmt.Errorf("k8sclient: metrics API server unavailable")
	}

	var items []unstructured.Unstructured
	var rv string
	switch gvr.Resource {
	case "nodes":
		list, err := c.Metrics.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{})
		if err != nil {
			return "", err
		}
		rv = list.GetResourceVersion()
		for i := range list.Items {
			list.Items[i].TypeMeta = metav1.TypeMeta{APIVersion: "metrics.k8s.io/v1beta1", Kind: "NodeMetrics"}
			obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&list.Items[i])
			if err != nil {
				return rv, err
			}
			items = append(items, unstructured.Unstructured{Object: obj})
		}
	case "pods":
		list, err := c.Metrics.MetricsV1beta1().PodMetricses(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
		if err != nil {
			return "", err
		}
		rv = list.GetResourceVersion()
		for i := range list.Items {
			list.Items[i].TypeMeta = metav1.TypeMeta{APIVersion: "metrics.k8s.io/v1beta1", Kind: "PodMetrics"}
			obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&list.Items[i])
			if err != nil {
				return rv, err
			}
			items = append(items, unstructured.Unstructured{Object: obj})
		}
	default:
		return "", fmt.Errorf("k8sclient: unsupported metrics resource %q", gvr.Resource)
	}

	if len(items) == 0 {
		return rv, nil
	}
	return rv, onPage(items)
}

// listCRDPage lists CustomResourceDefinitions through the apiextensions
// clientset, following the continuation token like the dynamic path does.
func (c *Clients) listCRDPage(ctx context.Context, pageSize int64, onPage func([]unstructured.Unstructured) error) (string, error) {
	opts := metav1.ListOptions{Limit: pageSize}
	var rv string
	for {
		list, err := c.APIExt.ApiextensionsV1().CustomResourceDefinitions().List(ctx, opts)
		if err != nil {
			return rv, err
		}
		if v := list.GetResourceVersion(); v != "" {
			rv = v
		}
		items := make([]unstructured.Unstructured, 0, len(list.Items))
		for i := range list.Items {
			list.Items[i].TypeMeta = metav1.TypeMeta{APIVersion: "apiextensions.k8s.io/v1", Kind: "CustomResourceDefinition"}
			obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&list.Items[i])
			if err != nil {
				return rv, err
			}
			items = append(items, unstructured.Unstructured{Object: obj})
		}
		if len(items) > 0 {
			if err := onPage(items); err != nil {
				return rv, err
			}
		}
		if list.GetContinue() == "" {
			return rv, nil
		}
		opts.Continue = list.GetContinue()
	}
}

// Watch opens a resumable watch stream for gvr. When cursor is non-empty
// the stream resumes from that resourceVersion; otherwise it opens from the
// current state.
func (c *Clients) Watch(ctx context.Context, gvr schema.GroupVersionResource, namespaced bool, cursor string) (watch.Interface, error) {
	ri := c.resourceInterface(gvr, namespaced)
	opts := metav1.ListOptions{Watch: true}
	if cursor != "" {
		opts.ResourceVersion = cursor
	}
	return ri.Watch(ctx, opts)
}
