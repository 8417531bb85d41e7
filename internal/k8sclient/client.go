/*
 * internal/k8sclient/client.go
 *
 * Kubernetes client construction: loads a kubeconfig (or falls back to
 * in-cluster config), builds the typed, dynamic, apiextensions, and metrics
 * clients every engine shares. A single active cluster per process; there
 * is no multi-cluster bookkeeping.
 */

package k8sclient

import (
	"context"
	"fmt"

	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Clients bundles every Kubernetes API client the engines need.
type Clients struct {
	RestConfig *rest.Config
	Kube       kubernetes.Interface
	Dynamic    dynamic.Interface
	APIExt     apiextensionsclientset.Interface
	Metrics    metricsclient.Interface
}

// Options selects which kubeconfig and context to build clients from. An
// empty KubeconfigPath falls back to in-cluster config, then to the
// default loading rules (KUBECONFIG env, ~/.kube/config).
type Options struct {
	KubeconfigPath string
	Context        string
	QPS            float32
	Burst          int
}

// Build loads a REST config per Options and constructs every client. A
// missing/invalid kubeconfig is a configuration-fatal error: the caller
// aborts startup rather than retrying.
func Build(opts Options) (*Clients, error) {
	config, err := restConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build rest config: %w", err)
	}
	if opts.QPS > 0 {
		config.QPS = opts.QPS
	}
	if opts.Burst > 0 {
		config.Burst = opts.Burst
	}

	kube, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build typed client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build dynamic client: %w", err)
	}
	apiext, err := apiextensionsclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build apiextensions client: %w", err)
	}
	// The metrics API server is an optional aggregated API; its absence is
	// not configuration-fatal, only NodeMetrics/PodMetrics sync attempts
	// will fail and report per-kind.
	metrics, err := metricsclient.NewForConfig(config)
	if err != nil {
		metrics = nil
	}

	return &Clients{
		RestConfig: config,
		Kube:       kube,
		Dynamic:    dyn,
		APIExt:     apiext,
		Metrics:    metrics,
	}, nil
}

func restConfig(opts Options) (*rest.Config, error) {
	if opts.KubeconfigPath == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.KubeconfigPath != "" {
		loadingRules.ExplicitPath = opts.KubeconfigPath
	}
	overrides := &clientcmd.ConfigOverrides{}
	if opts.Context != "" {
		overrides.CurrentContext = opts.Context
	}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)
	return clientConfig.ClientConfig()
}

// Ping verifies the client can reach the API server, used as the startup
// pre-flight check before the Hybrid Controller drives sync/watch.
func (c *Clients) Ping(ctx context.Context) error {
	_, err := c.Kube.Discovery().RESTClient().Get().AbsPath("/version").DoRaw(ctx)
	return err
}
