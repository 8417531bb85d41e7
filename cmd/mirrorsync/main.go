/*
 * cmd/mirrorsync/main.go
 *
 * Process entrypoint: wires the resource registry, store, sync state log,
 * Kubernetes clients, full sync/watch engines, event apply pipeline, and
 * hybrid controller together, starts the admin/status HTTP surface, and
 * drives the startup/shutdown sequences.
 *
 * Signal handler registration is idempotent: any previously installed
 * handler is released before a new one is installed, so re-entering run()
 * in the same process never stacks handlers.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/applypipeline"
	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/controller"
	"github.com/kubemirror/syncengine/internal/fullsync"
	"github.com/kubemirror/syncengine/internal/httpapi"
	"github.com/kubemirror/syncengine/internal/k8sclient"
	"github.com/kubemirror/syncengine/internal/kubewatch"
	"github.com/kubemirror/syncengine/internal/registry"
	"github.com/kubemirror/syncengine/internal/resources"
	"github.com/kubemirror/syncengine/internal/store"
	"github.com/kubemirror/syncengine/internal/syncstate"
	"github.com/kubemirror/syncengine/internal/watchengine"
)

var (
	kubeconfigFlag = flag.String("kubeconfig", "", "path to kubeconfig (empty: in-cluster, then default loading rules)")
	contextFlag    = flag.String("context", "", "kubeconfig context to use")
	postgresDSN    = flag.String("store-dsn", os.Getenv("STORE_DSN"), "Postgres DSN for the document store")
	syncStatePath  = flag.String("sync-state-path", envOr("SYNC_STATE_PATH", "./mirrorsync-syncstate.db"), "SQLite file backing the Sync State Log")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if err := run(); err != nil {
		klog.Fatalf("mirrorsync: %v", err)
	}
}

// signalGuard ensures signal handler registration is idempotent even if
// run() is somehow re-entered within the same process (hot-reload
// environments may re-import/re-initialize).
var signalGuard struct {
	mu         sync.Mutex
	registered bool
	stop       context.CancelFunc
}

func installSignalHandler(parent context.Context) context.Context {
	signalGuard.mu.Lock()
	defer signalGuard.mu.Unlock()

	if signalGuard.registered && signalGuard.stop != nil {
		signalGuard.stop()
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	signalGuard.registered = true
	signalGuard.stop = stop
	return ctx
}

func run() error {
	cfg := config.Load()

	ctx := installSignalHandler(context.Background())
	// Shutdown must be able to unwind the watch goroutines even when the
	// trigger is an HTTP server error rather than a signal, so everything
	// below runs under a cancel the error path can fire itself.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg, err := resources.BuildRegistry()
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	klog.Infof("mirrorsync: registered %d kinds", reg.Len())

	clients, err := k8sclient.Build(k8sclient.Options{KubeconfigPath: *kubeconfigFlag, Context: *contextFlag})
	if err != nil {
		// Configuration-fatal: abort startup rather than retry.
		return fmt.Errorf("build kubernetes clients: %w", err)
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.RequestTimeout)
	err = clients.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return fmt.Errorf("reach api server: %w", err)
	}

	documentStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build document store: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	syncStateLog, err := syncstate.Open(ctx, *syncStatePath)
	if err != nil {
		return fmt.Errorf("open sync state log: %w", err)
	}
	defer syncStateLog.Close()

	fullSyncEngine := fullsync.New(reg, clients, documentStore, syncStateLog, cfg)

	applier := controller.ApplierFor(reg, documentStore)
	pipeline := applypipeline.New(cfg, applier)

	resync := func(resyncCtx context.Context, d registry.Descriptor) (string, error) {
		result := fullSyncEngine.SyncOne(resyncCtx, d, fullsync.Callbacks{})
		if !result.Success {
			return "", result.Err
		}
		entries, err := syncStateLog.GetAll(resyncCtx)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			if e.Kind == d.Name {
				return e.ResourceVersionCursor, nil
			}
		}
		return "", nil
	}
	watchEngine := watchengine.New(clients, pipeline, syncStateLog, resync, cfg)

	ctl := controller.New(reg, documentStore, syncStateLog, fullSyncEngine, watchEngine, pipeline, cfg)

	watcher, err := kubewatch.New(kubeconfigPaths(*kubeconfigFlag), func(paths []string) {
		klog.Infof("mirrorsync: kubeconfig changed (%v); rebuilding client on next restart cycle is operator-triggered", paths)
	})
	if err != nil {
		klog.Warningf("mirrorsync: kubeconfig watch disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	if err := ctl.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	klog.Infof("mirrorsync: ready=%v", ctl.IsReady())

	server := httpapi.New(ctl, cfg)
	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
		klog.Infof("mirrorsync: shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			klog.Errorf("mirrorsync: http server: %v", err)
		}
	}

	// Cancel before Shutdown: Shutdown waits for the watch goroutines,
	// which only unwind once this context is done.
	cancel()
	ctl.Shutdown()
	return nil
}

// buildStore opens the document store. A non-empty -store-dsn/STORE_DSN
// connects to Postgres (the production driver); otherwise an in-process
// MemoryStore is used, so the binary runs out of the box for demos and
// local development without a database.
func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if *postgresDSN == "" {
		klog.Warningf("mirrorsync: STORE_DSN not set, using in-memory document store (not for production use)")
		return store.NewMemoryStore(cfg), nil, nil
	}
	pg, err := store.OpenPostgresStore(ctx, *postgresDSN, cfg)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func kubeconfigPaths(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	if kc := os.Getenv("KUBECONFIG"); kc != "" {
		return []string{kc}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return []string{home + "/.kube/config"}
	}
	return nil
}
