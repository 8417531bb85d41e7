/*
 * internal/config/config.go
 *
 * Timing, sizing, and behavior knobs for the hybrid synchronization engine,
 * with environment-variable overlays.
 */

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the hybrid synchronization engine. Values here are the
// fallback when the matching environment variable is absent or invalid.
const (
	// DefaultStartupSyncMode controls the startup decision rule (SYNC_ON_STARTUP).
	DefaultStartupSyncMode = "auto"

	// DefaultAutoSyncOnWatchFailure enables selective resync after a 410 or
	// a reconnect-cap breach (AUTO_SYNC_ON_INFORMER_FAILURE).
	DefaultAutoSyncOnWatchFailure = true

	// DefaultPeriodicSyncInterval is 0 (disabled) unless configured.
	DefaultPeriodicSyncInterval = 0 * time.Hour

	// DefaultDataStaleThreshold is the auto-mode freshness bound.
	DefaultDataStaleThreshold = 86400 * time.Second

	// DefaultFullSyncConcurrency bounds concurrent per-kind full syncs.
	DefaultFullSyncConcurrency = 3

	// DefaultConcurrentSyncEnabled toggles the full-sync worker pool.
	DefaultConcurrentSyncEnabled = true

	// DefaultBulkWriteBatchSize is the chunk size for Store.BulkUpsert.
	DefaultBulkWriteBatchSize = 100

	// DefaultBulkWriteBatchDelay is the inter-chunk pause for bulk writes.
	DefaultBulkWriteBatchDelay = 100 * time.Millisecond

	// DefaultChunkedBulkWriteEnabled toggles chunking; when false every
	// bulk write is a single chunk regardless of DefaultBulkWriteBatchSize.
	DefaultChunkedBulkWriteEnabled = true

	// DefaultRetryMaxAttempts bounds the shared backoff policy's attempts.
	DefaultRetryMaxAttempts = 5

	// DefaultRetryInitialDelay is the first retry delay.
	DefaultRetryInitialDelay = 1 * time.Second

	// DefaultRetryMaxDelay caps backoff growth.
	DefaultRetryMaxDelay = 30 * time.Second

	// DefaultRetryBackoffMultiplier is the exponential growth factor.
	DefaultRetryBackoffMultiplier = 2.0

	// DefaultRequestTimeout bounds normal-class API server calls.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultLargeResourceTimeout bounds extended-class API server calls
	// (list calls expected to return large payloads).
	DefaultLargeResourceTimeout = 120 * time.Second

	// DefaultWatchTimeout is loaded into Config.WatchTimeout; the Watch
	// Engine does not apply it, so a watch connection stays open until the
	// server closes it or an error ends it.
	DefaultWatchTimeout = 60 * time.Second

	// DefaultWatchReconnectEnabled is loaded into
	// Config.WatchReconnectEnabled; the Watch Engine does not read it and
	// always reopens a watch after it ends.
	DefaultWatchReconnectEnabled = true

	// DefaultApplyPipelineConcurrency bounds in-flight Store writes from
	// watch-delivered events (C6).
	DefaultApplyPipelineConcurrency = 10

	// DefaultApplyPipelineBatchPause is the small inter-batch pause that
	// prevents the pipeline from saturating the Store.
	DefaultApplyPipelineBatchPause = 10 * time.Millisecond

	// DefaultApplyPipelineDrainTimeout bounds shutdown draining.
	DefaultApplyPipelineDrainTimeout = 30 * time.Second

	// DefaultMetricsPollInterval is carried in Config.MetricsPollInterval;
	// no component reads it, and the sync-only metrics kinds refresh on the
	// periodic full sync.
	DefaultMetricsPollInterval = 30 * time.Second

	// KubeconfigWatchDebounce matches kubewatch.DebounceInterval, the
	// window the kubeconfig watcher uses to coalesce rapid file events; this
	// constant itself is not referenced. A change is logged; the client is
	// not rebuilt.
	KubeconfigWatchDebounce = 500 * time.Millisecond

	// DefaultStorePoolMaxConns bounds the document store's connection pool.
	DefaultStorePoolMaxConns = 10

	// DefaultStoreConnMaxLifetime recycles pooled document store connections.
	DefaultStoreConnMaxLifetime = 30 * time.Minute

	// DefaultPageSize is the List page size used when a caller requests no
	// explicit limit.
	DefaultPageSize = 100

	// DefaultListenAddr is the admin/status HTTP surface's bind address.
	DefaultListenAddr = ":8080"

	// DefaultStreamPushInterval is how often the live progress websocket
	// pushes a fresh snapshot to connected clients.
	DefaultStreamPushInterval = 1 * time.Second

	// DefaultStreamHeartbeatInterval keeps idle websocket connections (and
	// any intermediate proxies) alive between snapshot pushes.
	DefaultStreamHeartbeatInterval = 30 * time.Second

	// DefaultStreamHandshakeTimeout bounds the websocket upgrade handshake.
	DefaultStreamHandshakeTimeout = 10 * time.Second

	// DefaultStreamWriteTimeout bounds a single websocket write.
	DefaultStreamWriteTimeout = 5 * time.Second

	// DefaultStreamReadBufferSize/DefaultStreamWriteBufferSize size the
	// websocket upgrader's buffers.
	DefaultStreamReadBufferSize  = 4096
	DefaultStreamWriteBufferSize = 4096

	// DefaultStreamOutgoingBufferSize bounds how many undelivered snapshots
	// queue per connection before the oldest is dropped.
	DefaultStreamOutgoingBufferSize = 8
)

// Config is the resolved runtime configuration for the hybrid controller and
// the engines it drives.
type Config struct {
	StartupSyncMode        string
	AutoSyncOnWatchFailure bool
	PeriodicSyncInterval   time.Duration
	DataStaleThreshold     time.Duration

	FullSyncConcurrency    int
	ConcurrentSyncEnabled  bool
	BulkWriteBatchSize     int
	BulkWriteBatchDelay    time.Duration
	ChunkedBulkWriteEnabled bool

	RetryMaxAttempts       int
	RetryInitialDelay      time.Duration
	RetryMaxDelay          time.Duration
	RetryBackoffMultiplier float64

	RequestTimeout       time.Duration
	LargeResourceTimeout time.Duration
	WatchTimeout         time.Duration
	WatchReconnectEnabled bool

	ApplyPipelineConcurrency  int
	ApplyPipelineBatchPause   time.Duration
	ApplyPipelineDrainTimeout time.Duration

	MetricsPollInterval time.Duration

	StorePoolMaxConns     int
	StoreConnMaxLifetime  time.Duration
	DefaultPageSize       int

	ListenAddr               string
	StreamPushInterval       time.Duration
	StreamHeartbeatInterval  time.Duration
	StreamHandshakeTimeout   time.Duration
	StreamWriteTimeout       time.Duration
	StreamReadBufferSize     int
	StreamWriteBufferSize    int
	StreamOutgoingBufferSize int
}

// Default returns the hardcoded defaults with no environment overlay.
func Default() Config {
	return Config{
		StartupSyncMode:         DefaultStartupSyncMode,
		AutoSyncOnWatchFailure:  DefaultAutoSyncOnWatchFailure,
		PeriodicSyncInterval:    DefaultPeriodicSyncInterval,
		DataStaleThreshold:      DefaultDataStaleThreshold,
		FullSyncConcurrency:     DefaultFullSyncConcurrency,
		ConcurrentSyncEnabled:   DefaultConcurrentSyncEnabled,
		BulkWriteBatchSize:      DefaultBulkWriteBatchSize,
		BulkWriteBatchDelay:     DefaultBulkWriteBatchDelay,
		ChunkedBulkWriteEnabled: DefaultChunkedBulkWriteEnabled,
		RetryMaxAttempts:        DefaultRetryMaxAttempts,
		RetryInitialDelay:       DefaultRetryInitialDelay,
		RetryMaxDelay:           DefaultRetryMaxDelay,
		RetryBackoffMultiplier:  DefaultRetryBackoffMultiplier,
		RequestTimeout:          DefaultRequestTimeout,
		LargeResourceTimeout:    DefaultLargeResourceTimeout,
		WatchTimeout:            DefaultWatchTimeout,
		WatchReconnectEnabled:   DefaultWatchReconnectEnabled,
		ApplyPipelineConcurrency:  DefaultApplyPipelineConcurrency,
		ApplyPipelineBatchPause:   DefaultApplyPipelineBatchPause,
		ApplyPipelineDrainTimeout: DefaultApplyPipelineDrainTimeout,
		MetricsPollInterval:       DefaultMetricsPollInterval,
		StorePoolMaxConns:         DefaultStorePoolMaxConns,
		StoreConnMaxLifetime:      DefaultStoreConnMaxLifetime,
		DefaultPageSize:           DefaultPageSize,
		ListenAddr:                DefaultListenAddr,
		StreamPushInterval:        DefaultStreamPushInterval,
		StreamHeartbeatInterval:   DefaultStreamHeartbeatInterval,
		StreamHandshakeTimeout:    DefaultStreamHandshakeTimeout,
		StreamWriteTimeout:        DefaultStreamWriteTimeout,
		StreamReadBufferSize:      DefaultStreamReadBufferSize,
		StreamWriteBufferSize:     DefaultStreamWriteBufferSize,
		StreamOutgoingBufferSize:  DefaultStreamOutgoingBufferSize,
	}
}

// Load overlays recognized environment variables onto Default().
func Load() Config {
	cfg := Default()

	if v, ok := lookupEnv("SYNC_ON_STARTUP"); ok {
		cfg.StartupSyncMode = strings.ToLower(v)
	}
	if v, ok := lookupBool("AUTO_SYNC_ON_INFORMER_FAILURE"); ok {
		cfg.AutoSyncOnWatchFailure = v
	}
	if v, ok := lookupDurationHours("PERIODIC_SYNC_INTERVAL_HOURS"); ok {
		cfg.PeriodicSyncInterval = v
	}
	if v, ok := lookupDurationSeconds("DATA_STALE_THRESHOLD_SECONDS"); ok {
		cfg.DataStaleThreshold = v
	}
	if v, ok := lookupInt("SYNC_MAX_CONCURRENT_RESOURCES"); ok {
		cfg.FullSyncConcurrency = v
	}
	if v, ok := lookupBool("ENABLE_CONCURRENT_SYNC"); ok {
		cfg.ConcurrentSyncEnabled = v
	}
	if v, ok := lookupInt("BULK_WRITE_BATCH_SIZE"); ok {
		cfg.BulkWriteBatchSize = v
	}
	if v, ok := lookupDurationMillis("BULK_WRITE_BATCH_DELAY_MS"); ok {
		cfg.BulkWriteBatchDelay = v
	}
	if v, ok := lookupBool("ENABLE_CHUNKED_BULK_WRITE"); ok {
		cfg.ChunkedBulkWriteEnabled = v
	}
	if v, ok := lookupInt("RETRY_MAX_ATTEMPTS"); ok {
		cfg.RetryMaxAttempts = v
	}
	if v, ok := lookupDurationMillis("RETRY_INITIAL_DELAY_MS"); ok {
		cfg.RetryInitialDelay = v
	}
	if v, ok := lookupDurationMillis("RETRY_MAX_DELAY_MS"); ok {
		cfg.RetryMaxDelay = v
	}
	if v, ok := lookupFloat("RETRY_BACKOFF_MULTIPLIER"); ok {
		cfg.RetryBackoffMultiplier = v
	}
	if v, ok := lookupDurationMillis("K8S_REQUEST_TIMEOUT_MS"); ok {
		cfg.RequestTimeout = v
	}
	if v, ok := lookupDurationMillis("K8S_LARGE_RESOURCE_TIMEOUT_MS"); ok {
		cfg.LargeResourceTimeout = v
	}
	if v, ok := lookupDurationMillis("K8S_WATCH_TIMEOUT_MS"); ok {
		cfg.WatchTimeout = v
	}
	if v, ok := lookupBool("ENABLE_K8S_WATCH_RECONNECT"); ok {
		cfg.WatchReconnectEnabled = v
	}
	if v, ok := lookupInt("STORE_POOL_MAX_CONNS"); ok {
		cfg.StorePoolMaxConns = v
	}
	if v, ok := lookupDurationHours("STORE_CONN_MAX_LIFETIME_HOURS"); ok {
		cfg.StoreConnMaxLifetime = v
	}
	if v, ok := lookupInt("DEFAULT_PAGE_SIZE"); ok {
		cfg.DefaultPageSize = v
	}
	if v, ok := lookupEnv("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := lookupDurationMillis("STREAM_PUSH_INTERVAL_MS"); ok {
		cfg.StreamPushInterval = v
	}

	return cfg
}

func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", false
	}
	return v, true
}

func lookupBool(key string) (bool, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return false, false
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return parsed, true
}

func lookupInt(key string) (int, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func lookupFloat(key string) (float64, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func lookupDurationSeconds(key string) (time.Duration, bool) {
	v, ok := lookupInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(v) * time.Second, true
}

func lookupDurationMillis(key string) (time.Duration, bool) {
	v, ok := lookupInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(v) * time.Millisecond, true
}

func lookupDurationHours(key string) (time.Duration, bool) {
	v, ok := lookupInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(v) * time.Hour, true
}
