/*
 * internal/streammux/streammux.go
 *
 * Live progress stream: a websocket endpoint that mirrors the /sync/status
 * snapshot as a push stream, so a dashboard can watch a sync pass progress
 * without polling. Deliberately a read-only projection of one Snapshot
 * source, not a general pub/sub bus.
 */

package streammux

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/progress"
)

// SnapshotSource supplies the current progress snapshot; the Hybrid
// Controller satisfies this via GetSyncProgress.
type SnapshotSource func() progress.Snapshot

// Handler upgrades connections to a websocket and pushes periodic snapshots.
type Handler struct {
	source   SnapshotSource
	cfg      config.Config
	upgrader websocket.Upgrader
}

// New builds a Handler sourcing snapshots from source.
func New(cfg config.Config, source SnapshotSource) *Handler {
	return &Handler{
		source: source,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.StreamReadBufferSize,
			WriteBufferSize:  cfg.StreamWriteBufferSize,
			HandshakeTimeout: cfg.StreamHandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and starts pushing snapshots.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Warningf("streammux: upgrade failed: %v", err)
		return
	}

	s := &session{
		conn:     conn,
		source:   h.source,
		cfg:      h.cfg,
		outgoing: make(chan progress.Snapshot, h.cfg.StreamOutgoingBufferSize),
		done:     make(chan struct{}),
	}
	s.run(r.Context())
}

type session struct {
	conn     *websocket.Conn
	source   SnapshotSource
	cfg      config.Config
	outgoing chan progress.Snapshot
	done     chan struct{}
	once     sync.Once
}

func (s *session) run(ctx context.Context) {
	go s.writeLoop(ctx)
	go s.pushLoop()
	s.readLoop()
	s.shutdown()
}

func (s *session) readLoop() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pushLoop enqueues a fresh snapshot on every push interval; when the
// outgoing buffer is full, enqueue drops the oldest queued snapshot to make
// room (a stale in-progress snapshot is useless once a newer one exists).
func (s *session) pushLoop() {
	interval := s.cfg.StreamPushInterval
	if interval <= 0 {
		interval = config.DefaultStreamPushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.enqueue(s.source())
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.enqueue(s.source())
		}
	}
}

func (s *session) enqueue(snap progress.Snapshot) {
	select {
	case s.outgoing <- snap:
	default:
		// Drop the stale queued snapshot and push the fresh one instead.
		select {
		case <-s.outgoing:
		default:
		}
		select {
		case s.outgoing <- snap:
		default:
		}
	}
}

func (s *session) writeLoop(ctx context.Context) {
	heartbeat := time.NewTicker(s.heartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case snap := <-s.outgoing:
			if err := s.writeJSON(snap); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown()
				return
			}
		}
	}
}

func (s *session) heartbeatInterval() time.Duration {
	if s.cfg.StreamHeartbeatInterval > 0 {
		return s.cfg.StreamHeartbeatInterval
	}
	return config.DefaultStreamHeartbeatInterval
}

func (s *session) writeJSON(v interface{}) error {
	deadline := s.cfg.StreamWriteTimeout
	if deadline <= 0 {
		deadline = config.DefaultStreamWriteTimeout
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		klog.Warningf("streammux: set write deadline: %v", err)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedClose(err) {
			klog.Warningf("streammux: write error: %v", err)
		}
		s.shutdown()
		return err
	}
	return nil
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

func (s *session) shutdown() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
