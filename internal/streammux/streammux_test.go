package streammux

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/progress"
)

func testSource() SnapshotSource {
	tracker := progress.New()
	tracker.BeginPass([]string{"Pods", "Nodes"})
	tracker.StartKind("Pods")
	return tracker.Snapshot
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func TestHandler_PushesSnapshotImmediately(t *testing.T) {
	cfg := config.Default()
	cfg.StreamPushInterval = 50 * time.Millisecond

	server := httptest.NewServer(New(cfg, testSource()))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(payload, &snap))
	assert.Equal(t, progress.StatusInProgress, snap.Status)
	assert.Equal(t, 2, snap.TotalResources)
	assert.Contains(t, snap.CurrentResources, "Pods")
}

func TestHandler_KeepsPushingOnInterval(t *testing.T) {
	cfg := config.Default()
	cfg.StreamPushInterval = 20 * time.Millisecond

	server := httptest.NewServer(New(cfg, testSource()))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 3; i++ {
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
	}
}

func TestHandler_RejectsNonGet(t *testing.T) {
	server := httptest.NewServer(New(config.Default(), testSource()))
	defer server.Close()

	resp, err := server.Client().Post(server.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 405, resp.StatusCode)
}

func TestSession_EnqueueDropsStaleSnapshotWhenFull(t *testing.T) {
	s := &session{outgoing: make(chan progress.Snapshot, 1)}

	s.enqueue(progress.Snapshot{SyncedResources: 1})
	s.enqueue(progress.Snapshot{SyncedResources: 2})

	got := <-s.outgoing
	assert.Equal(t, 2, got.SyncedResources)
	assert.Empty(t, s.outgoing)
}
