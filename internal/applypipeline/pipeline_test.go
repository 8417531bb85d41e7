package applypipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/model"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ApplyPipelineConcurrency = 4
	cfg.ApplyPipelineBatchPause = 0
	return cfg
}

func TestPipeline_PreservesPerUIDOrder(t *testing.T) {
	var mu sync.Mutex
	var seenU, seenV []model.EventPhase

	apply := func(_ context.Context, ev model.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if ev.ResourceVersion == "U" {
			seenU = append(seenU, ev.Phase)
		} else {
			seenV = append(seenV, ev.Phase)
		}
		return nil
	}

	p := New(testConfig(), apply)
	p.Start(context.Background())

	events := []struct {
		uid   string
		phase model.EventPhase
	}{
		{"U", model.EventAdded}, {"V", model.EventAdded}, {"U", model.EventModified},
		{"V", model.EventModified}, {"U", model.EventDeleted}, {"V", model.EventDeleted},
	}
	for _, e := range events {
		ev := model.Event{Kind: "Pod", Phase: e.phase, ResourceVersion: e.uid}
		require.NoError(t, p.Enqueue(context.Background(), ev, e.uid))
	}

	p.Shutdown(2 * time.Second)

	assert.Equal(t, []model.EventPhase{model.EventAdded, model.EventModified, model.EventDeleted}, seenU)
	assert.Equal(t, []model.EventPhase{model.EventAdded, model.EventModified, model.EventDeleted}, seenV)
}

func TestPipeline_EnqueueAfterShutdownFails(t *testing.T) {
	p := New(testConfig(), func(context.Context, model.Event) error { return nil })
	p.Start(context.Background())
	p.Shutdown(time.Second)

	err := p.Enqueue(context.Background(), model.Event{Kind: "Pod"}, "u1")
	assert.Error(t, err)
}

func TestPipeline_DrainsAllQueuedEventsWithinTimeout(t *testing.T) {
	var mu sync.Mutex
	processed := 0
	apply := func(_ context.Context, ev model.Event) error {
		mu.Lock()
		processed++
		mu.Unlock()
		return nil
	}

	p := New(testConfig(), apply)
	p.Start(context.Background())
	for i := 0; i < 200; i++ {
		require.NoError(t, p.Enqueue(context.Background(), model.Event{Kind: "Pod"}, "u"))
	}
	p.Shutdown(5 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 200, processed)
}

func TestLaneFor_IsStablePerIdentity(t *testing.T) {
	a := laneFor("abc", 8)
	b := laneFor("abc", 8)
	assert.Equal(t, a, b)
}

func TestPipeline_ShutdownIsIdempotent(t *testing.T) {
	p := New(testConfig(), func(context.Context, model.Event) error { return nil })
	p.Start(context.Background())
	p.Shutdown(time.Second)
	assert.NotPanics(t, func() { p.Shutdown(time.Second) })
}
