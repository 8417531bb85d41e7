package syncstate

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-process Log implementation used by engine tests.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string]Entry)}
}

func (m *MemoryLog) GetAll(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryLog) getLocked(kind string) Entry {
	e, ok := m.entries[kind]
	if !ok {
		return Entry{Kind: kind, Status: StatusNever}
	}
	return e
}

func (m *MemoryLog) Upsert(_ context.Context, kind string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.getLocked(kind)
	if patch.ResourceVersionCursor != nil {
		e.ResourceVersionCursor = *patch.ResourceVersionCursor
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.LastError != nil {
		e.LastError = *patch.LastError
	}
	if patch.ReconnectCount != nil {
		e.ReconnectCount = *patch.ReconnectCount
	}
	m.entries[kind] = e
	return nil
}

func (m *MemoryLog) MarkInProgress(_ context.Context, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.getLocked(kind)
	e.Status = StatusInProgress
	m.entries[kind] = e
	return nil
}

func (m *MemoryLog) MarkCompleted(_ context.Context, kind string, durationMs int64, count int, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.getLocked(kind)
	e.LastSyncTime = time.Now().UTC()
	e.LastSyncDurationMs = durationMs
	e.LastSyncCount = count
	e.ResourceVersionCursor = cursor
	e.Status = StatusCompleted
	e.LastError = ""
	m.entries[kind] = e
	return nil
}

func (m *MemoryLog) MarkFailed(_ context.Context, kind string, syncErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.getLocked(kind)
	e.LastSyncTime = time.Now().UTC()
	e.Status = StatusFailed
	if syncErr != nil {
		e.LastError = syncErr.Error()
	}
	m.entries[kind] = e
	return nil
}
