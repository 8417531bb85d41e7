/*
 * internal/store/memory.go
 *
 * In-process Store implementation. Used by engine tests and by the admin
 * surface's demo mode; production deployments use the Postgres driver.
 */

package store

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/kubemirror/syncengine/internal/backoffpolicy"
	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/model"
)

// MemoryStore is a goroutine-safe, in-memory Store keyed by
// (kind, identity value).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]model.StoredResource

	chunked ChunkedWriter
}

// NewMemoryStore returns an empty MemoryStore. cfg controls bulk-write
// chunking behavior so tests can exercise the same chunking/retry path the
// Postgres driver uses.
func NewMemoryStore(cfg config.Config) *MemoryStore {
	m := &MemoryStore{data: make(map[string]map[string]model.StoredResource)}
	m.chunked = ChunkedWriter{
		Write:  m.writeChunk,
		Cfg:    cfg,
		Policy: backoffpolicy.FromConfig(cfg),
	}
	return m
}

func (m *MemoryStore) bucket(kind string) map[string]model.StoredResource {
	b, ok := m.data[kind]
	if !ok {
		b = make(map[string]model.StoredResource)
		m.data[kind] = b
	}
	return b
}

func (m *MemoryStore) FindByIdentity(_ context.Context, kind string, idKey model.IdentityField, idValue string) (*model.StoredResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.bucketLocked(kind) {
		if rec.IdentityValue(idKey) == idValue {
			cp := rec
			return &cp, nil
		}
	}
	return nil, nil
}

// bucketLocked must be called with mu already held (read or write).
func (m *MemoryStore) bucketLocked(kind string) map[string]model.StoredResource {
	return m.data[kind]
}

func (m *MemoryStore) List(_ context.Context, kind string, opts ListOptions) ([]model.StoredResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []model.StoredResource
	var nameRe *regexp.Regexp
	if opts.Filter.NameRegex != "" {
		re, err := regexp.Compile(opts.Filter.NameRegex)
		if err != nil {
			return nil, err
		}
		nameRe = re
	}

	for _, rec := range m.bucketLocked(kind) {
		if opts.Filter.Namespace != "" && rec.Namespace != opts.Filter.Namespace {
			continue
		}
		if nameRe != nil && !nameRe.MatchString(rec.Name) {
			continue
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Namespace != matched[j].Namespace {
			return matched[i].Namespace < matched[j].Namespace
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return matched[start:end], nil
}

func (m *MemoryStore) Count(_ context.Context, kind string, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var nameRe *regexp.Regexp
	if filter.NameRegex != "" {
		re, err := regexp.Compile(filter.NameRegex)
		if err != nil {
			return 0, err
		}
		nameRe = re
	}
	count := 0
	for _, rec := range m.bucketLocked(kind) {
		if filter.Namespace != "" && rec.Namespace != filter.Namespace {
			continue
		}
		if nameRe != nil && !nameRe.MatchString(rec.Name) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *MemoryStore) UpsertByIdentity(_ context.Context, kind string, idKey model.IdentityField, idValue string, record model.StoredResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(kind, idKey, idValue, record)
}

func (m *MemoryStore) upsertLocked(kind string, idKey model.IdentityField, idValue string, record model.StoredResource) error {
	b := m.bucket(kind)
	now := time.Now()
	if existing, ok := b[idValue]; ok {
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	b[idValue] = record
	return nil
}

func (m *MemoryStore) DeleteByIdentity(_ context.Context, kind string, idKey model.IdentityField, idValue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bucket(kind), idValue)
	return nil
}

func (m *MemoryStore) BulkUpsert(ctx context.Context, kind string, idKey model.IdentityField, items []model.StoredResource) error {
	return m.chunked.BulkUpsert(ctx, kind, idKey, items)
}

// writeChunk is the ChunkWriter backing BulkUpsert's chunking/retry wrapper.
func (m *MemoryStore) writeChunk(_ context.Context, kind string, idKey model.IdentityField, chunk []model.StoredResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range chunk {
		if err := m.upsertLocked(kind, idKey, rec.IdentityValue(idKey), rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) DeleteWhereInvalid(_ context.Context, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketLocked(kind)
	for key, rec := range b {
		if !rec.Valid() {
			delete(b, key)
		}
	}
	return nil
}
