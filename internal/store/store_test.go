package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/model"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.BulkWriteBatchSize = 2
	cfg.BulkWriteBatchDelay = time.Millisecond
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	return cfg
}

func TestMemoryStore_UpsertFindList(t *testing.T) {
	s := NewMemoryStore(testConfig())
	ctx := context.Background()

	require.NoError(t, s.UpsertByIdentity(ctx, "pods", model.IdentityUID, "u1", model.StoredResource{UID: "u1", Name: "a", Namespace: "ns1"}))
	require.NoError(t, s.UpsertByIdentity(ctx, "pods", model.IdentityUID, "u2", model.StoredResource{UID: "u2", Name: "b", Namespace: "ns1"}))

	found, err := s.FindByIdentity(ctx, "pods", model.IdentityUID, "u1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a", found.Name)

	list, err := s.List(ctx, "pods", ListOptions{Filter: Filter{Namespace: "ns1"}})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	count, err := s.Count(ctx, "pods", Filter{Namespace: "ns1"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryStore_UpsertPreservesCreatedAt(t *testing.T) {
	s := NewMemoryStore(testConfig())
	ctx := context.Background()

	require.NoError(t, s.UpsertByIdentity(ctx, "pods", model.IdentityUID, "u1", model.StoredResource{UID: "u1", Name: "a"}))
	first, _ := s.FindByIdentity(ctx, "pods", model.IdentityUID, "u1")

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.UpsertByIdentity(ctx, "pods", model.IdentityUID, "u1", model.StoredResource{UID: "u1", Name: "a-renamed"}))
	second, _ := s.FindByIdentity(ctx, "pods", model.IdentityUID, "u1")

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
	assert.Equal(t, "a-renamed", second.Name)
}

func TestMemoryStore_DeleteByIdentity(t *testing.T) {
	s := NewMemoryStore(testConfig())
	ctx := context.Background()
	require.NoError(t, s.UpsertByIdentity(ctx, "pods", model.IdentityUID, "u1", model.StoredResource{UID: "u1", Name: "a"}))
	require.NoError(t, s.DeleteByIdentity(ctx, "pods", model.IdentityUID, "u1"))
	found, err := s.FindByIdentity(ctx, "pods", model.IdentityUID, "u1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMemoryStore_DeleteWhereInvalid(t *testing.T) {
	s := NewMemoryStore(testConfig())
	ctx := context.Background()
	require.NoError(t, s.UpsertByIdentity(ctx, "pods", model.IdentityUID, "u1", model.StoredResource{UID: "u1", Name: "a"}))
	require.NoError(t, s.UpsertByIdentity(ctx, "pods", model.IdentityUID, "", model.StoredResource{UID: "", Name: ""}))

	require.NoError(t, s.DeleteWhereInvalid(ctx, "pods"))

	list, err := s.List(ctx, "pods", ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].UID)
}

func TestMemoryStore_BulkUpsertChunksAcrossMultipleBatches(t *testing.T) {
	s := NewMemoryStore(testConfig()) // batch size 2
	ctx := context.Background()

	items := []model.StoredResource{
		{UID: "u1", Name: "a"}, {UID: "u2", Name: "b"}, {UID: "u3", Name: "c"}, {UID: "u4", Name: "d"}, {UID: "u5", Name: "e"},
	}
	require.NoError(t, s.BulkUpsert(ctx, "pods", model.IdentityUID, items))

	count, err := s.Count(ctx, "pods", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestMemoryStore_BulkUpsertEmptyIsNoop(t *testing.T) {
	s := NewMemoryStore(testConfig())
	require.NoError(t, s.BulkUpsert(context.Background(), "pods", model.IdentityUID, nil))
}

func TestChunkedWriter_RetriesRecoverableFailureOnce(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkedBulkWriteEnabled = false
	calls := 0
	cw := ChunkedWriter{
		Cfg: cfg,
		Write: func(ctx context.Context, kind string, idKey model.IdentityField, chunk []model.StoredResource) error {
			calls++
			if calls == 1 {
				return errors.New("connection reset by peer")
			}
			return nil
		},
	}
	err := cw.BulkUpsert(context.Background(), "pods", model.IdentityUID, []model.StoredResource{{UID: "u1", Name: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestChunkedWriter_DoesNotRetryNonRecoverableFailure(t *testing.T) {
	cfg := testConfig()
	calls := 0
	cw := ChunkedWriter{
		Cfg: cfg,
		Write: func(ctx context.Context, kind string, idKey model.IdentityField, chunk []model.StoredResource) error {
			calls++
			return errors.New("permission denied")
		},
	}
	err := cw.BulkUpsert(context.Background(), "pods", model.IdentityUID, []model.StoredResource{{UID: "u1", Name: "a"}})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestChunkedWriter_ChunkCountAndMidChunkRetry(t *testing.T) {
	cfg := testConfig()
	cfg.BulkWriteBatchSize = 100

	var chunkSizes []int
	calls := 0
	failed := false
	cw := ChunkedWriter{
		Cfg: cfg,
		Write: func(ctx context.Context, kind string, idKey model.IdentityField, chunk []model.StoredResource) error {
			calls++
			// Second chunk breaks once with a transient pipe error.
			if len(chunkSizes) == 1 && !failed {
				failed = true
				return errors.New("write: broken pipe")
			}
			chunkSizes = append(chunkSizes, len(chunk))
			return nil
		},
	}

	items := make([]model.StoredResource, 250)
	for i := range items {
		items[i] = model.StoredResource{UID: "u", Name: "n"}
	}
	require.NoError(t, cw.BulkUpsert(context.Background(), "secrets", model.IdentityUID, items))

	assert.Equal(t, []int{100, 100, 50}, chunkSizes)
	assert.Equal(t, 4, calls) // 3 chunks + 1 retry of the failed one
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(errors.New("broken pipe")))
	assert.True(t, IsRecoverable(errors.New("read: connection reset by peer")))
	assert.False(t, IsRecoverable(errors.New("permission denied")))
	assert.False(t, IsRecoverable(nil))
}

func TestMemoryStore_ListPagination(t *testing.T) {
	s := NewMemoryStore(testConfig())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpsertByIdentity(ctx, "nodes", model.IdentityUID, string(rune('a'+i)), model.StoredResource{UID: string(rune('a' + i)), Name: string(rune('a' + i))}))
	}
	page, err := s.List(ctx, "nodes", ListOptions{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
