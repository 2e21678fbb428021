package database

import (
	"context"
	"testing"
	"time"

	"wallet-watcher-engine/internal/domain/repository"
	"wallet-watcher-engine/internal/infrastructure/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(t *testing.T, pk, sk string, v any) *repository.Item {
	t.Helper()
	item, err := repository.NewItem(pk, sk, v)
	require.NoError(t, err)
	return item
}

func TestMemoryKeyedStorePutGet(t *testing.T) {
	store := NewMemoryKeyedStore(clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	_, err := store.Get(ctx, repository.Key{PK: "p", SK: "s"})
	assert.ErrorIs(t, err, repository.ErrItemNotFound)

	item := newItem(t, "p", "s", map[string]string{"a": "1"})
	require.NoError(t, store.Put(ctx, item))
	assert.Equal(t, int64(1), item.Version)

	require.NoError(t, store.Put(ctx, newItem(t, "p", "s", map[string]string{"a": "2"})))

	got, err := store.Get(ctx, repository.Key{PK: "p", SK: "s"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	var decoded map[string]string
	require.NoError(t, got.Decode(&decoded))
	assert.Equal(t, "2", decoded["a"])
}

func TestMemoryKeyedStoreConditionalWrites(t *testing.T) {
	store := NewMemoryKeyedStore(nil)
	ctx := context.Background()

	item := newItem(t, "p", "s", 1)
	require.NoError(t, store.PutIfAbsent(ctx, item))
	assert.ErrorIs(t, store.PutIfAbsent(ctx, newItem(t, "p", "s", 2)), repository.ErrConditionFailed)

	next := newItem(t, "p", "s", 3)
	assert.ErrorIs(t, store.CompareAndSwap(ctx, next, 7), repository.ErrConditionFailed)
	require.NoError(t, store.CompareAndSwap(ctx, next, 1))
	assert.Equal(t, int64(2), next.Version)

	// the old version lost the race
	assert.ErrorIs(t, store.CompareAndSwap(ctx, newItem(t, "p", "s", 4), 1), repository.ErrConditionFailed)

	missing := newItem(t, "p", "missing", 1)
	assert.ErrorIs(t, store.CompareAndSwap(ctx, missing, 0), repository.ErrConditionFailed)
}

func TestMemoryKeyedStoreQueryAndScan(t *testing.T) {
	store := NewMemoryKeyedStore(nil)
	ctx := context.Background()

	for _, sk := range []string{"ACTIVITY#w#f#3", "ACTIVITY#w#f#1", "ACTIVITY#w#f#2", "ACTIVITY#w#g#1", "WATCHER#w#f"} {
		require.NoError(t, store.Put(ctx, newItem(t, "USER#u", sk, sk)))
	}
	require.NoError(t, store.Put(ctx, newItem(t, "USER#v", "ACTIVITY#w#f#9", "x")))

	items, err := store.Query(ctx, "USER#u", "ACTIVITY#w#f#", repository.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "ACTIVITY#w#f#1", items[0].SK)

	items, err = store.Query(ctx, "USER#u", "ACTIVITY#w#f#", repository.QueryOptions{Limit: 2, Descending: true})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ACTIVITY#w#f#3", items[0].SK)
	assert.Equal(t, "ACTIVITY#w#f#2", items[1].SK)

	items, err = store.Scan(ctx, "ACTIVITY#")
	require.NoError(t, err)
	assert.Len(t, items, 5)

	keys := []repository.Key{{PK: "USER#u", SK: "ACTIVITY#w#f#1"}, {PK: "USER#u", SK: "ACTIVITY#w#f#2"}}
	require.NoError(t, store.BatchDelete(ctx, keys))
	require.NoError(t, store.Delete(ctx, repository.Key{PK: "nope", SK: "nope"}))
	assert.Equal(t, 4, store.Len())
}
