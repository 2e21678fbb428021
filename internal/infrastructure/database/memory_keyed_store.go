package database

import (
	"context"
	"sort"
	"strings"
	"sync"

	"wallet-watcher-engine/internal/domain/repository"
	"wallet-watcher-engine/internal/infrastructure/clock"
)

// MemoryKeyedStore is an in-process KeyedStore for development and tests
type MemoryKeyedStore struct {
	mu    sync.RWMutex
	clock clock.Clock
	items map[repository.Key]*repository.Item
}

// NewMemoryKeyedStore creates an empty in-memory store
func NewMemoryKeyedStore(clk clock.Clock) *MemoryKeyedStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryKeyedStore{
		clock: clk,
		items: make(map[repository.Key]*repository.Item),
	}
}

// Get implements KeyedStore
func (s *MemoryKeyedStore) Get(_ context.Context, key repository.Key) (*repository.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	return cloneItem(item), nil
}

// Put implements KeyedStore
func (s *MemoryKeyedStore) Put(_ context.Context, item *repository.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	if existing, ok := s.items[item.Key]; ok {
		version = existing.Version
	}
	s.storeLocked(item, version+1)
	return nil
}

// PutIfAbsent implements KeyedStore
func (s *MemoryKeyedStore) PutIfAbsent(_ context.Context, item *repository.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.Key]; ok {
		return repository.ErrConditionFailed
	}
	s.storeLocked(item, 1)
	return nil
}

// CompareAndSwap implements KeyedStore
func (s *MemoryKeyedStore) CompareAndSwap(_ context.Context, item *repository.Item, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.Key]
	if !ok || existing.Version != expectedVersion {
		return repository.ErrConditionFailed
	}
	s.storeLocked(item, expectedVersion+1)
	return nil
}

// Query implements KeyedStore
func (s *MemoryKeyedStore) Query(_ context.Context, pk, skPrefix string, opts repository.QueryOptions) ([]*repository.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*repository.Item
	for key, item := range s.items {
		if key.PK == pk && strings.HasPrefix(key.SK, skPrefix) {
			out = append(out, cloneItem(item))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if opts.Descending {
			return out[i].SK > out[j].SK
		}
		return out[i].SK < out[j].SK
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Scan implements KeyedStore
func (s *MemoryKeyedStore) Scan(_ context.Context, skPrefix string) ([]*repository.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*repository.Item
	for key, item := range s.items {
		if strings.HasPrefix(key.SK, skPrefix) {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PK != out[j].PK {
			return out[i].PK < out[j].PK
		}
		return out[i].SK < out[j].SK
	})
	return out, nil
}

// Delete implements KeyedStore
func (s *MemoryKeyedStore) Delete(_ context.Context, key repository.Key) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// BatchDelete implements KeyedStore
func (s *MemoryKeyedStore) BatchDelete(_ context.Context, keys []repository.Key) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.items, key)
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored items
func (s *MemoryKeyedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryKeyedStore) storeLocked(item *repository.Item, version int64) {
	stored := cloneItem(item)
	stored.Version = version
	stored.UpdatedAt = s.clock.Now()
	s.items[item.Key] = stored
	item.Version = version
	item.UpdatedAt = stored.UpdatedAt
}

func cloneItem(item *repository.Item) *repository.Item {
	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out
}
