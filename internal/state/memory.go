// Package state: in-memory Store implementation for development, testing,
// and single-node deployments, grounded on registry/store/memory.go's
// sync.RWMutex-guarded map pattern.
package state

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory, concurrency-safe Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Create(ctx context.Context, key string, value []byte, metadata map[string]string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists {
		return Entry{}, ErrVersionConflict
	}
	e := Entry{Key: key, Value: cloneBytes(value), Version: 1, Metadata: cloneMeta(metadata)}
	s.entries[key] = e
	return e.clone(), nil
}

func (s *MemoryStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, value []byte, expectedVersion int64, metadata map[string]string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return Entry{}, ErrVersionConflict
	}
	next := Entry{Key: key, Value: cloneBytes(value), Version: cur.Version + 1, Metadata: cloneMeta(metadata)}
	s.entries[key] = next
	return next.clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[key]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v.clone()
	}
	return Snapshot{Entries: out}, nil
}

func (e Entry) clone() Entry {
	cp := e
	cp.Value = cloneBytes(e.Value)
	cp.Metadata = cloneMeta(e.Metadata)
	return cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
