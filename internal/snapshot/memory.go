package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/flowkernel/kernel/internal/state"
)

// MemoryStore is an in-memory, concurrency-safe Store implementation,
// grounded on the same sync.RWMutex-guarded map pattern used by
// state.MemoryStore, specialized to write-once-per-id semantics.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[ID]Snapshot
	byTask    map[string][]ID // insertion order, per task id
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[ID]Snapshot),
		byTask:    make(map[string][]ID),
	}
}

func (s *MemoryStore) CreateSnapshot(ctx context.Context, id ID, worldState state.Snapshot, memoryPointers map[string]string, verified bool, metadata map[string]any) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[id]; exists {
		return Snapshot{}, ErrAlreadyExists
	}
	snap := Snapshot{
		ID:             id,
		WorldState:     cloneStateSnapshot(worldState),
		MemoryPointers: clonePointers(memoryPointers),
		Verified:       verified,
		Metadata:       cloneMetadata(metadata),
		CreatedAt:      time.Now().UTC(),
	}
	s.snapshots[id] = snap
	s.byTask[id.TaskID] = append(s.byTask[id.TaskID], id)
	return snap, nil
}

func (s *MemoryStore) RestoreSnapshot(ctx context.Context, id ID) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryStore) GetLastVerifiedSnapshot(ctx context.Context, taskID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTask[taskID]
	for i := len(ids) - 1; i >= 0; i-- {
		snap := s.snapshots[ids[i]]
		if snap.Verified {
			return snap, nil
		}
	}
	return Snapshot{}, ErrNotFound
}

func cloneStateSnapshot(src state.Snapshot) state.Snapshot {
	out := make(map[string]state.Entry, len(src.Entries))
	for k, v := range src.Entries {
		out[k] = v
	}
	return state.Snapshot{Entries: out}
}

func clonePointers(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
