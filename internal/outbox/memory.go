package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// MemoryStore is an in-memory Store implementation, grounded on the same
// sync.RWMutex-guarded map pattern used by state.MemoryStore, plus a
// singleflight.Group so concurrent Execute calls sharing an idempotency
// key coalesce into a single executor invocation instead of racing — the
// same cache-stampede concern the example pack's Redis-backed cache
// resilience tests describe, applied here to the outbox's idempotency
// index instead of a read-through cache.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]Entry
	byKey   map[string]string // idempotency key -> entry id
	group   singleflight.Group
	nextSeq int
	stuckAfter time.Duration
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(stuckAfter time.Duration) *MemoryStore {
	if stuckAfter <= 0 {
		stuckAfter = 5 * time.Minute
	}
	return &MemoryStore{
		byID:       make(map[string]Entry),
		byKey:      make(map[string]string),
		stuckAfter: stuckAfter,
	}
}

func (s *MemoryStore) Execute(ctx context.Context, workflowID, taskID, toolID string, input json.RawMessage, idempotencyKey string, maxAttempts int, executor Executor) (Entry, error) {
	result, err, _ := s.group.Do(idempotencyKey, func() (any, error) {
		return s.executeLocked(ctx, workflowID, taskID, toolID, input, idempotencyKey, maxAttempts, executor)
	})
	if err != nil {
		return Entry{}, err
	}
	return result.(Entry), nil
}

func (s *MemoryStore) executeLocked(ctx context.Context, workflowID, taskID, toolID string, input json.RawMessage, idempotencyKey string, maxAttempts int, executor Executor) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	entry, exists := s.lookupByKeyLocked(idempotencyKey)
	if exists && entry.State == Committed {
		s.mu.Unlock()
		return entry, nil
	}
	if exists && entry.State == DeadLetter {
		s.mu.Unlock()
		return entry, ErrAttemptsExhausted
	}
	if !exists {
		entry = Entry{
			ID:             s.newID(),
			WorkflowID:     workflowID,
			TaskID:         taskID,
			ToolID:         toolID,
			Input:          input,
			IdempotencyKey: idempotencyKey,
			State:          Pending,
			MaxAttempts:    maxAttempts,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}
		s.byID[entry.ID] = entry
		s.byKey[idempotencyKey] = entry.ID
	}
	entry.State = Processing
	entry.UpdatedAt = time.Now().UTC()
	s.byID[entry.ID] = entry
	s.mu.Unlock()

	output, execErr := executor(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry = s.byID[entry.ID]
	entry.UpdatedAt = time.Now().UTC()
	if execErr != nil {
		entry.Attempts++
		entry.Error = execErr.Error()
		if entry.Attempts >= entry.MaxAttempts {
			entry.State = DeadLetter
		} else {
			entry.State = Failed
		}
		s.byID[entry.ID] = entry
		return entry, execErr
	}
	entry.State = Committed
	entry.Result = output
	entry.Error = ""
	entry.CommittedAt = entry.UpdatedAt
	s.byID[entry.ID] = entry
	return entry, nil
}

func (s *MemoryStore) lookupByKeyLocked(key string) (Entry, bool) {
	id, ok := s.byKey[key]
	if !ok {
		return Entry{}, false
	}
	e, ok := s.byID[id]
	return e, ok
}

func (s *MemoryStore) newID() string {
	s.nextSeq++
	return idFromSeq(s.nextSeq)
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupByKeyLocked(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Reconcile(ctx context.Context, opts ReconcileOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = s.stuckAfter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	now := time.Now().UTC()
	for id, e := range s.byID {
		switch e.State {
		case Processing:
			if now.Sub(e.UpdatedAt) > maxAge {
				e.State = Pending
				e.UpdatedAt = now
				s.byID[id] = e
				reset++
			}
		case Failed:
			if opts.AutoRetry {
				e.State = Pending
				e.UpdatedAt = now
				s.byID[id] = e
				reset++
			}
		case DeadLetter:
			if opts.OnReconcile != nil {
				opts.OnReconcile(e)
			}
		}
	}
	return reset, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	deleted := 0
	for id, e := range s.byID {
		if e.State == Committed && e.CommittedAt.Before(cutoff) {
			delete(s.byID, id)
			delete(s.byKey, e.IdempotencyKey)
			deleted++
		}
	}
	return deleted, nil
}
