package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FileStore is a file-backed Store implementing the on-disk layout
// normative per spec.md §6:
//
//	<baseDir>/<workflowId>/<entryId>.json       one JSON object per entry
//	<baseDir>/_index/by-id.json                 entry id -> workflow id
//	<baseDir>/_index/by-idempotency-key.json     idempotency key -> entry id
//
// Indices are rebuilt by scanning entry files on Open; any inconsistency
// between indices and entries is resolved in favor of entries, grounded on
// state.FileStore's atomic write-to-temp-then-rename persistence idiom.
type FileStore struct {
	mu         sync.Mutex
	baseDir    string
	byID       map[string]Entry
	byIDWf     map[string]string
	byKey      map[string]string
	group      singleflight.Group
	stuckAfter time.Duration
}

var _ Store = (*FileStore)(nil)

func OpenFileStore(baseDir string, stuckAfter time.Duration) (*FileStore, error) {
	if stuckAfter <= 0 {
		stuckAfter = 5 * time.Minute
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "_index"), 0o755); err != nil {
		return nil, fmt.Errorf("outbox: create base dir: %w", err)
	}
	s := &FileStore{
		baseDir:    baseDir,
		byID:       make(map[string]Entry),
		byIDWf:     make(map[string]string),
		byKey:      make(map[string]string),
		stuckAfter: stuckAfter,
	}
	if err := s.rebuildFromEntries(); err != nil {
		return nil, err
	}
	if err := s.writeIndices(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) rebuildFromEntries() error {
	workflowDirs, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("outbox: scan base dir: %w", err)
	}
	for _, wd := range workflowDirs {
		if !wd.IsDir() || wd.Name() == "_index" {
			continue
		}
		workflowID := wd.Name()
		entryFiles, err := os.ReadDir(filepath.Join(s.baseDir, workflowID))
		if err != nil {
			continue
		}
		for _, ef := range entryFiles {
			if ef.IsDir() || filepath.Ext(ef.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.baseDir, workflowID, ef.Name()))
			if err != nil {
				continue
			}
			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				continue // a partially written file; skip rather than fail Open.
			}
			s.byID[e.ID] = e
			s.byIDWf[e.ID] = workflowID
			if e.IdempotencyKey != "" {
				s.byKey[e.IdempotencyKey] = e.ID
			}
		}
	}
	return nil
}

func (s *FileStore) writeIndices() error {
	if err := writeJSONAtomic(filepath.Join(s.baseDir, "_index", "by-id.json"), s.byIDWf); err != nil {
		return fmt.Errorf("outbox: write by-id index: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.baseDir, "_index", "by-idempotency-key.json"), s.byKey); err != nil {
		return fmt.Errorf("outbox: write by-idempotency-key index: %w", err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) entryPath(workflowID, entryID string) string {
	return filepath.Join(s.baseDir, workflowID, entryID+".json")
}

func (s *FileStore) persist(e Entry) error {
	if err := os.MkdirAll(filepath.Join(s.baseDir, e.WorkflowID), 0o755); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.entryPath(e.WorkflowID, e.ID), e); err != nil {
		return err
	}
	s.byID[e.ID] = e
	s.byIDWf[e.ID] = e.WorkflowID
	if e.IdempotencyKey != "" {
		s.byKey[e.IdempotencyKey] = e.ID
	}
	return s.writeIndices()
}

func (s *FileStore) Execute(ctx context.Context, workflowID, taskID, toolID string, input json.RawMessage, idempotencyKey string, maxAttempts int, executor Executor) (Entry, error) {
	result, err, _ := s.group.Do(idempotencyKey, func() (any, error) {
		return s.executeLocked(ctx, workflowID, taskID, toolID, input, idempotencyKey, maxAttempts, executor)
	})
	if err != nil {
		return Entry{}, err
	}
	return result.(Entry), nil
}

func (s *FileStore) executeLocked(ctx context.Context, workflowID, taskID, toolID string, input json.RawMessage, idempotencyKey string, maxAttempts int, executor Executor) (Entry, error) {
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
			ID:             newEntryID(),
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
	}
	entry.State = Processing
	entry.UpdatedAt = time.Now().UTC()
	if err := s.persist(entry); err != nil {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("outbox: persist processing state: %w", err)
	}
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
		if err := s.persist(entry); err != nil {
			return Entry{}, fmt.Errorf("outbox: persist failure state: %w", err)
		}
		return entry, execErr
	}
	entry.State = Committed
	entry.Result = output
	entry.Error = ""
	entry.CommittedAt = entry.UpdatedAt
	if err := s.persist(entry); err != nil {
		return Entry{}, fmt.Errorf("outbox: persist committed state: %w", err)
	}
	return entry, nil
}

func (s *FileStore) lookupByKeyLocked(key string) (Entry, bool) {
	id, ok := s.byKey[key]
	if !ok {
		return Entry{}, false
	}
	e, ok := s.byID[id]
	return e, ok
}

// GetByID looks up the in-memory index first; on a miss it falls back to a
// bounded scan of every workflow directory rather than reporting
// ErrNotFound outright. spec.md §9 notes the source returns null on an
// index miss without scanning, and leaves open whether that is intentional;
// this store treats a false "not found" on durable outbox bookkeeping as a
// correctness hazard and scans instead.
func (s *FileStore) GetByID(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		return e, nil
	}
	if err := s.rebuildFromEntries(); err == nil {
		if e, ok := s.byID[id]; ok {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (s *FileStore) GetByIdempotencyKey(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.lookupByKeyLocked(key); ok {
		return e, nil
	}
	if err := s.rebuildFromEntries(); err == nil {
		if e, ok := s.lookupByKeyLocked(key); ok {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (s *FileStore) Reconcile(ctx context.Context, opts ReconcileOptions) (int, error) {
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
				if err := s.persist(e); err != nil {
					return reset, err
				}
				reset++
			}
		case Failed:
			if opts.AutoRetry {
				e.State = Pending
				e.UpdatedAt = now
				if err := s.persist(e); err != nil {
					return reset, err
				}
				reset++
			}
		case DeadLetter:
			if opts.OnReconcile != nil {
				opts.OnReconcile(e)
			}
		}
		_ = id
	}
	return reset, nil
}

func (s *FileStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	deleted := 0
	for id, e := range s.byID {
		if e.State == Committed && e.CommittedAt.Before(cutoff) {
			if err := os.Remove(s.entryPath(e.WorkflowID, e.ID)); err != nil && !os.IsNotExist(err) {
				return deleted, err
			}
			delete(s.byID, id)
			delete(s.byIDWf, id)
			delete(s.byKey, e.IdempotencyKey)
			deleted++
		}
	}
	if deleted > 0 {
		if err := s.writeIndices(); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
