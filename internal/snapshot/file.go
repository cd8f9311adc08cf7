package snapshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flowkernel/kernel/internal/state"
)

// FileStore is a file-backed Store: one JSON document per snapshot id under
// baseDir, written atomically (write-to-temp + rename), grounded on
// state.FileStore's persistence pattern. An in-memory index mirrors disk
// contents and is rebuilt from disk on Open.
type FileStore struct {
	mu        sync.RWMutex
	baseDir   string
	cache     map[ID]Snapshot
	byTask    map[string][]ID
}

var _ Store = (*FileStore)(nil)

type fileSnapshotDoc struct {
	WorkflowID        string            `json:"workflow_id"`
	TaskID            string            `json:"task_id"`
	Attempt           int               `json:"attempt"`
	WorldStateEntries map[string]string `json:"world_state_entries"` // key -> base64(value)
	WorldStateVersion map[string]int64  `json:"world_state_versions"`
	MemoryPointers    map[string]string `json:"memory_pointers,omitempty"`
	Verified          bool              `json:"verified"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	CreatedAtUnixNano int64             `json:"created_at"`
}

// OpenFileStore creates baseDir if needed and rebuilds its in-memory index.
func OpenFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create base dir: %w", err)
	}
	fs := &FileStore{baseDir: baseDir, cache: make(map[ID]Snapshot), byTask: make(map[string][]ID)}
	if err := fs.rebuildIndex(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (s *FileStore) rebuildIndex() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("snapshot: scan base dir: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, de.Name()))
		if err != nil {
			continue
		}
		var doc fileSnapshotDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			continue // a partially written file; skip rather than fail Open.
		}
		snap, err := snapshotFromDoc(doc)
		if err != nil {
			continue
		}
		s.cache[snap.ID] = snap
		s.byTask[snap.ID.TaskID] = append(s.byTask[snap.ID.TaskID], snap.ID)
	}
	return nil
}

func (s *FileStore) pathFor(id ID) string {
	name := fmt.Sprintf("%s_%s_%d",
		base64.RawURLEncoding.EncodeToString([]byte(id.WorkflowID)),
		base64.RawURLEncoding.EncodeToString([]byte(id.TaskID)),
		id.Attempt)
	return filepath.Join(s.baseDir, name+".json")
}

func docFromSnapshot(snap Snapshot) fileSnapshotDoc {
	values := make(map[string]string, len(snap.WorldState.Entries))
	versions := make(map[string]int64, len(snap.WorldState.Entries))
	for k, e := range snap.WorldState.Entries {
		values[k] = base64.StdEncoding.EncodeToString(e.Value)
		versions[k] = e.Version
	}
	return fileSnapshotDoc{
		WorkflowID:        snap.ID.WorkflowID,
		TaskID:            snap.ID.TaskID,
		Attempt:           snap.ID.Attempt,
		WorldStateEntries: values,
		WorldStateVersion: versions,
		MemoryPointers:    snap.MemoryPointers,
		Verified:          snap.Verified,
		Metadata:          snap.Metadata,
		CreatedAtUnixNano: snap.CreatedAt.UnixNano(),
	}
}

func snapshotFromDoc(doc fileSnapshotDoc) (Snapshot, error) {
	entries := make(map[string]state.Entry, len(doc.WorldStateEntries))
	for k, encoded := range doc.WorldStateEntries {
		value, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Snapshot{}, err
		}
		entries[k] = state.Entry{Key: k, Value: value, Version: doc.WorldStateVersion[k]}
	}
	return Snapshot{
		ID:             ID{WorkflowID: doc.WorkflowID, TaskID: doc.TaskID, Attempt: doc.Attempt},
		WorldState:     state.Snapshot{Entries: entries},
		MemoryPointers: doc.MemoryPointers,
		Verified:       doc.Verified,
		Metadata:       doc.Metadata,
		CreatedAt:      time.Unix(0, doc.CreatedAtUnixNano).UTC(),
	}, nil
}

func (s *FileStore) CreateSnapshot(ctx context.Context, id ID, worldState state.Snapshot, memoryPointers map[string]string, verified bool, metadata map[string]any) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cache[id]; exists {
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

	doc := docFromSnapshot(snap)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Snapshot{}, err
	}
	path := s.pathFor(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: rename: %w", err)
	}

	s.cache[id] = snap
	s.byTask[id.TaskID] = append(s.byTask[id.TaskID], id)
	return snap, nil
}

func (s *FileStore) RestoreSnapshot(ctx context.Context, id ID) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.cache[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *FileStore) GetLastVerifiedSnapshot(ctx context.Context, taskID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	// byTask follows file-name order after a reopen, so pick by CreatedAt.
	var latest Snapshot
	found := false
	for _, id := range s.byTask[taskID] {
		snap := s.cache[id]
		if snap.Verified && (!found || !snap.CreatedAt.Before(latest.CreatedAt)) {
			latest, found = snap, true
		}
	}
	if found {
		return latest, nil
	}
	return Snapshot{}, ErrNotFound
}
