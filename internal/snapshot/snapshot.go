// Package snapshot implements the snapshot store, per spec.md §6
// ("Snapshot store") and §5 ("Shared-resource policy: the snapshot store
// is write-once per id"). Unlike the derived, replay-computed run
// snapshots it is grounded on, this store is authoritative: a snapshot is
// created once with an explicit (workflow, task, attempt) identity and
// never mutated afterward.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/flowkernel/kernel/internal/state"
)

// ErrNotFound is returned when a snapshot id is unknown to the store.
var ErrNotFound = errors.New("snapshot: not found")

// ErrAlreadyExists is returned by Create when a snapshot already exists for
// the given id, enforcing write-once semantics.
var ErrAlreadyExists = errors.New("snapshot: already exists")

// ID identifies a snapshot by the (workflow, task, attempt) triple it was
// captured under.
type ID struct {
	WorkflowID string
	TaskID     string
	Attempt    int
}

// Snapshot is an immutable capture of world state and memory pointers,
// keyed by (workflow id, task id, attempt).
type Snapshot struct {
	ID             ID
	WorldState     state.Snapshot
	MemoryPointers map[string]string
	Verified       bool
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Store is the snapshot store contract.
type Store interface {
	// CreateSnapshot captures worldState and memoryPointers under id. It
	// fails with ErrAlreadyExists if a snapshot already exists for id.
	CreateSnapshot(ctx context.Context, id ID, worldState state.Snapshot, memoryPointers map[string]string, verified bool, metadata map[string]any) (Snapshot, error)
	// RestoreSnapshot returns the world state and memory pointers captured
	// under id, or ErrNotFound.
	RestoreSnapshot(ctx context.Context, id ID) (Snapshot, error)
	// GetLastVerifiedSnapshot returns the most recently created verified
	// snapshot for taskID across all attempts, or ErrNotFound if none exists.
	GetLastVerifiedSnapshot(ctx context.Context, taskID string) (Snapshot, error)
}
