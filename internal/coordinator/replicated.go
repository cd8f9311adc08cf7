package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Map is the minimal replicated-map contract the replicated lock table
// needs, satisfied by *rmap.Map from goa.design/pulse/rmap (itself backed
// by github.com/redis/go-redis/v9). Defined here, grounded on
// registry/store/replicated.Map, to keep this package unit-testable
// without Redis and to avoid coupling callers to a concrete Pulse type.
type Map interface {
	Get(key string) (string, bool)
	Set(ctx context.Context, key, value string) (string, error)
	Delete(ctx context.Context, key string) (string, error)
	Keys() []string
}

const lockTableKeyPrefix = "coordinator:lock:"

// ReplicatedLockTable mirrors the coordinator's in-memory grants into a
// replicated map so every node in a multi-node deployment can observe
// which agent currently holds which resource. It does not itself arbitrate
// acquisition — Coordinator remains the single writer serialising grants —
// it publishes state for cross-node visibility (e.g. an operator dashboard,
// or a second node refusing to schedule a conflicting task speculatively).
type ReplicatedLockTable struct {
	m Map
}

func NewReplicatedLockTable(m Map) *ReplicatedLockTable {
	return &ReplicatedLockTable{m: m}
}

type lockRecord struct {
	AgentID    string `json:"agent_id"`
	WorkflowID string `json:"workflow_id"`
	Mode       string `json:"mode"`
}

// Publish mirrors resource's current holder set into the replicated map.
func (t *ReplicatedLockTable) Publish(ctx context.Context, resource string, holders []Lock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := make([]lockRecord, 0, len(holders))
	for _, l := range holders {
		records = append(records, lockRecord{AgentID: l.AgentID, WorkflowID: l.WorkflowID, Mode: string(l.Mode)})
	}
	b, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("coordinator: marshal lock record for %q: %w", resource, err)
	}
	if _, err := t.m.Set(ctx, lockTableKey(resource), string(b)); err != nil {
		return fmt.Errorf("coordinator: publish lock state for %q: %w", resource, err)
	}
	return nil
}

// Unpublish removes resource's entry once it has no holders.
func (t *ReplicatedLockTable) Unpublish(ctx context.Context, resource string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.m.Delete(ctx, lockTableKey(resource)); err != nil {
		return fmt.Errorf("coordinator: unpublish lock state for %q: %w", resource, err)
	}
	return nil
}

// Snapshot returns the last-published holder set for resource, as observed
// through the replicated map (may be stale relative to the owning
// coordinator node).
func (t *ReplicatedLockTable) Snapshot(resource string) ([]Lock, bool) {
	val, ok := t.m.Get(lockTableKey(resource))
	if !ok {
		return nil, false
	}
	var records []lockRecord
	if err := json.Unmarshal([]byte(val), &records); err != nil {
		return nil, false
	}
	locks := make([]Lock, 0, len(records))
	for _, r := range records {
		locks = append(locks, Lock{Resource: resource, AgentID: r.AgentID, WorkflowID: r.WorkflowID})
	}
	return locks, true
}

// Resources lists every resource with a published entry.
func (t *ReplicatedLockTable) Resources() []string {
	var out []string
	for _, k := range t.m.Keys() {
		if strings.HasPrefix(k, lockTableKeyPrefix) {
			out = append(out, strings.TrimPrefix(k, lockTableKeyPrefix))
		}
	}
	return out
}

func lockTableKey(resource string) string {
	return lockTableKeyPrefix + resource
}
