package eventlog

import (
	"context"
	"sync"
)

// MemoryLog is an in-memory, append-only Log implementation grounded on the
// same sync.RWMutex-guarded map pattern used by registry/store/memory.go,
// specialised to an append-only slice per workflow instead of a map of
// mutable values.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// Compile-time check that MemoryLog implements Log.
var _ Log = (*MemoryLog)(nil)

// NewMemoryLog constructs an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[string][]Record)}
}

func (l *MemoryLog) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.WorkflowID] = append(l.records[rec.WorkflowID], rec)
	return nil
}

func (l *MemoryLog) Read(ctx context.Context, workflowID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.records[workflowID]
	out := make([]Record, len(src))
	copy(out, src)
	return out, nil
}
