package eventlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkernel/kernel/internal/eventlog"
)

// TestMemoryLogAppendOrderIsTotalPerWorkflow covers the invariant that
// append order forms a total order per workflow id.
func TestMemoryLogAppendOrderIsTotalPerWorkflow(t *testing.T) {
	log := eventlog.NewMemoryLog()
	ctx := context.Background()

	types := []eventlog.Type{
		eventlog.TaskStarted,
		eventlog.LockAcquired,
		eventlog.TaskCompleted,
		eventlog.LockReleased,
	}
	for _, typ := range types {
		require.NoError(t, log.Append(ctx, eventlog.Record{
			Timestamp:  time.Now(),
			WorkflowID: "wf-1",
			TaskID:     "task-a",
			Type:       typ,
		}))
	}

	got, err := log.Read(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, got, len(types))
	for i, typ := range types {
		assert.Equal(t, typ, got[i].Type)
	}
}

func TestMemoryLogSeparatesWorkflows(t *testing.T) {
	log := eventlog.NewMemoryLog()
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, eventlog.Record{WorkflowID: "wf-1", Type: eventlog.TaskStarted}))
	require.NoError(t, log.Append(ctx, eventlog.Record{WorkflowID: "wf-2", Type: eventlog.TaskFailed}))

	got1, err := log.Read(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, got1, 1)

	got2, err := log.Read(ctx, "wf-2")
	require.NoError(t, err)
	assert.Len(t, got2, 1)
}

func TestMemoryLogReadReturnsDefensiveCopy(t *testing.T) {
	log := eventlog.NewMemoryLog()
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, eventlog.Record{WorkflowID: "wf-1", Type: eventlog.TaskStarted}))

	got, err := log.Read(ctx, "wf-1")
	require.NoError(t, err)
	got[0].Type = eventlog.TaskFailed

	got2, err := log.Read(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, eventlog.TaskStarted, got2[0].Type)
}
