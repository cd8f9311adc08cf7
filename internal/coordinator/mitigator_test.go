package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkernel/kernel/internal/coordinator"
	"github.com/flowkernel/kernel/internal/taskspec"
)

// TestMitigateDeadlockReplanReleasesFewerLocksVictim mirrors spec.md §8
// scenario 2's mitigation half: REPLAN picks the victim with fewer locks
// and releases it so the other party can proceed.
func TestMitigateDeadlockReplanReleasesFewerLocksVictim(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()
	require.True(t, mustAcquire(t, c, ctx, "rA", "a1"))
	require.True(t, mustAcquire(t, c, ctx, "rB", "a2"))
	require.True(t, mustAcquire(t, c, ctx, "rC", "a2")) // a2 holds two locks, a1 holds one

	deadlock := coordinator.DeadlockResult{Detected: true, Cycle: []string{"a1", "a2"}, AffectedResources: []string{"rA", "rB"}}
	mitigator := coordinator.NewMitigator(c, coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{}), nil)

	result := mitigator.MitigateDeadlock(ctx, deadlock, coordinator.Replan)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "a1", result.Actions[0].AgentID) // fewer locks
	assert.True(t, result.Actions[0].SignaledReplan)

	ok, err := c.AcquireLock(ctx, "rA", "a2", "wf1", taskspec.LockWrite, 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMitigateDeadlockAbortPicksMostLocksVictim(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()
	require.True(t, mustAcquire(t, c, ctx, "rA", "a1"))
	require.True(t, mustAcquire(t, c, ctx, "rB", "a2"))
	require.True(t, mustAcquire(t, c, ctx, "rC", "a2"))

	deadlock := coordinator.DeadlockResult{Detected: true, Cycle: []string{"a1", "a2"}}
	mitigator := coordinator.NewMitigator(c, coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{}), nil)

	result := mitigator.MitigateDeadlock(ctx, deadlock, coordinator.Abort)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "a2", result.Actions[0].AgentID) // most locks
	assert.True(t, result.Actions[0].MarkedFailed)
}

func TestMitigateDeadlockEscalateInvokesCallbackWithoutReleasing(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()
	require.True(t, mustAcquire(t, c, ctx, "rA", "a1"))

	var escalated any
	mitigator := coordinator.NewMitigator(c, coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{}), func(_ context.Context, reason string, detail any) {
		assert.Equal(t, "deadlock", reason)
		escalated = detail
	})

	deadlock := coordinator.DeadlockResult{Detected: true, Cycle: []string{"a1"}}
	result := mitigator.MitigateDeadlock(ctx, deadlock, coordinator.Escalate)
	assert.NotNil(t, escalated)
	assert.Empty(t, result.Actions)
	assert.Equal(t, 1, len(c.LocksHeldBy("a1"))) // untouched
}

func TestMitigateLivelockAbortClearsHistoryAndReleasesLocks(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()
	require.True(t, mustAcquire(t, c, ctx, "rA", "a1"))

	livelock := coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{})
	livelock.RecordTick("a1", "stuck", time.Now())
	mitigator := coordinator.NewMitigator(c, livelock, nil)

	result := mitigator.MitigateLivelock(ctx, coordinator.LivelockResult{Detected: true, AgentID: "a1", Pattern: coordinator.PatternNoProgress}, nil, coordinator.Abort)
	require.Len(t, result.Actions, 1)
	assert.True(t, result.Actions[0].MarkedFailed)
	assert.Empty(t, c.LocksHeldBy("a1"))
}

func mustAcquire(t *testing.T, c *coordinator.Coordinator, ctx context.Context, resource, agent string) bool {
	t.Helper()
	ok, err := c.AcquireLock(ctx, resource, agent, "wf1", taskspec.LockWrite, 0, time.Second)
	require.NoError(t, err)
	return ok
}
