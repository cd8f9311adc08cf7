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

func TestAcquireReleaseExclusiveLock(t *testing.T) {
	c := coordinator.New()
	ok, err := c.AcquireLock(context.Background(), "rA", "a1", "wf1", taskspec.LockWrite, 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.ReleaseLock("rA", "a1", "wf1"))
}

func TestSecondExclusiveAcquisitionBlocksUntilRelease(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()
	ok, err := c.AcquireLock(ctx, "rA", "a1", "wf1", taskspec.LockWrite, 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		ok, _ := c.AcquireLock(ctx, "rA", "a2", "wf1", taskspec.LockWrite, 0, 2*time.Second)
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.ReleaseLock("rA", "a1", "wf1"))

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("second acquisition never granted after release")
	}
}

func TestAcquireLockTimesOutWhenNeverGranted(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()
	ok, err := c.AcquireLock(ctx, "rA", "a1", "wf1", taskspec.LockWrite, 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.AcquireLock(ctx, "rA", "a2", "wf1", taskspec.LockWrite, 0, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSharedPolicyAllowsMultipleReaders(t *testing.T) {
	c := coordinator.New()
	c.RegisterPolicy("rS", coordinator.Policy{Kind: coordinator.Shared})
	ctx := context.Background()

	ok1, err := c.AcquireLock(ctx, "rS", "a1", "wf1", taskspec.LockRead, 0, time.Second)
	require.NoError(t, err)
	ok2, err := c.AcquireLock(ctx, "rS", "a2", "wf1", taskspec.LockRead, 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestSharedPolicyExcludesWriterWhileReadersHold(t *testing.T) {
	c := coordinator.New()
	c.RegisterPolicy("rS", coordinator.Policy{Kind: coordinator.Shared})
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "rS", "a1", "wf1", taskspec.LockRead, 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.AcquireLock(ctx, "rS", "a2", "wf1", taskspec.LockWrite, 0, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestDeadlockDetectionScenario mirrors spec.md §8 scenario 2: a1 holds rA
// and waits on rB; a2 holds rB and waits on rA.
func TestDeadlockDetectionScenario(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "rA", "a1", "wf1", taskspec.LockWrite, 0, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.AcquireLock(ctx, "rB", "a2", "wf1", taskspec.LockWrite, 0, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	go c.AcquireLock(ctx, "rB", "a1", "wf1", taskspec.LockWrite, 0, 5*time.Second)
	go c.AcquireLock(ctx, "rA", "a2", "wf1", taskspec.LockWrite, 0, 5*time.Second)

	var result coordinator.DeadlockResult
	require.Eventually(t, func() bool {
		result = c.DetectDeadlock()
		return result.Detected
	}, 2*time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, []string{"a1", "a2"}, result.Cycle)
	assert.ElementsMatch(t, []string{"rA", "rB"}, result.AffectedResources)
}

func TestNoDeadlockWhenNoCycle(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()
	ok, err := c.AcquireLock(ctx, "rA", "a1", "wf1", taskspec.LockWrite, 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	result := c.DetectDeadlock()
	assert.False(t, result.Detected)
}

// TestOrderedPolicyGrantsQueuedWaitersInDeclaredOrder mirrors spec.md §4.4's
// Ordered coordination policy: a3 requests first and queues behind the
// current holder, but
// a1 and a2 (declared earlier in OrderedAgents) queue after and must still
// be granted the resource before a3 once the holder releases.
func TestOrderedPolicyGrantsQueuedWaitersInDeclaredOrder(t *testing.T) {
	c := coordinator.New()
	c.RegisterPolicy("rO", coordinator.Policy{Kind: coordinator.Ordered, OrderedAgents: []string{"a1", "a2", "a3"}})
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "rO", "holder", "wf1", taskspec.LockWrite, 0, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	grants := make(chan string, 3)
	waitOn := func(agentID string) {
		ok, _ := c.AcquireLock(ctx, "rO", agentID, "wf1", taskspec.LockWrite, 0, 5*time.Second)
		if ok {
			grants <- agentID
		}
	}

	go waitOn("a3")
	time.Sleep(20 * time.Millisecond)
	go waitOn("a2")
	time.Sleep(20 * time.Millisecond)
	go waitOn("a1")
	time.Sleep(20 * time.Millisecond) // let all three register as waiters before releasing

	require.NoError(t, c.ReleaseLock("rO", "holder", "wf1"))

	var order []string
	for i := 0; i < 3; i++ {
		select {
		case agentID := <-grants:
			order = append(order, agentID)
			require.NoError(t, c.ReleaseLock("rO", agentID, "wf1"))
		case <-time.After(2 * time.Second):
			t.Fatal("not all ordered waiters were granted the resource")
		}
	}
	assert.Equal(t, []string{"a1", "a2", "a3"}, order)
}

// TestPriorityPolicyPreemptsLowerPriorityWaitersInQueue mirrors spec.md
// §4.4's Priority coordination policy: a higher-priority agent queued after
// a lower-priority one is still granted the resource first.
func TestPriorityPolicyPreemptsLowerPriorityWaitersInQueue(t *testing.T) {
	c := coordinator.New()
	c.RegisterPolicy("rP", coordinator.Policy{Kind: coordinator.Priority})
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "rP", "holder", "wf1", taskspec.LockWrite, 0, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	grants := make(chan string, 2)
	waitOn := func(agentID string, priority int) {
		ok, _ := c.AcquireLock(ctx, "rP", agentID, "wf1", taskspec.LockWrite, priority, 5*time.Second)
		if ok {
			grants <- agentID
		}
	}

	go waitOn("low", 0)
	time.Sleep(20 * time.Millisecond)
	go waitOn("high", 10)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.ReleaseLock("rP", "holder", "wf1"))

	select {
	case agentID := <-grants:
		assert.Equal(t, "high", agentID)
		require.NoError(t, c.ReleaseLock("rP", agentID, "wf1"))
	case <-time.After(2 * time.Second):
		t.Fatal("higher-priority waiter was never granted the resource")
	}

	select {
	case agentID := <-grants:
		assert.Equal(t, "low", agentID)
	case <-time.After(2 * time.Second):
		t.Fatal("lower-priority waiter was never granted the resource")
	}
}

func TestSweepExpiredLocksReleasesPastExpiry(t *testing.T) {
	c := coordinator.New()
	ctx := context.Background()
	ok, err := c.AcquireLock(ctx, "rA", "a1", "wf1", taskspec.LockWrite, 0, time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(10 * time.Millisecond)
	expired := c.SweepExpiredLocks(time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, "a1", expired[0].AgentID)

	ok, err = c.AcquireLock(ctx, "rA", "a2", "wf1", taskspec.LockWrite, 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
