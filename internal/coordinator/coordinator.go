// Package coordinator implements the multi-agent coordinator: resource
// locking with pluggable coordination policies, wait-for graph tracking,
// deadlock detection, and a periodic timeout sweeper, per spec.md §4.4.
//
// No teacher or pack example implements a lock table or wait-for graph, so
// this package is grounded more loosely than the others: the
// sync.Mutex-guarded-map idiom already used throughout registry/store and
// the three-color DFS cycle-detection idiom already adapted in
// internal/taskspec are both reused here.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowkernel/kernel/internal/taskspec"
)

// PolicyKind selects how a resource arbitrates concurrent access.
type PolicyKind int

const (
	// Exclusive allows exactly one holder (reader or writer) at a time.
	Exclusive PolicyKind = iota
	// Shared allows many concurrent readers but an exclusive writer;
	// MaxConcurrentAccess, if positive, caps simultaneous readers.
	Shared
	// Ordered requires agents to acquire the resource in a declared
	// priority order; an agent earlier in OrderedAgents always wins ties.
	Ordered
	// Priority allows a higher-priority agent to preempt waiters (not
	// current holders) queued behind a lower-priority one.
	Priority
)

// Policy configures how a single resource is arbitrated.
type Policy struct {
	Kind                PolicyKind
	MaxConcurrentAccess int      // Shared only; 0 means unlimited.
	OrderedAgents       []string // Ordered only; earlier entries have priority.
}

// Lock describes one held lock on a resource.
type Lock struct {
	Resource   string
	AgentID    string
	WorkflowID string
	Mode       taskspec.LockMode
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Priority   int
}

// waiter is an agent blocked on a resource, parked in AcquireLock until it
// is granted, times out, or its context is cancelled.
type waiter struct {
	agentID    string
	workflowID string
	mode       taskspec.LockMode
	priority   int
	granted    chan bool
}

// Coordinator mediates access to shared resources across concurrent
// workflow executions.
type Coordinator struct {
	mu       sync.Mutex
	policies map[string]Policy
	holders  map[string][]Lock // resource -> current holders
	waiters  map[string][]*waiter
	waitFor  map[string]map[string]struct{} // agent -> set of agents it waits on
}

func New() *Coordinator {
	return &Coordinator{
		policies: make(map[string]Policy),
		holders:  make(map[string][]Lock),
		waiters:  make(map[string][]*waiter),
		waitFor:  make(map[string]map[string]struct{}),
	}
}

// RegisterPolicy attaches a coordination policy to a resource. Resources
// with no registered policy default to Exclusive.
func (c *Coordinator) RegisterPolicy(resource string, policy Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[resource] = policy
}

func (c *Coordinator) policyFor(resource string) Policy {
	if p, ok := c.policies[resource]; ok {
		return p
	}
	return Policy{Kind: Exclusive}
}

// AcquireLock attempts to acquire resource for agentID on behalf of
// workflowID. If the resource is currently held incompatibly, it registers
// a wait-for edge from agentID to every current holder and blocks until
// granted, ctx is cancelled, or timeout elapses — whichever comes first.
// priority is consulted only under the Priority policy; higher values win.
func (c *Coordinator) AcquireLock(ctx context.Context, resource, agentID, workflowID string, mode taskspec.LockMode, priority int, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	if c.tryGrant(resource, agentID, workflowID, mode, priority, timeout) {
		c.mu.Unlock()
		return true, nil
	}

	w := &waiter{agentID: agentID, workflowID: workflowID, mode: mode, priority: priority, granted: make(chan bool, 1)}
	c.enqueueWaiter(resource, w)
	c.registerWaitFor(resource, agentID)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ok := <-w.granted:
		return ok, nil
	case <-timer.C:
		c.abandonWaiter(resource, w)
		return false, nil
	case <-ctx.Done():
		c.abandonWaiter(resource, w)
		return false, ctx.Err()
	}
}

// tryGrant attempts an immediate grant under c.mu held. Returns true and
// records the lock if granted.
func (c *Coordinator) tryGrant(resource, agentID, workflowID string, mode taskspec.LockMode, priority int, timeout time.Duration) bool {
	policy := c.policyFor(resource)
	current := c.holders[resource]

	if !compatible(policy, current, mode) {
		return false
	}
	if policy.Kind == Ordered && !orderedTurnRespected(policy, c.waiters[resource], agentID) {
		return false
	}

	lock := Lock{
		Resource:   resource,
		AgentID:    agentID,
		WorkflowID: workflowID,
		Mode:       mode,
		AcquiredAt: time.Now(),
		ExpiresAt:  time.Now().Add(timeout),
		Priority:   priority,
	}
	c.holders[resource] = append(c.holders[resource], lock)
	return true
}

func compatible(policy Policy, current []Lock, mode taskspec.LockMode) bool {
	if len(current) == 0 {
		return true
	}
	switch policy.Kind {
	case Shared:
		if mode == taskspec.LockWrite {
			return false
		}
		for _, l := range current {
			if l.Mode == taskspec.LockWrite {
				return false
			}
		}
		if policy.MaxConcurrentAccess > 0 && len(current) >= policy.MaxConcurrentAccess {
			return false
		}
		return true
	default: // Exclusive, Ordered, Priority all behave as exclusive for holding purposes.
		return false
	}
}

// orderedTurnRespected reports whether agentID may acquire the resource now
// under Ordered: true unless some other agent with an earlier position in
// policy.OrderedAgents is already queued waiting for the same resource.
// Agents absent from OrderedAgents are unordered and never block, or are
// blocked by, a listed agent.
func orderedTurnRespected(policy Policy, waiting []*waiter, agentID string) bool {
	rank, ranked := orderedRank(policy, agentID)
	if !ranked {
		return true
	}
	for _, w := range waiting {
		if w.agentID == agentID {
			continue
		}
		if wr, ok := orderedRank(policy, w.agentID); ok && wr < rank {
			return false
		}
	}
	return true
}

// orderedRank returns agentID's position in policy.OrderedAgents (lower is
// earlier/higher-priority), or false if agentID is not listed.
func orderedRank(policy Policy, agentID string) (int, bool) {
	for i, a := range policy.OrderedAgents {
		if a == agentID {
			return i, true
		}
	}
	return 0, false
}

func (c *Coordinator) enqueueWaiter(resource string, w *waiter) {
	queue := append(c.waiters[resource], w)
	sortWaiters(queue, c.policies[resource])
	c.waiters[resource] = queue
}

func sortWaiters(queue []*waiter, policy Policy) {
	switch policy.Kind {
	case Priority:
		// Stable insertion sort: higher priority first, ties preserve arrival order.
		for i := 1; i < len(queue); i++ {
			j := i
			for j > 0 && queue[j].priority > queue[j-1].priority {
				queue[j], queue[j-1] = queue[j-1], queue[j]
				j--
			}
		}
	case Ordered:
		// Stable insertion sort by position in policy.OrderedAgents; agents
		// absent from the list sort after every listed agent.
		for i := 1; i < len(queue); i++ {
			j := i
			for j > 0 && orderedLess(policy, queue[j].agentID, queue[j-1].agentID) {
				queue[j], queue[j-1] = queue[j-1], queue[j]
				j--
			}
		}
	}
}

// orderedLess reports whether agent a should be queued ahead of agent b
// under policy's declared OrderedAgents sequence.
func orderedLess(policy Policy, a, b string) bool {
	ra, aok := orderedRank(policy, a)
	rb, bok := orderedRank(policy, b)
	if aok && bok {
		return ra < rb
	}
	return aok && !bok
}

func (c *Coordinator) registerWaitFor(resource, agentID string) {
	if c.waitFor[agentID] == nil {
		c.waitFor[agentID] = make(map[string]struct{})
	}
	for _, l := range c.holders[resource] {
		if l.AgentID != agentID {
			c.waitFor[agentID][l.AgentID] = struct{}{}
		}
	}
}

func (c *Coordinator) abandonWaiter(resource string, w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.waiters[resource]
	for i, q := range queue {
		if q == w {
			c.waiters[resource] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	delete(c.waitFor, w.agentID)
}

// ReleaseLock releases resource held by agentID on behalf of workflowID,
// removing wait-for edges rooted at agentID, and grants the next compatible
// waiter(s) atomically under the coordinator's internal serialisation.
func (c *Coordinator) ReleaseLock(resource, agentID, workflowID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	holders := c.holders[resource]
	found := false
	remaining := holders[:0]
	for _, l := range holders {
		if l.AgentID == agentID && l.WorkflowID == workflowID {
			found = true
			continue
		}
		remaining = append(remaining, l)
	}
	if !found {
		return fmt.Errorf("coordinator: agent %q holds no lock on resource %q for workflow %q", agentID, resource, workflowID)
	}
	c.holders[resource] = remaining
	delete(c.waitFor, agentID)

	c.drainWaiters(resource)
	return nil
}

// drainWaiters grants the resource to as many queued waiters as the
// policy permits, in queue order. Must be called with c.mu held.
func (c *Coordinator) drainWaiters(resource string) {
	queue := c.waiters[resource]
	policy := c.policyFor(resource)
	var stillWaiting []*waiter
	for _, w := range queue {
		if compatible(policy, c.holders[resource], w.mode) {
			lock := Lock{
				Resource:   resource,
				AgentID:    w.agentID,
				WorkflowID: w.workflowID,
				Mode:       w.mode,
				AcquiredAt: time.Now(),
				Priority:   w.priority,
			}
			c.holders[resource] = append(c.holders[resource], lock)
			delete(c.waitFor, w.agentID)
			w.granted <- true
		} else {
			stillWaiting = append(stillWaiting, w)
		}
	}
	c.waiters[resource] = stillWaiting
}

// SweepExpiredLocks releases every lock whose ExpiresAt has passed as of
// now, draining any waiters it frees up. Intended to be invoked
// periodically by a caller-owned ticker.
func (c *Coordinator) SweepExpiredLocks(now time.Time) []Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []Lock
	for resource, holders := range c.holders {
		var remaining []Lock
		for _, l := range holders {
			if !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt) {
				expired = append(expired, l)
				delete(c.waitFor, l.AgentID)
				continue
			}
			remaining = append(remaining, l)
		}
		c.holders[resource] = remaining
	}
	for _, l := range expired {
		c.drainWaiters(l.Resource)
	}
	return expired
}
