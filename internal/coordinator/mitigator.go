package coordinator

import (
	"context"
	"sort"
)

// Strategy selects how the mitigator resolves a detected deadlock or
// livelock.
type Strategy string

const (
	Abort    Strategy = "ABORT"
	Replan   Strategy = "REPLAN"
	Escalate Strategy = "ESCALATE"
)

// MitigationAction records one concrete step the mitigator took.
type MitigationAction struct {
	AgentID       string
	ReleasedLocks []Lock
	MarkedFailed  bool
	SignaledReplan bool
}

// MitigationResult is the outcome of applying a Strategy to a detected
// condition.
type MitigationResult struct {
	Strategy         Strategy
	Actions          []MitigationAction
	EscalatedContext any
}

// EscalationCallback is invoked by the ESCALATE strategy with full context
// about the detected condition; the mitigator does not unblock anything
// autonomously when this strategy is chosen.
type EscalationCallback func(ctx context.Context, reason string, detail any)

// Mitigator applies a Strategy to a detected deadlock or livelock
// condition.
type Mitigator struct {
	coordinator *Coordinator
	livelock    *LivelockDetector
	onEscalate  EscalationCallback
}

func NewMitigator(coordinator *Coordinator, livelock *LivelockDetector, onEscalate EscalationCallback) *Mitigator {
	return &Mitigator{coordinator: coordinator, livelock: livelock, onEscalate: onEscalate}
}

// MitigateDeadlock applies strategy to a detected deadlock's cycle.
func (m *Mitigator) MitigateDeadlock(ctx context.Context, result DeadlockResult, strategy Strategy) MitigationResult {
	if !result.Detected {
		return MitigationResult{Strategy: strategy}
	}
	switch strategy {
	case Abort:
		victim := m.pickVictim(result.Cycle, mostResources)
		return MitigationResult{Strategy: strategy, Actions: []MitigationAction{m.abortAgent(victim)}}
	case Replan:
		victim := m.pickVictim(result.Cycle, fewestResources)
		return MitigationResult{Strategy: strategy, Actions: []MitigationAction{m.releaseForReplan(victim)}}
	case Escalate:
		if m.onEscalate != nil {
			m.onEscalate(ctx, "deadlock", result)
		}
		return MitigationResult{Strategy: strategy, EscalatedContext: result}
	default:
		return MitigationResult{Strategy: strategy}
	}
}

// MitigateLivelock applies strategy to a detected livelock condition. For
// livelock, every agent named in implicated is affected (spec.md's "abort
// all implicated agents" / "clear state history so agents retry" language
// applies to the whole set, not a single picked victim as with deadlock).
func (m *Mitigator) MitigateLivelock(ctx context.Context, result LivelockResult, implicated []string, strategy Strategy) MitigationResult {
	if !result.Detected {
		return MitigationResult{Strategy: strategy}
	}
	if len(implicated) == 0 {
		implicated = []string{result.AgentID}
	}
	switch strategy {
	case Abort:
		var actions []MitigationAction
		for _, agent := range implicated {
			actions = append(actions, m.abortAgent(agent))
			m.livelock.ClearHistory(agent)
		}
		return MitigationResult{Strategy: strategy, Actions: actions}
	case Replan:
		for _, agent := range implicated {
			m.livelock.ClearHistory(agent)
		}
		return MitigationResult{Strategy: strategy, Actions: []MitigationAction{{SignaledReplan: true}}}
	case Escalate:
		if m.onEscalate != nil {
			m.onEscalate(ctx, "livelock", result)
		}
		return MitigationResult{Strategy: strategy, EscalatedContext: result}
	default:
		return MitigationResult{Strategy: strategy}
	}
}

func mostResources(counts map[string]int) string  { return extremeBy(counts, func(a, b int) bool { return a > b }) }
func fewestResources(counts map[string]int) string { return extremeBy(counts, func(a, b int) bool { return a < b }) }

func extremeBy(counts map[string]int, better func(a, b int) bool) string {
	agents := make([]string, 0, len(counts))
	for a := range counts {
		agents = append(agents, a)
	}
	sort.Strings(agents) // deterministic tie-break
	best := agents[0]
	for _, a := range agents[1:] {
		if better(counts[a], counts[best]) {
			best = a
		}
	}
	return best
}

func (m *Mitigator) pickVictim(cycle []string, pick func(map[string]int) string) string {
	counts := make(map[string]int, len(cycle))
	for _, agent := range cycle {
		counts[agent] = len(m.coordinator.LocksHeldBy(agent))
	}
	return pick(counts)
}

func (m *Mitigator) abortAgent(agentID string) MitigationAction {
	held := m.coordinator.LocksHeldBy(agentID)
	for _, l := range held {
		_ = m.coordinator.ReleaseLock(l.Resource, agentID, l.WorkflowID)
	}
	return MitigationAction{AgentID: agentID, ReleasedLocks: held, MarkedFailed: true}
}

func (m *Mitigator) releaseForReplan(agentID string) MitigationAction {
	held := m.coordinator.LocksHeldBy(agentID)
	for _, l := range held {
		_ = m.coordinator.ReleaseLock(l.Resource, agentID, l.WorkflowID)
	}
	return MitigationAction{AgentID: agentID, ReleasedLocks: held, SignaledReplan: true}
}
