package coordinator

import (
	"sync"
	"time"
)

// LivelockPatternKind identifies which pattern a livelock detection matched.
type LivelockPatternKind string

const (
	PatternAlternating LivelockPatternKind = "ALTERNATING"
	PatternCyclic      LivelockPatternKind = "CYCLIC"
	PatternNoProgress  LivelockPatternKind = "NO_PROGRESS"
)

// LivelockResult reports a detected livelock pattern for one agent.
type LivelockResult struct {
	Detected bool
	AgentID  string
	Pattern  LivelockPatternKind
}

// LivelockDetectorOptions configures detection thresholds, defaulted per
// spec.md §4.4.
type LivelockDetectorOptions struct {
	WindowSize          int           // default 10
	AlternatingThreshold int          // default 3 (k repetitions of ABAB...)
	CyclicThreshold      int          // default 3 (repetition count of a period-p block)
	ProgressTimeout      time.Duration // default 60s
}

func (o LivelockDetectorOptions) withDefaults() LivelockDetectorOptions {
	if o.WindowSize <= 0 {
		o.WindowSize = 10
	}
	if o.AlternatingThreshold <= 0 {
		o.AlternatingThreshold = 3
	}
	if o.CyclicThreshold <= 0 {
		o.CyclicThreshold = 3
	}
	if o.ProgressTimeout <= 0 {
		o.ProgressTimeout = 60 * time.Second
	}
	return o
}

type tick struct {
	stateHash string
	at        time.Time
}

// LivelockDetector records each agent's state hash on every scheduler tick
// in a fixed-size ring buffer and checks for alternating, cyclic, and
// no-progress patterns.
type LivelockDetector struct {
	mu      sync.Mutex
	opts    LivelockDetectorOptions
	history map[string][]tick // agent -> ring buffer, oldest first
}

func NewLivelockDetector(opts LivelockDetectorOptions) *LivelockDetector {
	return &LivelockDetector{
		opts:    opts.withDefaults(),
		history: make(map[string][]tick),
	}
}

// RecordTick appends a new observation for agentID, evicting the oldest
// entry once the window size is exceeded.
func (d *LivelockDetector) RecordTick(agentID, stateHash string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := append(d.history[agentID], tick{stateHash: stateHash, at: at})
	if len(h) > d.opts.WindowSize {
		h = h[len(h)-d.opts.WindowSize:]
	}
	d.history[agentID] = h
}

// ClearHistory discards an agent's recorded ticks, used by the mitigator's
// REPLAN and ABORT strategies to give an agent a fresh context.
func (d *LivelockDetector) ClearHistory(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, agentID)
}

// Detect evaluates agentID's recorded history against all three patterns,
// checked in the order no-progress, alternating, cyclic.
func (d *LivelockDetector) Detect(agentID string, now time.Time) LivelockResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.history[agentID]

	if kind, ok := detectNoProgress(h, now, d.opts.ProgressTimeout); ok {
		return LivelockResult{Detected: true, AgentID: agentID, Pattern: kind}
	}
	if detectAlternating(h, d.opts.AlternatingThreshold) {
		return LivelockResult{Detected: true, AgentID: agentID, Pattern: PatternAlternating}
	}
	if detectCyclic(h, d.opts.CyclicThreshold) {
		return LivelockResult{Detected: true, AgentID: agentID, Pattern: PatternCyclic}
	}
	return LivelockResult{Detected: false, AgentID: agentID}
}

func detectNoProgress(h []tick, now time.Time, timeout time.Duration) (LivelockPatternKind, bool) {
	if len(h) == 0 {
		return "", false
	}
	last := h[len(h)-1]
	runStart := len(h) - 1
	for i := len(h) - 2; i >= 0; i-- {
		if h[i].stateHash != last.stateHash {
			break
		}
		runStart = i
	}
	if now.Sub(h[runStart].at) >= timeout {
		return PatternNoProgress, true
	}
	return "", false
}

// detectAlternating checks whether the last 2k entries form an ABAB...
// pattern for k >= threshold.
func detectAlternating(h []tick, threshold int) bool {
	need := threshold * 2
	if len(h) < need {
		return false
	}
	window := h[len(h)-need:]
	a, b := window[0].stateHash, window[1].stateHash
	if a == b {
		return false
	}
	for i, t := range window {
		want := a
		if i%2 == 1 {
			want = b
		}
		if t.stateHash != want {
			return false
		}
	}
	return true
}

// detectCyclic checks whether the tail of h consists of a repeating block
// of some period p < windowSize, repeated at least threshold times.
func detectCyclic(h []tick, threshold int) bool {
	n := len(h)
	for p := 1; p <= n/2; p++ {
		reps := n / p
		if reps < threshold {
			continue
		}
		used := reps * p
		tail := h[n-used:]
		if isPeriodic(tail, p) {
			return true
		}
	}
	return false
}

func isPeriodic(h []tick, period int) bool {
	for i := period; i < len(h); i++ {
		if h[i].stateHash != h[i-period].stateHash {
			return false
		}
	}
	return true
}
