// Package outbox implements the durable side-effect layer: exactly-once-
// observable execution of effectful tool calls across retries and process
// restarts, per spec.md §4.2 and §6 ("Outbox" contract, on-disk layout).
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State is the outbox entry state machine: PENDING -> PROCESSING ->
// {COMMITTED | FAILED}, with FAILED -> PENDING on retry and
// FAILED -> DEAD_LETTER when attempts reach max. COMMITTED and DEAD_LETTER
// are terminal.
type State string

const (
	Pending    State = "PENDING"
	Processing State = "PROCESSING"
	Committed  State = "COMMITTED"
	Failed     State = "FAILED"
	DeadLetter State = "DEAD_LETTER"
)

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool {
	return s == Committed || s == DeadLetter
}

// ErrNotFound is returned when an entry id or idempotency key is unknown.
var ErrNotFound = errors.New("outbox: not found")

// ErrAttemptsExhausted is returned by Execute when an entry is already
// DEAD_LETTER.
var ErrAttemptsExhausted = errors.New("outbox: attempts exhausted")

// Entry is one outbox record. Invariants: at most one COMMITTED entry per
// idempotency key; a COMMITTED entry is immutable; Attempts never
// decreases; DEAD_LETTER is reached only when Attempts >= MaxAttempts.
type Entry struct {
	ID             string
	WorkflowID     string
	TaskID         string
	ToolID         string
	Input          json.RawMessage
	IdempotencyKey string
	State          State
	Attempts       int
	MaxAttempts    int
	Result         json.RawMessage
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CommittedAt    time.Time
}

// Executor performs the actual effectful tool call. It is invoked at most
// once per attempt; the outbox is responsible for not invoking it again
// once an entry reaches COMMITTED.
type Executor func(ctx context.Context) (json.RawMessage, error)

// ReconcileOptions configures a reconciliation sweep.
type ReconcileOptions struct {
	// MaxAge is the stuck-PROCESSING threshold; entries PROCESSING longer
	// than this reset to PENDING. Zero uses the store's configured default
	// (spec.md default: 5 minutes).
	MaxAge time.Duration
	// AutoRetry, when true, resets FAILED entries with Attempts < MaxAttempts
	// back to PENDING.
	AutoRetry bool
	// OnReconcile, if set, is invoked for every entry that surfaces as
	// DEAD_LETTER during the sweep.
	OnReconcile func(Entry)
}

// Store is the outbox persistence contract. Implementations must serialise
// per-idempotency-key work: two concurrent Execute calls with the same key
// must not both invoke the executor.
type Store interface {
	// Execute looks up entry by idempotencyKey; if COMMITTED, returns the
	// stored result without invoking executor. Otherwise it atomically
	// transitions (creating the entry if absent) to PROCESSING, runs
	// executor, then marks COMMITTED (storing the result) or FAILED
	// (incrementing attempts, then DEAD_LETTER if attempts reach max).
	Execute(ctx context.Context, workflowID, taskID, toolID string, input json.RawMessage, idempotencyKey string, maxAttempts int, executor Executor) (Entry, error)
	// GetByID returns the entry with id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (Entry, error)
	// GetByIdempotencyKey returns the entry for key, or ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (Entry, error)
	// Reconcile scans non-terminal entries per opts and returns how many
	// entries it reset to PENDING.
	Reconcile(ctx context.Context, opts ReconcileOptions) (int, error)
	// Cleanup deletes COMMITTED entries older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}
