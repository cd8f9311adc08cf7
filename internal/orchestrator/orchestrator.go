// Package orchestrator implements the workflow orchestrator: executing a
// workflow to a terminal state while honouring dependencies, retries,
// timeouts, and saga-style compensation, per spec.md §4.1.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowkernel/kernel/internal/collaborators"
	"github.com/flowkernel/kernel/internal/coordinator"
	"github.com/flowkernel/kernel/internal/crv"
	"github.com/flowkernel/kernel/internal/eventlog"
	"github.com/flowkernel/kernel/internal/kernelerrors"
	"github.com/flowkernel/kernel/internal/outbox"
	"github.com/flowkernel/kernel/internal/snapshot"
	"github.com/flowkernel/kernel/internal/state"
	"github.com/flowkernel/kernel/internal/taskspec"
	"github.com/flowkernel/kernel/internal/telemetry"
)

// Tool is an invocable unit of work a task's ToolID names.
type Tool interface {
	Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Invoke implements Tool.
func (f ToolFunc) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return f(ctx, input)
}

// ToolRegistry resolves a task's ToolID to an invocable Tool.
type ToolRegistry interface {
	Lookup(toolID string) (Tool, bool)
}

// MapToolRegistry is a ToolRegistry backed by a plain map, sufficient for
// single-process deployments and tests.
type MapToolRegistry map[string]Tool

// Lookup implements ToolRegistry.
func (m MapToolRegistry) Lookup(toolID string) (Tool, bool) {
	t, ok := m[toolID]
	return t, ok
}

// Config collects every collaborator the orchestrator depends on. All
// fields except Gates and RecoveryExecutor are required; Design Notes
// ("Ambient/global collaborator objects") prefers this explicit struct over
// threading individually-optional constructor fields.
type Config struct {
	State       state.Store
	Outbox      outbox.Store
	EventLog    eventlog.Log
	Snapshots   snapshot.Store
	Coordinator *coordinator.Coordinator
	Tools       ToolRegistry
	PolicyGuard collaborators.PolicyGuard
	Feasibility collaborators.FeasibilityChecker
	// Gates maps a CRV gate name (as named by TaskSpec.CRVGates) to the gate
	// definition run against that task's tool output.
	Gates map[string]crv.Gate
	// RecoveryExecutor carries out a blocked gate's recovery strategy. May
	// be nil, in which case recovery intent is recorded but never executed.
	RecoveryExecutor crv.RecoveryExecutor
	// LockTimeout bounds how long a task waits to acquire a declared
	// resource lock before the attempt fails as a retriable CONFLICT.
	LockTimeout time.Duration
	// MaxTaskConcurrency is not read by the orchestrator: the eligible
	// tasks of one advance step always run sequentially.
	MaxTaskConcurrency int
	// DefaultMaxAttempts is the outbox's own per-entry attempt ceiling
	// (spec.md §6 Outbox config option "defaultMaxAttempts"), applied
	// whenever an outbox entry must survive more than one invocation under
	// the same idempotency key: an explicit TaskSpec.IdempotencyKey (stable
	// across every orchestrator-level retry of that task) and compensation
	// hooks (which have no outer retry loop of their own).
	DefaultMaxAttempts int
	Logger             telemetry.Logger
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	if c.Logger == nil {
		c.Logger = telemetry.NewNoopLogger()
	}
	return c
}

// Orchestrator drives workflow executions against a fixed set of
// collaborators. A single Orchestrator instance may run many workflows
// concurrently; each ExecuteWorkflow call owns its own run state.
type Orchestrator struct {
	cfg Config
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg.withDefaults()}
}

// WorkflowStatus is the terminal (or in-flight) status of a workflow run.
type WorkflowStatus string

const (
	WorkflowRunning              WorkflowStatus = "running"
	WorkflowCompleted            WorkflowStatus = "completed"
	WorkflowFailed               WorkflowStatus = "failed"
	WorkflowCompensated          WorkflowStatus = "compensated"
	WorkflowPartiallyCompensated WorkflowStatus = "partially_compensated"
)

// WorkflowResult is the outcome of a completed ExecuteWorkflow call.
type WorkflowResult struct {
	Run        WorkflowRun
	Status     WorkflowStatus
	TaskStates map[string]taskspec.TaskState
}

// attemptFailure is the outcome of one failed runAttempt. Retriable governs
// whether runTask re-enters at step 3 (lock acquisition) after backoff;
// it is independent of kernelerrors.Code.Retriable() because some failures
// (policy denial, CRV block) are never retried regardless of their code's
// general classification.
type attemptFailure struct {
	err       *kernelerrors.KernelError
	retriable bool
}

func (f *attemptFailure) Error() string {
	if f == nil || f.err == nil {
		return ""
	}
	return f.err.Error()
}

func nonRetriable(err *kernelerrors.KernelError) *attemptFailure {
	return &attemptFailure{err: err, retriable: false}
}

func retriableIf(err *kernelerrors.KernelError) *attemptFailure {
	return &attemptFailure{err: err, retriable: err.Code.Retriable()}
}
