// Package taskspec defines the immutable workflow/task specification types
// and the mutable per-execution task state, per spec.md §3 ("Data Model").
package taskspec

import (
	"encoding/json"
	"time"
)

// TaskType distinguishes the three kinds of task a workflow can declare.
type TaskType string

const (
	// TaskAction invokes a tool to perform effectful or pure work.
	TaskAction TaskType = "action"
	// TaskDecision evaluates branching logic without invoking an external tool.
	TaskDecision TaskType = "decision"
	// TaskCompensation undoes a previously completed action task.
	TaskCompensation TaskType = "compensation"
)

// RiskTier is an ordered severity classification: LOW < MEDIUM < HIGH < CRITICAL.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String renders the tier using the spec's textual names.
func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// AtLeast reports whether r is at least as severe as other.
func (r RiskTier) AtLeast(other RiskTier) bool { return r >= other }

// RetryPolicy bounds how many times, and with what backoff, a failed task
// may be retried before it is considered terminally failed.
type RetryPolicy struct {
	// MaxAttempts caps the total number of attempts (including the first).
	// A value <= 1 means no retries.
	MaxAttempts int
	// BackoffMs is the delay applied before each retry attempt.
	BackoffMs int
}

// CompensationHook references the action that semantically undoes a task.
// Exactly one of ToolID or HookRef should be set; ToolID takes precedence
// when both are present.
type CompensationHook struct {
	// ToolID names a tool to invoke with Params as its compensation action.
	ToolID string
	// Params are the arguments passed to ToolID, or to HookRef if ToolID is empty.
	Params json.RawMessage
	// HookRef names a compensation hook registered out-of-band (e.g., by the
	// embedding service) when no single tool call can express the undo.
	HookRef string
}

// TaskSpec is the immutable description of one workflow task.
type TaskSpec struct {
	// ID uniquely identifies the task within its workflow.
	ID string
	// Name is a human-readable label.
	Name string
	// Type is the task kind (action, decision, compensation).
	Type TaskType
	// ToolID names the tool invoked by this task. Required for TaskAction;
	// unused by TaskDecision, which evaluates branching logic without
	// invoking a tool.
	ToolID string
	// Input is the payload passed to the tool.
	Input json.RawMessage
	// Retry controls the retry policy applied on retriable failures.
	Retry RetryPolicy
	// Timeout bounds the tool invocation. Zero (or a negative value) applies
	// the orchestrator's 30-second default.
	Timeout time.Duration
	// IdempotencyKey, if set, overrides the deterministically-derived outbox
	// idempotency key for this task's effectful invocations.
	IdempotencyKey string
	// Compensation references the action that undoes this task, if any.
	Compensation *CompensationHook
	// RiskTier classifies the severity of this task for policy/rollback gating.
	RiskTier RiskTier
	// RequiredPermissions lists permissions the acting principal must hold.
	RequiredPermissions []string
	// Resources lists shared resources this task must lock before execution,
	// along with the mode required (read or write).
	Resources []ResourceRequirement
	// Effectful marks whether tool invocation must route through the outbox.
	Effectful bool
	// CRVGates names the CRV gates (by name) run against this task's output.
	CRVGates []string
}

// ResourceRequirement declares a shared resource a task must lock.
type ResourceRequirement struct {
	Resource string
	Mode     LockMode
}

// LockMode is read or write, mirroring coordinator.LockMode without creating
// an import cycle between taskspec and coordinator.
type LockMode string

const (
	LockRead  LockMode = "read"
	LockWrite LockMode = "write"
)

// WorkflowSpec is the immutable description of a DAG of tasks.
type WorkflowSpec struct {
	// ID uniquely identifies the workflow definition.
	ID string
	// Tasks is the ordered set of tasks comprising the workflow. Order is
	// preserved for deterministic iteration but does not imply execution order;
	// execution order is governed by Dependencies.
	Tasks []TaskSpec
	// Dependencies maps a task ID to the set of task IDs that must complete
	// before it becomes eligible.
	Dependencies map[string][]string
	// SafetyPolicy optionally names a safety policy evaluated by the policy
	// guard collaborator before any task runs.
	SafetyPolicy string
}

// TaskByID returns the task with the given ID, or false if absent.
func (w WorkflowSpec) TaskByID(id string) (TaskSpec, bool) {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskSpec{}, false
}
