// Package collaborators defines the external-collaborator contracts the
// orchestrator consumes but does not own the internals of: the policy
// guard, the feasibility checker, and the tool sandbox, per spec.md §6
// ("External interfaces") and the adjacent-packages note in §1. Default
// implementations are provided for single-process deployments; production
// deployments are expected to supply their own, matching the teacher's
// policy.Engine pattern of "sane default, pluggable interface".
package collaborators

import (
	"context"

	"github.com/flowkernel/kernel/internal/taskspec"
)

// Principal identifies the actor on whose behalf a task executes. It
// mirrors the teacher's run.Context label-bag approach rather than a fixed
// identity struct, since principal shape is deployment-specific.
type Principal struct {
	ID     string
	Roles  []string
	Labels map[string]string
}

// Action describes the operation a PolicyGuard is asked to evaluate.
type Action struct {
	ToolID     string
	WorkflowID string
	TaskID     string
	RiskTier   taskspec.RiskTier
	Permissions []string
}

// PolicyDecision is the outcome of a PolicyGuard evaluation.
type PolicyDecision struct {
	Allowed              bool
	Reason               string
	RequiresHumanApproval bool
}

// PolicyGuard evaluates whether a principal may perform an action. The
// orchestrator invokes it as the first per-task protocol step and again
// before rollback for HIGH/CRITICAL risk tiers.
type PolicyGuard interface {
	Evaluate(ctx context.Context, principal Principal, action Action) (PolicyDecision, error)
}

// ConstraintValidation reports whether a task's declared world-state
// constraints (if any) are currently satisfied.
type ConstraintValidation struct {
	Satisfied bool
	Reasons   []string
}

// ToolCapabilityCheck reports whether a tool is available and its declared
// capabilities match what the task requires.
type ToolCapabilityCheck struct {
	Available      bool
	CapabilityMatch bool
	Reasons        []string
}

// FeasibilityResult is the outcome of a FeasibilityChecker evaluation.
type FeasibilityResult struct {
	Feasible             bool
	Reasons              []string
	ConstraintValidation *ConstraintValidation
	ToolCapabilityCheck  *ToolCapabilityCheck
	ConfidenceScore      float64
}

// FeasibilityChecker verifies tool availability, capability match,
// risk-tier compatibility, and optional world-state constraint
// satisfaction before a task is allowed to invoke its tool.
type FeasibilityChecker interface {
	CheckFeasibility(ctx context.Context, task taskspec.TaskSpec) (FeasibilityResult, error)
}

// SandboxResult carries the outcome of a capture-only (simulated) tool
// invocation: the tool ran against a simulation context key instead of
// live side effects, and its would-be output is returned for inspection.
type SandboxResult struct {
	SimulatedOutput []byte
	WouldSucceed    bool
	Notes           string
}

// Sandbox executes a tool invocation in capture-only mode, used when a
// task's tool is effectful but the caller wants to preview its outcome
// without committing a side effect through the outbox.
type Sandbox interface {
	Simulate(ctx context.Context, toolID string, input []byte) (SandboxResult, error)
}
