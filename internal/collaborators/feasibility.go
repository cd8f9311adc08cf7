package collaborators

import (
	"context"

	"github.com/flowkernel/kernel/internal/taskspec"
)

// ToolRegistry reports what BasicFeasibilityChecker needs to know about a
// tool: whether it exists and what it declares.
type ToolRegistry interface {
	Lookup(toolID string) (ToolDescriptor, bool)
}

// ToolDescriptor is the subset of a tool's registration relevant to a
// feasibility check.
type ToolDescriptor struct {
	Available    bool
	Capabilities []string
	MaxRiskTier  taskspec.RiskTier
}

// ConstraintChecker evaluates a task's declared world-state constraints, if
// any. It is optional: BasicFeasibilityChecker treats a nil ConstraintChecker
// as "no constraints to check".
type ConstraintChecker interface {
	Check(ctx context.Context, task taskspec.TaskSpec) (ConstraintValidation, error)
}

// BasicFeasibilityChecker verifies tool availability, capability match, and
// risk-tier compatibility against a ToolRegistry, and optionally consults a
// ConstraintChecker over world-state constraints.
//
// ConfidenceScore aggregates the individual per-check signals (capability
// match, risk-tier compatibility, constraint satisfaction) by taking their
// minimum rather than their average: a feasibility gate should be no more
// confident than its weakest signal, since an average lets one
// high-confidence check mask a low-confidence one.
type BasicFeasibilityChecker struct {
	Registry   ToolRegistry
	Constraint ConstraintChecker
}

func NewBasicFeasibilityChecker(registry ToolRegistry, constraint ConstraintChecker) *BasicFeasibilityChecker {
	return &BasicFeasibilityChecker{Registry: registry, Constraint: constraint}
}

func (c *BasicFeasibilityChecker) CheckFeasibility(ctx context.Context, task taskspec.TaskSpec) (FeasibilityResult, error) {
	desc, found := c.Registry.Lookup(task.ToolID)
	if !found || !desc.Available {
		return FeasibilityResult{
			Feasible: false,
			Reasons:  []string{"tool " + task.ToolID + " is not available"},
			ToolCapabilityCheck: &ToolCapabilityCheck{
				Available: false,
			},
			ConfidenceScore: 0,
		}, nil
	}

	scores := make([]float64, 0, 3)
	var reasons []string

	capMatch := true
	for _, required := range task.RequiredPermissions {
		if !containsString(desc.Capabilities, required) {
			capMatch = false
			reasons = append(reasons, "tool "+task.ToolID+" lacks capability "+required)
		}
	}
	capCheck := &ToolCapabilityCheck{Available: true, CapabilityMatch: capMatch}
	if capMatch {
		scores = append(scores, 1.0)
	} else {
		scores = append(scores, 0.0)
	}

	riskOK := !task.RiskTier.AtLeast(desc.MaxRiskTier + 1)
	if !riskOK {
		reasons = append(reasons, "task risk tier "+task.RiskTier.String()+" exceeds tool's declared ceiling")
		scores = append(scores, 0.0)
	} else {
		scores = append(scores, 1.0)
	}

	var constraintResult *ConstraintValidation
	if c.Constraint != nil {
		cv, err := c.Constraint.Check(ctx, task)
		if err != nil {
			return FeasibilityResult{}, err
		}
		constraintResult = &cv
		if cv.Satisfied {
			scores = append(scores, 1.0)
		} else {
			scores = append(scores, 0.0)
			reasons = append(reasons, cv.Reasons...)
		}
	}

	confidence := minOf(scores)
	return FeasibilityResult{
		Feasible:             capMatch && riskOK && (constraintResult == nil || constraintResult.Satisfied),
		Reasons:              reasons,
		ConstraintValidation: constraintResult,
		ToolCapabilityCheck:  capCheck,
		ConfidenceScore:      confidence,
	}, nil
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 1.0
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
