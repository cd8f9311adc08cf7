package collaborators_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkernel/kernel/internal/collaborators"
	"github.com/flowkernel/kernel/internal/taskspec"
)

type fakeRegistry map[string]collaborators.ToolDescriptor

func (r fakeRegistry) Lookup(toolID string) (collaborators.ToolDescriptor, bool) {
	d, ok := r[toolID]
	return d, ok
}

type fakeConstraintChecker struct {
	result collaborators.ConstraintValidation
	err    error
}

func (f fakeConstraintChecker) Check(_ context.Context, _ taskspec.TaskSpec) (collaborators.ConstraintValidation, error) {
	return f.result, f.err
}

func TestFeasibilityCheckerUnavailableTool(t *testing.T) {
	checker := collaborators.NewBasicFeasibilityChecker(fakeRegistry{}, nil)
	result, err := checker.CheckFeasibility(context.Background(), taskspec.TaskSpec{ToolID: "missing"})
	require.NoError(t, err)
	assert.False(t, result.Feasible)
	assert.Equal(t, 0.0, result.ConfidenceScore)
}

func TestFeasibilityCheckerCapabilityMismatchLowersConfidence(t *testing.T) {
	registry := fakeRegistry{
		"transfer_funds": {Available: true, Capabilities: []string{"read"}, MaxRiskTier: taskspec.RiskCritical},
	}
	checker := collaborators.NewBasicFeasibilityChecker(registry, nil)
	result, err := checker.CheckFeasibility(context.Background(), taskspec.TaskSpec{
		ToolID:              "transfer_funds",
		RequiredPermissions: []string{"write"},
		RiskTier:            taskspec.RiskLow,
	})
	require.NoError(t, err)
	assert.False(t, result.Feasible)
	// Capability check fails (0.0), risk check passes (1.0): min confidence is 0.
	assert.Equal(t, 0.0, result.ConfidenceScore)
}

func TestFeasibilityCheckerRiskTierExceedsCeiling(t *testing.T) {
	registry := fakeRegistry{
		"send_email": {Available: true, MaxRiskTier: taskspec.RiskMedium},
	}
	checker := collaborators.NewBasicFeasibilityChecker(registry, nil)
	result, err := checker.CheckFeasibility(context.Background(), taskspec.TaskSpec{
		ToolID:   "send_email",
		RiskTier: taskspec.RiskCritical,
	})
	require.NoError(t, err)
	assert.False(t, result.Feasible)
}

func TestFeasibilityCheckerConstraintFailureLowersConfidenceWithoutMaskingByOthers(t *testing.T) {
	registry := fakeRegistry{
		"book_flight": {Available: true, MaxRiskTier: taskspec.RiskCritical},
	}
	constraint := fakeConstraintChecker{result: collaborators.ConstraintValidation{Satisfied: false, Reasons: []string{"seat unavailable"}}}
	checker := collaborators.NewBasicFeasibilityChecker(registry, constraint)
	result, err := checker.CheckFeasibility(context.Background(), taskspec.TaskSpec{ToolID: "book_flight", RiskTier: taskspec.RiskLow})
	require.NoError(t, err)
	assert.False(t, result.Feasible)
	assert.Equal(t, 0.0, result.ConfidenceScore)
	assert.Contains(t, result.Reasons, "seat unavailable")
}

func TestFeasibilityCheckerAllSignalsPassYieldsFullConfidence(t *testing.T) {
	registry := fakeRegistry{
		"noop": {Available: true, Capabilities: []string{"read"}, MaxRiskTier: taskspec.RiskCritical},
	}
	constraint := fakeConstraintChecker{result: collaborators.ConstraintValidation{Satisfied: true}}
	checker := collaborators.NewBasicFeasibilityChecker(registry, constraint)
	result, err := checker.CheckFeasibility(context.Background(), taskspec.TaskSpec{
		ToolID:              "noop",
		RequiredPermissions: []string{"read"},
		RiskTier:            taskspec.RiskLow,
	})
	require.NoError(t, err)
	assert.True(t, result.Feasible)
	assert.Equal(t, 1.0, result.ConfidenceScore)
}
