package collaborators_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkernel/kernel/internal/collaborators"
	"github.com/flowkernel/kernel/internal/taskspec"
)

func TestBasicPolicyGuardDeniesBlockedTool(t *testing.T) {
	guard := collaborators.NewBasicPolicyGuard(collaborators.BasicPolicyGuardOptions{
		BlockedTools: []string{"delete_database"},
	})
	decision, err := guard.Evaluate(context.Background(), collaborators.Principal{ID: "p1"}, collaborators.Action{ToolID: "delete_database"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestBasicPolicyGuardDeniesMissingPermission(t *testing.T) {
	guard := collaborators.NewBasicPolicyGuard(collaborators.BasicPolicyGuardOptions{})
	decision, err := guard.Evaluate(context.Background(),
		collaborators.Principal{ID: "p1", Roles: []string{"read"}},
		collaborators.Action{ToolID: "write_ledger", Permissions: []string{"write"}})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestBasicPolicyGuardFlagsHighRiskForApproval(t *testing.T) {
	guard := collaborators.NewBasicPolicyGuard(collaborators.BasicPolicyGuardOptions{
		RequireApprovalAtOrAbove: taskspec.RiskHigh,
	})
	decision, err := guard.Evaluate(context.Background(),
		collaborators.Principal{ID: "p1"},
		collaborators.Action{ToolID: "wire_transfer", RiskTier: taskspec.RiskCritical})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.RequiresHumanApproval)
}

func TestBasicPolicyGuardAllowsLowRiskWithoutApproval(t *testing.T) {
	guard := collaborators.NewBasicPolicyGuard(collaborators.BasicPolicyGuardOptions{
		RequireApprovalAtOrAbove: taskspec.RiskHigh,
	})
	decision, err := guard.Evaluate(context.Background(),
		collaborators.Principal{ID: "p1"},
		collaborators.Action{ToolID: "read_report", RiskTier: taskspec.RiskLow})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.RequiresHumanApproval)
}
