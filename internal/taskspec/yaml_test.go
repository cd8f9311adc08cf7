package taskspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWorkflowSpecYAMLRoundTripsTasksAndDependencies(t *testing.T) {
	doc := []byte(`
id: wf-refund
safetyPolicy: finance-default
tasks:
  - id: t1
    type: action
    toolId: debit
    input:
      account: acct1
      amount: 100
    maxAttempts: 3
    backoffMs: 500
    timeout: 10s
    riskTier: HIGH
    requiredPermissions: [finance.write]
    resources:
      - resource: acct1
        mode: write
    effectful: true
    crvGates: [amount-gate]
    compensation:
      toolId: credit
      params:
        account: acct1
        amount: 100
  - id: t2
    type: action
    toolId: notify
dependencies:
  t2: [t1]
`)

	spec, err := LoadWorkflowSpecYAML(doc)
	require.NoError(t, err)
	require.Equal(t, "wf-refund", spec.ID)
	require.Equal(t, "finance-default", spec.SafetyPolicy)
	require.Equal(t, []string{"t1"}, spec.Dependencies["t2"])
	require.Len(t, spec.Tasks, 2)

	t1, ok := spec.TaskByID("t1")
	require.True(t, ok)
	require.Equal(t, TaskAction, t1.Type)
	require.Equal(t, "debit", t1.ToolID)
	require.JSONEq(t, `{"account":"acct1","amount":100}`, string(t1.Input))
	require.Equal(t, 3, t1.Retry.MaxAttempts)
	require.Equal(t, 500, t1.Retry.BackoffMs)
	require.Equal(t, 10*time.Second, t1.Timeout)
	require.Equal(t, RiskHigh, t1.RiskTier)
	require.Equal(t, []string{"finance.write"}, t1.RequiredPermissions)
	require.Equal(t, []ResourceRequirement{{Resource: "acct1", Mode: LockWrite}}, t1.Resources)
	require.True(t, t1.Effectful)
	require.Equal(t, []string{"amount-gate"}, t1.CRVGates)
	require.NotNil(t, t1.Compensation)
	require.Equal(t, "credit", t1.Compensation.ToolID)
	require.JSONEq(t, `{"account":"acct1","amount":100}`, string(t1.Compensation.Params))
}

func TestLoadWorkflowSpecYAMLRejectsInvalidSpec(t *testing.T) {
	_, err := LoadWorkflowSpecYAML([]byte(`id: wf-bad
tasks:
  - id: t1
    toolId: debit
dependencies:
  t1: [nonexistent]
`))
	require.Error(t, err)
}

func TestLoadWorkflowSpecYAMLRejectsMalformedYAML(t *testing.T) {
	_, err := LoadWorkflowSpecYAML([]byte("id: [unterminated"))
	require.Error(t, err)
}
