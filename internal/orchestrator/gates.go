package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/flowkernel/kernel/internal/crv"
	"github.com/flowkernel/kernel/internal/eventlog"
	"github.com/flowkernel/kernel/internal/kernelerrors"
	"github.com/flowkernel/kernel/internal/taskspec"
)

// runGates evaluates every CRV gate named by task.CRVGates, in declared
// order, against the tool output, per spec.md §4.1 step 7. A blocking gate
// stops the attempt; if the gate names a recovery strategy and the
// orchestrator was configured with a RecoveryExecutor, recovery is
// attempted once before the block is reported as a terminal failure.
func (o *Orchestrator) runGates(ctx context.Context, workflowID string, task taskspec.TaskSpec, output json.RawMessage) *attemptFailure {
	if len(task.CRVGates) == 0 {
		return nil
	}

	payload, err := crv.FromJSON(output)
	if err != nil {
		return nonRetriable(kernelerrors.Wrap(kernelerrors.NonDeterminism, "tool output not valid for CRV evaluation", err))
	}
	commit := crv.Commit{
		ID:      task.ID,
		Payload: payload,
		Metadata: map[string]any{
			"workflow_id": workflowID,
			"task_id":     task.ID,
			"tool_id":     task.ToolID,
		},
	}

	var gates []crv.Gate
	for _, name := range task.CRVGates {
		g, ok := o.cfg.Gates[name]
		if !ok {
			return nonRetriable(kernelerrors.Newf(kernelerrors.MissingData, "unknown CRV gate %q", name))
		}
		gates = append(gates, g)
	}

	chain := crv.Chain{Gates: gates}
	result := chain.Run(commit)
	if !result.Blocked {
		return nil
	}

	gateName, remediation, _ := result.FirstBlockingReason()
	var blockedResult crv.GateResult
	for _, r := range result.GateResults {
		if r.Outcome == crv.OutcomeBlocked {
			blockedResult = r
			break
		}
	}

	if blockedResult.Recovery.Kind != crv.RecoveryNone && o.cfg.RecoveryExecutor != nil {
		outcome, err := o.cfg.RecoveryExecutor.Execute(ctx, blockedResult.Recovery, blockedResult, commit)
		if err == nil && outcome.Applied {
			o.appendEvent(ctx, workflowID, task.ID, eventlog.MitigationApplied, map[string]any{
				"gate": gateName, "recovery": string(blockedResult.Recovery.Kind), "notes": outcome.Notes,
			})
			return nil
		}
	}

	code := kernelerrors.Code(blockedResult.FailureCode)
	if code == "" {
		code = kernelerrors.PolicyViolation
	}
	return nonRetriable(kernelerrors.Newf(code, "CRV gate %q blocked: %s", gateName, remediation))
}
