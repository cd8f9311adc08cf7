package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowkernel/kernel/internal/eventlog"
	"github.com/flowkernel/kernel/internal/kernelerrors"
	"github.com/flowkernel/kernel/internal/outbox"
	"github.com/flowkernel/kernel/internal/taskspec"
)

// compensate runs the compensation hook for every task in completedOrder, in
// exact reverse completion order, per spec.md §4.1 ("Saga compensation").
// A compensation failure is logged and does not block the remaining
// compensations from running; the caller derives the final workflow status
// from the returned error (nil: every compensation succeeded).
func (o *Orchestrator) compensate(ctx context.Context, spec taskspec.WorkflowSpec, run WorkflowRun, states map[string]taskspec.TaskState, completedOrder []string) error {
	var firstErr error
	for i := len(completedOrder) - 1; i >= 0; i-- {
		taskID := completedOrder[i]
		task, ok := spec.TaskByID(taskID)
		if !ok || task.Compensation == nil {
			continue
		}

		o.appendEvent(ctx, spec.ID, taskID, eventlog.CompensationTriggered, nil)
		st := states[taskID]
		st.Status = taskspec.StatusCompensating
		states[taskID] = st

		if err := o.runCompensationHook(ctx, spec.ID, task); err != nil {
			st.Status = taskspec.StatusFailed
			st.LastError = err.Error()
			states[taskID] = st
			o.appendEvent(ctx, spec.ID, taskID, eventlog.CompensationFailed, map[string]any{"error": err.Error()})
			o.cfg.Logger.Error(ctx, "compensation failed", "workflow_id", spec.ID, "task_id", taskID, "error", err.Error())
			if firstErr == nil {
				firstErr = fmt.Errorf("compensation for task %q failed: %w", taskID, err)
			}
			continue
		}

		st.Status = taskspec.StatusCompensated
		states[taskID] = st
		o.appendEvent(ctx, spec.ID, taskID, eventlog.CompensationCompleted, nil)
	}
	return firstErr
}

func (o *Orchestrator) runCompensationHook(ctx context.Context, workflowID string, task taskspec.TaskSpec) error {
	hook := task.Compensation
	if hook.ToolID == "" {
		return fmt.Errorf("task %q: compensation has no ToolID; HookRef %q must be resolved by the embedding service", task.ID, hook.HookRef)
	}
	tool, ok := o.cfg.Tools.Lookup(hook.ToolID)
	if !ok {
		return fmt.Errorf("task %q: compensation tool %q not registered", task.ID, hook.ToolID)
	}
	idemKey, err := deriveIdempotencyKey(task.ID+":compensate", 1, hook.ToolID, hook.Params)
	if err != nil {
		return err
	}
	// Unlike task execution, compensation has no outer orchestrator-level
	// retry loop of its own (compensate runs each hook exactly once), so the
	// outbox's own attempt ceiling is the only retry budget this call gets.
	entry, err := o.cfg.Outbox.Execute(ctx, workflowID, task.ID+":compensate", hook.ToolID, hook.Params, idemKey, o.cfg.DefaultMaxAttempts, func(toolCtx context.Context) (json.RawMessage, error) {
		return tool.Invoke(toolCtx, hook.Params)
	})
	if err != nil {
		return err
	}
	if entry.State != outbox.Committed {
		return kernelerrors.Newf(kernelerrors.ToolError, "compensation tool invocation did not commit: %s", entry.Error)
	}
	return nil
}
