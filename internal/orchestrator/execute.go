package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowkernel/kernel/internal/collaborators"
	"github.com/flowkernel/kernel/internal/eventlog"
	"github.com/flowkernel/kernel/internal/kernelerrors"
	"github.com/flowkernel/kernel/internal/outbox"
	"github.com/flowkernel/kernel/internal/snapshot"
	"github.com/flowkernel/kernel/internal/state"
	"github.com/flowkernel/kernel/internal/taskspec"
)

// ExecuteWorkflow runs spec to a terminal state: every task either
// completes or the workflow aborts and, if any task already completed,
// runs saga compensation in reverse completion order (spec.md §4.1).
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, spec taskspec.WorkflowSpec, principal collaborators.Principal) (WorkflowResult, error) {
	if err := spec.Validate(); err != nil {
		return WorkflowResult{}, fmt.Errorf("orchestrator: invalid workflow spec: %w", err)
	}

	run := NewRun(spec.ID, principal.ID)
	states := make(map[string]taskspec.TaskState, len(spec.Tasks))
	for _, t := range spec.Tasks {
		states[t.ID] = taskspec.TaskState{TaskID: t.ID, Status: taskspec.StatusPending}
	}

	var completedOrder []string
	result := WorkflowResult{Run: run, Status: WorkflowRunning, TaskStates: states}

	abortErr := o.advance(ctx, spec, principal, run, states, &completedOrder)
	if abortErr == nil {
		result.Status = WorkflowCompleted
		return result, nil
	}

	o.cfg.Logger.Warn(ctx, "workflow aborted, starting compensation",
		"workflow_id", spec.ID, "run_id", run.RunID, "error", abortErr.Error())

	compErr := o.compensate(ctx, spec, run, states, completedOrder)
	if compErr != nil {
		result.Status = WorkflowPartiallyCompensated
	} else if len(completedOrder) > 0 {
		result.Status = WorkflowCompensated
	} else {
		result.Status = WorkflowFailed
	}
	return result, abortErr
}

// advance repeatedly schedules every currently-eligible task until the
// workflow is done (all tasks terminal) or a task fails terminally. It
// mutates states and completedOrder under no additional locking: tasks
// within one eligibility round run sequentially, so the per-workflow state
// is only ever touched by the calling goroutine.
func (o *Orchestrator) advance(ctx context.Context, spec taskspec.WorkflowSpec, principal collaborators.Principal, run WorkflowRun, states map[string]taskspec.TaskState, completedOrder *[]string) error {
	completed := make(map[string]struct{})
	done := make(map[string]struct{})

	for {
		eligible := spec.EligibleTasks(completed, done)
		if len(eligible) == 0 {
			break
		}
		for _, taskID := range eligible {
			task, ok := spec.TaskByID(taskID)
			if !ok {
				continue
			}
			st, err := o.runTask(ctx, spec, task, principal, run, states)
			states[taskID] = st
			done[taskID] = struct{}{}
			if err != nil {
				return fmt.Errorf("task %q: %w", taskID, err)
			}
			completed[taskID] = struct{}{}
			*completedOrder = append(*completedOrder, taskID)
		}
	}

	for _, t := range spec.Tasks {
		if _, isDone := done[t.ID]; !isDone {
			return fmt.Errorf("task %q: unreachable, dependencies never satisfied", t.ID)
		}
	}
	return nil
}

// runTask drives the attempt/retry loop for a single task until it reaches
// a terminal outcome or its retry policy is exhausted.
func (o *Orchestrator) runTask(ctx context.Context, spec taskspec.WorkflowSpec, task taskspec.TaskSpec, principal collaborators.Principal, run WorkflowRun, states map[string]taskspec.TaskState) (taskspec.TaskState, error) {
	maxAttempts := task.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := time.Duration(task.Retry.BackoffMs) * time.Millisecond

	st := states[task.ID]
	st.Status = taskspec.StatusRunning
	st.StartedAt = time.Now()

	var lastFail *attemptFailure
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		st.Attempt = attempt

		output, fail := o.runAttempt(ctx, spec, task, principal, run, attempt)
		if fail == nil {
			st.Status = taskspec.StatusCompleted
			st.Output = output
			st.LastError = ""
			st.EndedAt = time.Now()
			return st, nil
		}

		lastFail = fail
		st.LastError = fail.Error()
		if !fail.retriable || attempt == maxAttempts {
			break
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				st.Status = taskspec.StatusFailed
				st.EndedAt = time.Now()
				return st, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	st.Status = taskspec.StatusFailed
	st.EndedAt = time.Now()
	return st, lastFail
}

// runAttempt executes the ten-step per-task protocol of spec.md §4.1 for
// one attempt of task, releasing any lock it acquired on every exit path.
func (o *Orchestrator) runAttempt(ctx context.Context, spec taskspec.WorkflowSpec, task taskspec.TaskSpec, principal collaborators.Principal, run WorkflowRun, attempt int) (json.RawMessage, *attemptFailure) {
	o.appendEvent(ctx, spec.ID, task.ID, eventlog.TaskStarted, map[string]any{"attempt": attempt})

	// Step 1: policy gate.
	action := collaborators.Action{
		ToolID:      task.ToolID,
		WorkflowID:  spec.ID,
		TaskID:      task.ID,
		RiskTier:    task.RiskTier,
		Permissions: task.RequiredPermissions,
	}
	decision, err := o.cfg.PolicyGuard.Evaluate(ctx, principal, action)
	if err != nil {
		return nil, o.failTask(ctx, spec.ID, task.ID, nonRetriable(kernelerrors.Wrap(kernelerrors.PolicyViolation, "policy evaluation failed", err)))
	}
	if !decision.Allowed {
		return nil, o.failTask(ctx, spec.ID, task.ID, nonRetriable(kernelerrors.Newf(kernelerrors.PolicyViolation, "policy denied: %s", decision.Reason)))
	}

	// Step 2: feasibility check.
	feas, err := o.cfg.Feasibility.CheckFeasibility(ctx, task)
	if err != nil {
		return nil, o.failTask(ctx, spec.ID, task.ID, nonRetriable(kernelerrors.Wrap(kernelerrors.OutOfScope, "feasibility check failed", err)))
	}
	if !feas.Feasible {
		return nil, o.failTask(ctx, spec.ID, task.ID, nonRetriable(kernelerrors.Newf(kernelerrors.OutOfScope, "infeasible: %v", feas.Reasons)))
	}

	// Step 3: lock acquisition.
	acquired, err := o.acquireLocks(ctx, task, principal.ID, spec.ID)
	defer o.releaseLocks(task, principal.ID, spec.ID, acquired)
	if err != nil {
		return nil, o.failTask(ctx, spec.ID, task.ID, retriableIf(kernelerrors.Wrap(kernelerrors.Conflict, "lock acquisition failed", err)))
	}

	// Step 4: pre-snapshot.
	worldState, err := o.cfg.State.Snapshot(ctx)
	if err != nil {
		return nil, o.failTask(ctx, spec.ID, task.ID, retriableIf(kernelerrors.Wrap(kernelerrors.ToolError, "pre-snapshot read failed", err)))
	}
	_, err = o.cfg.Snapshots.CreateSnapshot(ctx, snapshot.ID{WorkflowID: spec.ID, TaskID: task.ID, Attempt: attempt}, worldState, nil, false, nil)
	if err != nil {
		return nil, o.failTask(ctx, spec.ID, task.ID, retriableIf(kernelerrors.Wrap(kernelerrors.ToolError, "pre-snapshot create failed", err)))
	}

	// Decision tasks evaluate branching logic only; they never name a tool
	// and must not reach outbox routing or tool invocation at all.
	if task.Type == taskspec.TaskDecision {
		o.appendEvent(ctx, spec.ID, task.ID, eventlog.TaskCompleted, map[string]any{"attempt": attempt})
		return task.Input, nil
	}

	tool, ok := o.cfg.Tools.Lookup(task.ToolID)
	if !ok {
		return nil, o.failTask(ctx, spec.ID, task.ID, nonRetriable(kernelerrors.Newf(kernelerrors.ToolError, "unknown tool %q", task.ToolID)))
	}

	invoke := func(toolCtx context.Context) (json.RawMessage, error) {
		// Step 6: tool invocation with timeout.
		timeout := task.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		callCtx, cancel := context.WithTimeout(toolCtx, timeout)
		defer cancel()
		out, err := tool.Invoke(callCtx, task.Input)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	var output json.RawMessage
	if !task.Effectful {
		// Step 5: outbox routing is conditional on the task being effectful;
		// pure tools are invoked directly.
		out, err := invoke(ctx)
		if err != nil {
			return nil, o.failTask(ctx, spec.ID, task.ID, retriableIf(kernelerrors.Wrap(kernelerrors.ToolError, "tool invocation failed", err)))
		}
		output = out
	} else {
		// Step 5: outbox routing.
		idemKey := task.IdempotencyKey
		maxOutboxAttempts := 1
		if idemKey == "" {
			idemKey, err = deriveIdempotencyKey(task.ID, attempt, task.ToolID, task.Input)
			if err != nil {
				return nil, o.failTask(ctx, spec.ID, task.ID, nonRetriable(kernelerrors.Wrap(kernelerrors.MissingData, "idempotency key derivation failed", err)))
			}
		} else {
			// An explicit key is reused verbatim across every orchestrator-
			// level retry of this task (deriveIdempotencyKey is only used
			// when the task supplies no key of its own), so the outbox's own
			// attempt ceiling must cover the task's full retry budget.
			// Otherwise the entry would reach DEAD_LETTER on the first
			// transient failure and a literal retry (spec.md §8 scenario 1)
			// could never reach COMMITTED.
			maxOutboxAttempts = task.Retry.MaxAttempts
			if maxOutboxAttempts <= 0 {
				maxOutboxAttempts = o.cfg.DefaultMaxAttempts
			}
		}

		entry, err := o.cfg.Outbox.Execute(ctx, spec.ID, task.ID, task.ToolID, task.Input, idemKey, maxOutboxAttempts, invoke)
		if err != nil {
			if errors.Is(err, outbox.ErrAttemptsExhausted) {
				return nil, o.failTask(ctx, spec.ID, task.ID, nonRetriable(kernelerrors.Wrap(kernelerrors.ToolError, "outbox entry already dead-lettered", err)))
			}
			return nil, o.failTask(ctx, spec.ID, task.ID, retriableIf(kernelerrors.Wrap(kernelerrors.ToolError, "tool invocation failed", err)))
		}
		output = entry.Result
	}

	// Step 7: CRV gate chain.
	if blockFail := o.runGates(ctx, spec.ID, task, output); blockFail != nil {
		return nil, o.failTask(ctx, spec.ID, task.ID, blockFail)
	}

	// Step 8: state update via CAS.
	if err := o.applyStateUpdate(ctx, spec.ID, task, output); err != nil {
		return nil, o.failTask(ctx, spec.ID, task.ID, retriableIf(kernelerrors.Wrap(kernelerrors.Conflict, "state update conflict", err)))
	}

	// Step 9: completion event.
	o.appendEvent(ctx, spec.ID, task.ID, eventlog.TaskCompleted, map[string]any{"attempt": attempt})

	return output, nil
}

func (o *Orchestrator) acquireLocks(ctx context.Context, task taskspec.TaskSpec, agentID, workflowID string) ([]taskspec.ResourceRequirement, error) {
	acquired := make([]taskspec.ResourceRequirement, 0, len(task.Resources))
	for _, res := range task.Resources {
		ok, err := o.cfg.Coordinator.AcquireLock(ctx, res.Resource, agentID, workflowID, res.Mode, riskPriority(task.RiskTier), o.cfg.LockTimeout)
		if err != nil {
			return acquired, err
		}
		if !ok {
			return acquired, fmt.Errorf("lock %q not granted within %s", res.Resource, o.cfg.LockTimeout)
		}
		acquired = append(acquired, res)
		o.appendEvent(ctx, workflowID, task.ID, eventlog.LockAcquired, map[string]any{"resource": res.Resource, "mode": string(res.Mode)})
	}
	return acquired, nil
}

func (o *Orchestrator) releaseLocks(task taskspec.TaskSpec, agentID, workflowID string, acquired []taskspec.ResourceRequirement) {
	for _, res := range acquired {
		if err := o.cfg.Coordinator.ReleaseLock(res.Resource, agentID, workflowID); err != nil {
			o.cfg.Logger.Warn(context.Background(), "lock release failed", "resource", res.Resource, "task_id", task.ID, "error", err.Error())
			continue
		}
		o.appendEvent(context.Background(), workflowID, task.ID, eventlog.LockReleased, map[string]any{"resource": res.Resource})
	}
}

func riskPriority(tier taskspec.RiskTier) int {
	switch tier {
	case taskspec.RiskCritical:
		return 3
	case taskspec.RiskHigh:
		return 2
	case taskspec.RiskMedium:
		return 1
	default:
		return 0
	}
}

func (o *Orchestrator) applyStateUpdate(ctx context.Context, workflowID string, task taskspec.TaskSpec, output json.RawMessage) error {
	key := task.ID
	metadata := map[string]string{"workflow_id": workflowID, "task_id": task.ID}

	existing, err := o.cfg.State.Read(ctx, key)
	switch {
	case err == state.ErrNotFound:
		_, err = o.cfg.State.Create(ctx, key, output, metadata)
	case err == nil:
		_, err = o.cfg.State.Update(ctx, key, output, existing.Version, metadata)
	default:
		return err
	}
	if err != nil {
		return err
	}
	o.appendEvent(ctx, workflowID, task.ID, eventlog.StateUpdated, map[string]any{"key": key})
	return nil
}

func (o *Orchestrator) failTask(ctx context.Context, workflowID, taskID string, fail *attemptFailure) *attemptFailure {
	o.appendEvent(ctx, workflowID, taskID, eventlog.TaskFailed, map[string]any{"code": string(fail.err.Code), "message": fail.err.Message, "retriable": fail.retriable})
	return fail
}

func (o *Orchestrator) appendEvent(ctx context.Context, workflowID, taskID string, typ eventlog.Type, metadata map[string]any) {
	rec := eventlog.Record{Timestamp: time.Now(), WorkflowID: workflowID, TaskID: taskID, Type: typ, Metadata: metadata}
	if err := o.cfg.EventLog.Append(ctx, rec); err != nil {
		o.cfg.Logger.Warn(ctx, "event log append failed", "workflow_id", workflowID, "task_id", taskID, "type", string(typ), "error", err.Error())
	}
}
