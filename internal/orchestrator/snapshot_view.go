package orchestrator

import (
	"context"
	"fmt"

	"github.com/flowkernel/kernel/internal/eventlog"
	"github.com/flowkernel/kernel/internal/taskspec"
)

// Snapshot is a derived, read-only view of a workflow run's current status,
// folded from the event log rather than stored authoritatively — distinct
// from snapshot.Store's write-once world-state captures. Grounded on the
// teacher's run/snapshot.go "computed from the log, not persisted
// separately" approach to exposing run progress to callers.
type Snapshot struct {
	WorkflowID string
	Status     WorkflowStatus
	LastError  string
	Tasks      map[string]TaskSummary
}

// TaskSummary is one task's folded status within a Snapshot.
type TaskSummary struct {
	Status     taskspec.TaskStatus
	Attempts   int
	LastError  string
	Compensated bool
}

// ComputeSnapshot folds every event log record for workflowID into a
// current-status view. It performs no writes and takes no lock: concurrent
// calls simply re-read the log, which is append-only.
func (o *Orchestrator) ComputeSnapshot(ctx context.Context, workflowID string) (Snapshot, error) {
	records, err := o.cfg.EventLog.Read(ctx, workflowID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("orchestrator: read event log for %q: %w", workflowID, err)
	}

	view := Snapshot{WorkflowID: workflowID, Status: WorkflowRunning, Tasks: make(map[string]TaskSummary)}
	failedTasks := 0
	for _, rec := range records {
		summary := view.Tasks[rec.TaskID]
		switch rec.Type {
		case eventlog.TaskStarted:
			summary.Status = taskspec.StatusRunning
			summary.Attempts++
		case eventlog.TaskCompleted:
			summary.Status = taskspec.StatusCompleted
			summary.LastError = ""
		case eventlog.TaskFailed:
			summary.Status = taskspec.StatusFailed
			if msg, ok := rec.Metadata["message"].(string); ok {
				summary.LastError = msg
				view.LastError = msg
			}
			failedTasks++
		case eventlog.CompensationCompleted:
			summary.Status = taskspec.StatusCompensated
			summary.Compensated = true
		case eventlog.CompensationFailed:
			if msg, ok := rec.Metadata["error"].(string); ok {
				view.LastError = msg
			}
		}
		if rec.TaskID != "" {
			view.Tasks[rec.TaskID] = summary
		}
	}

	switch {
	case failedTasks > 0:
		anyCompensated, anyFailedCompensation := false, false
		for _, s := range view.Tasks {
			if s.Compensated {
				anyCompensated = true
			}
		}
		for _, rec := range records {
			if rec.Type == eventlog.CompensationFailed {
				anyFailedCompensation = true
			}
		}
		switch {
		case anyFailedCompensation:
			view.Status = WorkflowPartiallyCompensated
		case anyCompensated:
			view.Status = WorkflowCompensated
		default:
			view.Status = WorkflowFailed
		}
	case allTerminal(view.Tasks):
		view.Status = WorkflowCompleted
	default:
		view.Status = WorkflowRunning
	}
	return view, nil
}

func allTerminal(tasks map[string]TaskSummary) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, s := range tasks {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}
