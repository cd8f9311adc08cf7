package orchestrator

import "github.com/google/uuid"

// WorkflowRun identifies one workflow execution at three layers, grounded
// on run.Context's RunID/TurnID/SessionID layering: RunID names this
// specific durable execution (what engine.Engine schedules), TurnID groups
// executions that are logically "the same attempt" across a pause/resume
// that restarts the engine-level run, and SessionID correlates runs
// belonging to the same caller-defined interaction.
type WorkflowRun struct {
	WorkflowID string
	RunID      string
	TurnID     string
	SessionID  string
}

// NewRun starts a fresh run/turn pair for workflowID. SessionID is supplied
// by the caller (or left empty for callers with no session concept).
func NewRun(workflowID, sessionID string) WorkflowRun {
	return WorkflowRun{
		WorkflowID: workflowID,
		RunID:      uuid.NewString(),
		TurnID:     uuid.NewString(),
		SessionID:  sessionID,
	}
}

// Resume starts a new RunID for the same logical TurnID/SessionID, used
// when a workflow is resumed as a new engine-level execution after an
// interruption but remains the "same" logical attempt.
func (r WorkflowRun) Resume() WorkflowRun {
	next := r
	next.RunID = uuid.NewString()
	return next
}
