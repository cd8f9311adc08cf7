// Package engine defines the pluggable durable-execution abstraction the
// orchestrator drives a workflow run through, per SPEC_FULL.md §5's
// "engine sub-package providing the pluggable durable-execution Engine
// abstraction (in-process + Temporal)". It is a deliberately narrower cut
// of the teacher's runtime/agent/engine.Engine: the orchestrator's own
// per-task protocol (outbox, snapshot, event log, CAS) already supplies
// step-level durability and exactly-once side effects, so this interface
// exists only to host and schedule one top-level workflow run — it does
// not need Temporal's deterministic-replay activity/signal/future surface.
package engine

import "context"

type (
	// Engine hosts workflow runs for a kernel deployment. RegisterWorkflow
	// binds a logical workflow name to a Handler; StartWorkflow launches one
	// execution and returns a handle for awaiting its result.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name.
	// Neither engine in this module reads TaskQueue: the Temporal engine
	// starts a run on the request's TaskQueue, or on its own configured
	// queue when that is empty, and the in-process engine has no queues.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the orchestrator's top-level run function: given a
	// context and the workflow input (a *taskspec.WorkflowSpec plus run
	// metadata, opaque to this package), it drives the run to completion and
	// returns its result or error.
	WorkflowFunc func(ctx context.Context, input any) (any, error)

	// WorkflowStartRequest describes how to launch one workflow execution.
	WorkflowStartRequest struct {
		// ID is the workflow execution identifier; must be unique within the
		// engine instance.
		ID string
		// Workflow names the registered WorkflowDefinition to execute.
		Workflow string
		// TaskQueue optionally overrides the engine's configured queue.
		TaskQueue string
		// Input is passed verbatim to the registered Handler.
		Input any
	}

	// WorkflowHandle lets callers await or cancel a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, populating result (a
		// pointer) with its return value.
		Wait(ctx context.Context, result any) error
		// Cancel requests cancellation of the running workflow.
		Cancel(ctx context.Context) error
	}
)
