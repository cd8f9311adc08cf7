// Package temporal implements engine.Engine on top of the Temporal Go SDK,
// grounded on runtime/agent/engine/temporal/engine.go's client/worker
// bootstrapping, trimmed to this kernel's narrower Engine surface.
//
// The orchestrator's per-task protocol performs live I/O against the
// outbox, state store, and event log — none of that is deterministic-replay
// safe, so it cannot run inside a Temporal workflow function directly.
// Instead each registered WorkflowDefinition is wrapped as a single
// Temporal activity; the surrounding Temporal workflow function does
// nothing but execute that one activity and return its result. Temporal
// here supplies durable top-level scheduling and crash-restart of the run
// as a whole; step-level exactly-once execution remains the outbox's job.
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/flowkernel/kernel/internal/orchestrator/engine"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. Required.
	Client client.Client
	// TaskQueue is the default queue workers poll. Required.
	TaskQueue string
	// WorkerOptions configures worker concurrency/identity.
	WorkerOptions worker.Options
}

// Engine implements engine.Engine by registering each workflow as an
// activity-wrapping Temporal workflow on a shared worker.
type Engine struct {
	client    client.Client
	taskQueue string

	mu     sync.Mutex
	worker worker.Worker
	started bool

	defs map[string]engine.WorkflowDefinition
}

func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("temporal engine: client is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	e := &Engine{
		client:    opts.Client,
		taskQueue: opts.TaskQueue,
		defs:      make(map[string]engine.WorkflowDefinition),
	}
	e.worker = worker.New(opts.Client, opts.TaskQueue, opts.WorkerOptions)
	return e, nil
}

func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.defs[def.Name]; dup {
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.defs[def.Name] = def

	activityName := def.Name + "Activity"
	e.worker.RegisterActivityWithOptions(
		func(actx context.Context, input any) (any, error) {
			return def.Handler(actx, input)
		},
		activity.RegisterOptions{Name: activityName},
	)
	e.worker.RegisterWorkflowWithOptions(
		func(wctx workflow.Context, input any) (any, error) {
			ao := workflow.ActivityOptions{StartToCloseTimeout: 0}
			actx := workflow.WithActivityOptions(wctx, ao)
			var result any
			err := workflow.ExecuteActivity(actx, activityName, input).Get(actx, &result)
			return result, err
		},
		workflow.RegisterOptions{Name: def.Name},
	)
	return nil
}

func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.Lock()
	_, ok := e.defs[req.Workflow]
	if !e.started {
		e.started = true
		go e.worker.Run(worker.InterruptCh())
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("temporal engine: workflow %q not registered", req.Workflow)
	}

	queue := req.TaskQueue
	if queue == "" {
		queue = e.taskQueue
	}
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        req.ID,
		TaskQueue: queue,
	}, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow %q: %w", req.ID, err)
	}
	return &handle{run: run, client: e.client}, nil
}

// Stop gracefully stops the worker.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		e.worker.Stop()
	}
}

type handle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *handle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
