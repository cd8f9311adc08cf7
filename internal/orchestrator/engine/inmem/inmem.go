// Package inmem provides an in-process engine.Engine implementation for
// local development, tests, and single-node deployments, grounded on
// runtime/agent/engine/inmem/engine.go's goroutine-per-run handle pattern,
// trimmed to the narrower Engine surface this kernel needs.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/flowkernel/kernel/internal/orchestrator/engine"
)

type eng struct {
	mu        sync.RWMutex
	workflows map[string]engine.WorkflowDefinition
}

// New returns an Engine that runs each workflow on its own goroutine with no
// durability beyond process lifetime; step-level durability is already
// provided by the orchestrator's outbox/snapshot/event log.
func New() engine.Engine {
	return &eng{workflows: make(map[string]engine.WorkflowDefinition)}
}

func (e *eng) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem engine: invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("inmem engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem engine: workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("inmem engine: workflow id is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(h.done)
		res, err := def.Handler(runCtx, req.Input)
		h.mu.Lock()
		h.result, h.err = res, err
		h.mu.Unlock()
	}()

	return h, nil
}

type handle struct {
	mu     sync.Mutex
	done   chan struct{}
	cancel context.CancelFunc
	result any
	err    error
}

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		assignResult(result, h.result)
		return h.err
	}
}

func (h *handle) Cancel(ctx context.Context) error {
	h.cancel()
	return nil
}

func assignResult(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
