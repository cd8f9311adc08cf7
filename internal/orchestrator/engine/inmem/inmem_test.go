package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/kernel/internal/orchestrator/engine"
)

func TestEngineRunsRegisteredWorkflowAndReturnsResult(t *testing.T) {
	e := New()
	err := e.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name: "greet",
		Handler: func(ctx context.Context, input any) (any, error) {
			name, _ := input.(string)
			return "hello " + name, nil
		},
	})
	require.NoError(t, err)

	handle, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID:       "run-1",
		Workflow: "greet",
		Input:    "world",
	})
	require.NoError(t, err)

	var out string
	require.NoError(t, handle.Wait(context.Background(), &out))
	require.Equal(t, "hello world", out)
}

func TestEngineStartWorkflowUnregisteredFails(t *testing.T) {
	e := New()
	_, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "r", Workflow: "missing"})
	require.Error(t, err)
}

func TestEngineRegisterWorkflowDuplicateFails(t *testing.T) {
	e := New()
	def := engine.WorkflowDefinition{Name: "dup", Handler: func(ctx context.Context, input any) (any, error) { return nil, nil }}
	require.NoError(t, e.RegisterWorkflow(context.Background(), def))
	require.Error(t, e.RegisterWorkflow(context.Background(), def))
}

func TestEngineWaitPropagatesHandlerError(t *testing.T) {
	e := New()
	wantErr := errors.New("boom")
	require.NoError(t, e.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name:    "failing",
		Handler: func(ctx context.Context, input any) (any, error) { return nil, wantErr },
	}))
	handle, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "r2", Workflow: "failing"})
	require.NoError(t, err)
	err = handle.Wait(context.Background(), nil)
	require.ErrorIs(t, err, wantErr)
}

func TestEngineCancelStopsWorkflowContext(t *testing.T) {
	e := New()
	started := make(chan struct{})
	require.NoError(t, e.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name: "blocking",
		Handler: func(ctx context.Context, input any) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	handle, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "r3", Workflow: "blocking"})
	require.NoError(t, err)

	<-started
	require.NoError(t, handle.Cancel(context.Background()))

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = handle.Wait(waitCtx, nil)
	require.ErrorIs(t, err, context.Canceled)
}
