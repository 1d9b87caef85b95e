package inmem_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/engine"
	"goa.design/flowengine/engine/inmem"
	"goa.design/flowengine/telemetry"
)

func TestStartWorkflowRunsActivityAndReturnsResult(t *testing.T) {
	eng := inmem.New(telemetry.Bundle{})
	ctx := context.Background()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "double",
		Handler: func(_ context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "doubler",
		Handler: func(wctx engine.WorkflowContext, input any) (any, error) {
			var out int
			err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{Name: "double", Input: input}, &out)
			return out, err
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-1", Workflow: "doubler", Input: 21})
	require.NoError(t, err)

	var result int
	require.NoError(t, handle.Wait(ctx, &result))
	assert.Equal(t, 42, result)
}

func TestStartWorkflowUnregisteredWorkflowFails(t *testing.T) {
	eng := inmem.New(telemetry.Bundle{})
	_, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "r", Workflow: "ghost"})
	assert.Error(t, err)
}

func TestWorkflowSignalDeliversToSignalChannel(t *testing.T) {
	eng := inmem.New(telemetry.Bundle{})
	ctx := context.Background()

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "waiter",
		Handler: func(wctx engine.WorkflowContext, _ any) (any, error) {
			var signaled string
			if err := wctx.SignalChannel("go").Receive(wctx.Context(), &signaled); err != nil {
				return nil, err
			}
			return signaled, nil
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-2", Workflow: "waiter"})
	require.NoError(t, err)

	require.NoError(t, handle.Signal(ctx, "go", "proceed"))

	var result string
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, handle.Wait(waitCtx, &result))
	assert.Equal(t, "proceed", result)
}

func TestRegisterActivityRejectsDuplicateName(t *testing.T) {
	eng := inmem.New(telemetry.Bundle{})
	ctx := context.Background()
	def := engine.ActivityDefinition{Name: "a", Handler: func(context.Context, any) (any, error) { return nil, nil }}
	require.NoError(t, eng.RegisterActivity(ctx, def))
	err := eng.RegisterActivity(ctx, def)
	assert.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "already registered")
}
