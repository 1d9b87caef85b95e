package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"

	"goa.design/flowengine/engine"
)

func TestNewRequiresDefaultTaskQueue(t *testing.T) {
	_, err := New(Options{ClientOptions: &client.Options{}})
	assert.Error(t, err)
}

func TestNewRequiresClientOrClientOptions(t *testing.T) {
	_, err := New(Options{WorkerOptions: WorkerOptions{TaskQueue: "q"}})
	assert.Error(t, err)
}

func TestNewWithClientOptionsSucceeds(t *testing.T) {
	eng, err := New(Options{
		WorkerOptions: WorkerOptions{TaskQueue: "q"},
		ClientOptions: &client.Options{},
	})
	require.NoError(t, err)
	assert.Equal(t, "q", eng.defaultQueue)
	assert.NoError(t, eng.Close())
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(Options{
		WorkerOptions: WorkerOptions{TaskQueue: "q"},
		ClientOptions: &client.Options{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestRegisterWorkflowRejectsEmptyDefinition(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{})
	assert.Error(t, err)
}

func TestRegisterWorkflowRejectsDuplicateName(t *testing.T) {
	eng := newTestEngine(t)
	def := engine.WorkflowDefinition{
		Name:    "dup",
		Handler: func(engine.WorkflowContext, any) (any, error) { return nil, nil },
	}
	require.NoError(t, eng.RegisterWorkflow(context.Background(), def))
	err := eng.RegisterWorkflow(context.Background(), def)
	assert.Error(t, err)
}

func TestRegisterActivityRejectsEmptyDefinition(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.RegisterActivity(context.Background(), engine.ActivityDefinition{})
	assert.Error(t, err)
}

func TestStartWorkflowUnregisteredWorkflowFails(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "r", Workflow: "ghost"})
	assert.Error(t, err)
}

func TestMergeRetryPoliciesOverridesOnlyNonZeroFields(t *testing.T) {
	base := engine.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffCoefficient: 2}
	override := engine.RetryPolicy{MaxAttempts: 5}
	merged := mergeRetryPolicies(base, override)
	assert.Equal(t, 5, merged.MaxAttempts)
	assert.Equal(t, time.Second, merged.InitialInterval)
	assert.Equal(t, 2.0, merged.BackoffCoefficient)
}

func TestConvertRetryPolicyReturnsNilForZeroValue(t *testing.T) {
	assert.Nil(t, convertRetryPolicy(engine.RetryPolicy{}))
}

func TestConvertRetryPolicySetsFields(t *testing.T) {
	p := convertRetryPolicy(engine.RetryPolicy{MaxAttempts: 4, InitialInterval: 2 * time.Second, BackoffCoefficient: 1.5})
	require.NotNil(t, p)
	assert.Equal(t, int32(4), p.MaximumAttempts)
	assert.Equal(t, 2*time.Second, p.InitialInterval)
	assert.Equal(t, 1.5, p.BackoffCoefficient)
}
