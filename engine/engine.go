// Package engine defines the durable execution backend abstraction a Runner
// invocation can optionally be driven through. An in-process adapter
// (engine/inmem) runs workflow and activity handlers directly; a Temporal
// adapter (backends/temporal) runs the same definitions as Temporal
// workflows/activities, trading a serialization requirement on node
// input/output for crash-resilience at every activity boundary instead of
// only at checkpoint/resume suspension points.
package engine

import (
	"context"
	"time"

	"goa.design/flowengine/telemetry"
)

type (
	// Engine abstracts workflow registration and execution so adapters
	// (Temporal, in-memory, or a future custom backend) can be swapped
	// without touching the Runner.
	Engine interface {
		// RegisterWorkflow registers a workflow definition. Must be called
		// before StartWorkflow targets it. Returns an error if the name is
		// already registered.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		// RegisterActivity registers an activity definition, typically one
		// Runner node execution. Must be called before any workflow that
		// invokes it runs.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		// StartWorkflow launches a workflow execution and returns a handle
		// for waiting, signaling, or cancelling it.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is a workflow entry point. It must be deterministic:
	// given the same input and the same sequence of activity results, it
	// must produce the same sequence of engine operations.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to workflow handlers.
	// Implementations must ensure deterministic replay: ExecuteActivity and
	// SignalChannel must produce the same results when replayed. Workflow
	// code must not perform direct I/O, generate random numbers, or read the
	// system clock; use Now() instead.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string
		// ExecuteActivity schedules an activity and blocks until it
		// completes, decoding its result into result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		// ExecuteActivityAsync schedules an activity without blocking,
		// returning a Future resolved later via Get.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)
		// SignalChannel returns the channel signals of the given name are
		// delivered on.
		SignalChannel(name string) SignalChannel
		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer
		// Now returns the current time in a replay-safe manner.
		Now() time.Time
	}

	// Future represents a pending activity result.
	Future interface {
		// Get blocks until the activity completes and decodes its result
		// into result. Calling Get more than once returns the same outcome.
		Get(ctx context.Context, result any) error
		// IsReady reports whether Get will return without blocking.
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc handles an activity invocation. Unlike workflows,
	// activities may perform I/O and other side effects.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID               string
		Workflow         string
		TaskQueue        string
		Input            any
		Memo             map[string]any
		SearchAttributes map[string]any
		RetryPolicy      RetryPolicy
	}

	// ActivityRequest describes an activity invocation from within a
	// workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers interact with a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, decoding its result
		// into result.
		Wait(ctx context.Context, result any) error
		// Signal sends an asynchronous message the workflow can receive via
		// SignalChannel.
		Signal(ctx context.Context, name string, payload any) error
		// Cancel requests cancellation of the workflow.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes engine-agnostic signal delivery to workflow
	// code.
	SignalChannel interface {
		// Receive blocks until a signal is delivered and decodes it into
		// dest.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync attempts a non-blocking receive, reporting whether a
		// value was written into dest.
		ReceiveAsync(dest any) bool
	}
)
