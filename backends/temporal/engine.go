// Package temporal adapts goa.design/flowengine/engine.Engine onto Temporal,
// trading crash-resilience only at checkpoint/resume suspension points (the
// in-process adapter in engine/inmem) for crash-resilience at every activity
// boundary: each workflow execution and each node execution registered as an
// activity survives worker restarts because Temporal persists their history.
//
// One worker is created per unique task queue. Workflows and activities that
// omit a queue run on WorkerOptions.TaskQueue, the default queue.
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/flowengine/engine"
	"goa.design/flowengine/telemetry"
)

type (
	// Options configures the Temporal engine adapter. Either Client or
	// ClientOptions must be set, and WorkerOptions.TaskQueue is always
	// required.
	Options struct {
		// Client is a pre-configured Temporal client. If nil, the adapter
		// builds a lazy client from ClientOptions.
		Client client.Client

		// ClientOptions constructs the Temporal client when Client is nil.
		ClientOptions *client.Options

		// WorkerOptions configures the default task queue and worker
		// concurrency shared by every queue the engine creates a worker
		// for.
		WorkerOptions WorkerOptions

		// Instrumentation toggles OTEL tracing/metrics wiring. Both are
		// enabled by default.
		Instrumentation InstrumentationOptions

		// DisableWorkerAutoStart disables starting workers on first
		// StartWorkflow call; callers must then use Worker().Start().
		DisableWorkerAutoStart bool

		// Bundle supplies the Logger/Metrics/Tracer exposed to workflow
		// code via WorkflowContext. A zero-valued Bundle falls back to
		// no-op implementations.
		Bundle telemetry.Bundle
	}

	// WorkerOptions configures the worker settings shared by every task
	// queue the engine manages.
	WorkerOptions struct {
		// TaskQueue is the default queue used when a workflow or
		// activity definition omits one. Required.
		TaskQueue string
		// Options is forwarded directly to worker.New.
		Options worker.Options
	}

	// InstrumentationOptions configures OTEL tracing/metrics wiring for
	// the Temporal client and workers.
	InstrumentationOptions struct {
		DisableTracing bool
		DisableMetrics bool
		TracerOptions  temporalotel.TracerOptions
		MetricsOptions temporalotel.MetricsHandlerOptions
	}

	// Engine implements engine.Engine using Temporal as the durable
	// execution backend. Construct via New, register workflows and
	// activities, then either let workers auto-start or call
	// Worker().Start() explicitly.
	Engine struct {
		client      client.Client
		closeClient bool

		defaultQueue      string
		workerOpts        worker.Options
		autoStartDisabled bool

		bundle telemetry.Bundle

		mu              sync.Mutex
		workers         map[string]*workerBundle
		workersStarted  bool
		workflows       map[string]engine.WorkflowDefinition
		activityOptions map[string]engine.ActivityOptions
	}

	workerBundle struct {
		queue     string
		worker    worker.Worker
		logger    telemetry.Logger
		startOnce sync.Once
	}

	instrumentation struct {
		tracer  interceptor.Interceptor
		metrics client.MetricsHandler
	}

	// WorkerController manages the start/stop lifecycle of every worker
	// the engine owns, across all task queues.
	WorkerController struct {
		engine *Engine
	}

	workflowHandle struct {
		run    client.WorkflowRun
		client client.Client
	}
)

var _ engine.Engine = (*Engine)(nil)
var _ engine.WorkflowHandle = (*workflowHandle)(nil)

// New constructs a Temporal engine adapter. WorkerOptions.TaskQueue is
// required; either Client or ClientOptions must be set.
func New(opts Options) (*Engine, error) {
	defaultQueue := opts.WorkerOptions.TaskQueue
	if defaultQueue == "" {
		return nil, fmt.Errorf("temporal engine: worker options must include a default task queue")
	}
	bundle := opts.Bundle
	if bundle.Logger == nil {
		bundle.Logger = telemetry.NewNoopLogger()
	}
	if bundle.Metrics == nil {
		bundle.Metrics = telemetry.NewNoopMetrics()
	}
	if bundle.Tracer == nil {
		bundle.Tracer = telemetry.NewNoopTracer()
	}

	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		return nil, err
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		applyClientInstrumentation(&clientOpts, inst)
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	workerOpts := opts.WorkerOptions.Options
	applyWorkerInstrumentation(&workerOpts, inst)

	return &Engine{
		client:            cli,
		closeClient:       closeClient,
		defaultQueue:      defaultQueue,
		workerOpts:        workerOpts,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		bundle:            bundle,
		workers:           make(map[string]*workerBundle),
		workflows:         make(map[string]engine.WorkflowDefinition),
		activityOptions:   make(map[string]engine.ActivityOptions),
	}, nil
}

// RegisterWorkflow registers a workflow definition with the worker for its
// task queue (or the engine's default queue). The handler is wrapped to
// adapt a Temporal workflow.Context into engine.WorkflowContext.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid workflow definition")
	}
	e.mu.Lock()
	if _, exists := e.workflows[def.Name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	e.mu.Unlock()

	queue := def.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}
	bundle.registerWorkflow(def.Name, func(tctx workflow.Context, input any) (any, error) {
		wfCtx := newTemporalWorkflowContext(e, tctx)
		return def.Handler(wfCtx, input)
	})
	return nil
}

// RegisterActivity registers an activity handler with the worker for its
// queue (or the engine's default queue).
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid activity definition")
	}
	queue := def.Options.Queue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}
	bundle.registerActivity(def.Name, func(actx context.Context, input any) (any, error) {
		return def.Handler(actx, input)
	})

	e.mu.Lock()
	e.activityOptions[def.Name] = def.Options
	e.mu.Unlock()
	return nil
}

// StartWorkflow launches a workflow execution on Temporal. Unless
// DisableWorkerAutoStart was set, this also starts every registered worker
// on first call.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	def, err := e.workflowDefinition(req.Workflow)
	if err != nil {
		return nil, err
	}

	if !e.autoStartDisabled {
		e.ensureWorkersStarted()
	}

	queue := req.TaskQueue
	if queue == "" {
		queue = def.TaskQueue
	}
	if queue == "" {
		queue = e.defaultQueue
	}

	opts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, def.Name, req.Input)
	if err != nil {
		return nil, err
	}
	return &workflowHandle{run: run, client: e.client}, nil
}

// Worker returns a controller for starting/stopping every worker this
// engine owns. Optional when auto-start is enabled (the default).
func (e *Engine) Worker() *WorkerController {
	return &WorkerController{engine: e}
}

// Close shuts down the Temporal client if the engine created it. If a
// pre-configured Client was passed to New, Close leaves it to the caller.
//
//nolint:unparam // error retained for interface symmetry with other adapters
func (e *Engine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *Engine) workerForQueue(queue string) (*workerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	if queue == "" {
		return nil, fmt.Errorf("temporal engine: no task queue configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if bundle, ok := e.workers[queue]; ok {
		return bundle, nil
	}
	w := worker.New(e.client, queue, e.workerOpts)
	bundle := &workerBundle{queue: queue, worker: w, logger: e.bundle.Logger}
	e.workers[queue] = bundle
	if e.workersStarted {
		bundle.start()
	}
	return bundle, nil
}

func (e *Engine) workflowDefinition(name string) (engine.WorkflowDefinition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.workflows[name]
	if !ok {
		return engine.WorkflowDefinition{}, fmt.Errorf("temporal engine: workflow %q is not registered", name)
	}
	return def, nil
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	if e.workersStarted {
		e.mu.Unlock()
		return
	}
	e.workersStarted = true
	bundles := make([]*workerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

func (e *Engine) activityDefaultsFor(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activityOptions[name]
}

// Start launches every registered worker. Subsequently registered
// workflows/activities are auto-started as their workers are created.
//
//nolint:unparam // error retained for future extensibility
func (c *WorkerController) Start() error {
	c.engine.ensureWorkersStarted()
	return nil
}

// Stop gracefully stops every worker the engine owns.
func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	bundles := make([]*workerBundle, 0, len(c.engine.workers))
	for _, b := range c.engine.workers {
		bundles = append(bundles, b)
	}
	c.engine.mu.Unlock()
	for _, b := range bundles {
		b.stop()
	}
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "err", err)
			}
		}()
	})
}

func (b *workerBundle) stop() {
	b.worker.Stop()
}

func (b *workerBundle) registerWorkflow(name string, fn any) {
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func (b *workerBundle) registerActivity(name string, fn any) {
	b.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func configureInstrumentation(opts InstrumentationOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(opts.MetricsOptions)
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}

func applyWorkerInstrumentation(opts *worker.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
}

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
