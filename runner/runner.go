// Package runner drives a graph.Graph: it walks nodes in the order edges
// dictate, persists checkpoints when a node suspends, enforces cycle limits,
// consults the idempotency cache before invoking tools, and fans out
// lifecycle notifications to any configured hooks.Bus. Routing itself lives
// in routing.go; this file holds the Runner type and its two entry points,
// Run and Resume.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"goa.design/flowengine/checkpoint"
	"goa.design/flowengine/graph"
	"goa.design/flowengine/hooks"
	"goa.design/flowengine/idempotency"
	"goa.design/flowengine/message"
	"goa.design/flowengine/middleware"
	"goa.design/flowengine/node"
	"goa.design/flowengine/telemetry"
)

// Runner executes graphs. The zero value is not usable; construct one with
// New.
type Runner struct {
	checkpoints checkpoint.Store
	idempotency *idempotency.Manager
	middlewareChain *middleware.Chain
	hooks       hooks.Bus
	telemetry   telemetry.Bundle
	clock       func() time.Time

	// checkpointEvery, when > 0, takes a periodic checkpoint every N node
	// executions in addition to the mandatory checkpoint taken whenever a
	// node suspends. Zero disables periodic checkpointing.
	checkpointEvery int
	checkpointOnError bool
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithIdempotency wires a cache manager used to short-circuit repeated
// node.Invoker calls (typically ToolNode).
func WithIdempotency(mgr *idempotency.Manager) Option {
	return func(r *Runner) { r.idempotency = mgr }
}

// WithMiddleware wires a transformer chain around every node and the run as
// a whole.
func WithMiddleware(chain *middleware.Chain) Option {
	return func(r *Runner) { r.middlewareChain = chain }
}

// WithHooks wires a lifecycle event bus.
func WithHooks(bus hooks.Bus) Option {
	return func(r *Runner) { r.hooks = bus }
}

// WithTelemetry wires logging, metrics, and tracing.
func WithTelemetry(bundle telemetry.Bundle) Option {
	return func(r *Runner) { r.telemetry = bundle }
}

// WithClock overrides time.Now, for deterministic tests and for replay-safe
// execution inside a durable-execution backend (see backends/temporal).
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithCheckpointEvery takes a periodic checkpoint every n node executions,
// independent of suspension. n <= 0 disables periodic checkpointing
// (suspension still always checkpoints).
func WithCheckpointEvery(n int) Option {
	return func(r *Runner) { r.checkpointEvery = n }
}

// WithCheckpointOnError takes a checkpoint immediately before a node
// execution that is about to fail permanently (after OnError declines to
// recover it), so a failed run can be inspected or retried from its last
// good state.
func WithCheckpointOnError(enabled bool) Option {
	return func(r *Runner) { r.checkpointOnError = enabled }
}

// New constructs a Runner backed by checkpoints. Options configure optional
// caching, middleware, hooks, and telemetry; omitted options default to
// no-ops.
func New(checkpoints checkpoint.Store, opts ...Option) *Runner {
	r := &Runner{
		checkpoints: checkpoints,
		telemetry:   telemetry.NoopBundle(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.middlewareChain == nil {
		r.middlewareChain = middleware.NewChain(false)
	}
	return r
}

func (r *Runner) now() time.Time { return r.clock().UTC() }

// Run starts a new execution of g from its entry point with in as the
// initial message. in should be message.New(...)'d by the caller and in
// StateReady; Run transitions it to StateRunning before the entry node
// executes.
func (r *Runner) Run(ctx context.Context, g *graph.Graph, in message.Message) (*Report, error) {
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	started, err := in.TransitionTo(message.StateRunning, "run-started", g.EntryPoint(), r.now())
	if err != nil {
		return nil, fmt.Errorf("runner: start: %w", err)
	}
	started = started.WithIdentity(g.ID(), g.EntryPoint(), runID)

	started, err = r.middlewareChain.BeforeExecution(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("runner: beforeExecution: %w", err)
	}

	return r.drive(ctx, g, g.EntryPoint(), started, map[string]int{}, runID)
}

// RunSubgraph implements graph.SubgraphInvoker: it drives child to
// completion or suspension under the given namespaced run ID, returning the
// child's final message directly (not wrapped in a Report) since
// graph.SubgraphNode.Run folds the outcome back into the parent message
// itself. When the child suspends, its checkpoint ID is embedded on the
// returned message under graph.DataSubgraphCheckpointID so the enclosing
// SubgraphNode (and later, Resume's two-phase subgraph protocol) can find
// it without the caller needing the full Report.
func (r *Runner) RunSubgraph(ctx context.Context, child *graph.Graph, namespacedRunID string, in message.Message) (message.Message, error) {
	started, err := in.TransitionTo(message.StateRunning, "subgraph-started", child.EntryPoint(), r.now())
	if err != nil {
		return message.Message{}, fmt.Errorf("runner: start subgraph: %w", err)
	}
	in = started.WithIdentity(child.ID(), child.EntryPoint(), namespacedRunID)
	report, err := r.drive(ctx, child, child.EntryPoint(), in, map[string]int{}, namespacedRunID)
	if err != nil {
		return message.Message{}, err
	}
	final := report.FinalMessage
	if report.Status == StatusWaiting && report.CheckpointID != "" {
		final = final.WithData(graph.DataSubgraphCheckpointID, report.CheckpointID)
	}
	return final, nil
}

// Resume continues a suspended run identified by checkpointID. g must be
// the same graph (by ID) the checkpoint was taken against. response is
// validated against the suspended node's Validator (if any, when the
// suspended node is a HumanLike node) and merged into the message under
// node.DataHumanResponse before routing proceeds from the suspended node's
// outgoing edges; the suspended node itself is not re-run. When the
// suspended node is a SubgraphNode, Resume instead drives the two-phase
// subgraph resume protocol: response is delivered to whichever node
// actually suspended inside the child graph (however deeply nested), and
// once the child run reaches a terminal state, the parent continues from
// the SubgraphNode's outgoing edges.
func (r *Runner) Resume(ctx context.Context, g *graph.Graph, checkpointID string, response any) (*Report, error) {
	cp, err := r.checkpoints.Load(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("runner: resume: %w", err)
	}
	if cp.GraphID != g.ID() {
		return nil, &NotResumable{Reason: fmt.Sprintf("checkpoint graph %q does not match %q", cp.GraphID, g.ID())}
	}
	n, ok := g.Node(cp.NodeID)
	if !ok {
		return nil, &NodeNotFound{NodeID: cp.NodeID}
	}

	if sg, ok := n.(*graph.SubgraphNode); ok {
		return r.resumeSubgraph(ctx, g, sg, cp, response)
	}

	humanLike, ok := n.(node.HumanLike)
	if !ok {
		return nil, &NotResumable{Reason: fmt.Sprintf("node %q is not resumable", cp.NodeID)}
	}
	return r.resumeHuman(ctx, g, humanLike, cp, response)
}

// resumeHuman implements Resume's leaf case: the checkpointed node is a
// HumanLike node (HumanNode or DynamicHumanNode).
func (r *Runner) resumeHuman(ctx context.Context, g *graph.Graph, humanLike node.HumanLike, cp checkpoint.Checkpoint, response any) (*Report, error) {
	if validator := humanLike.ValidatorFor(); validator != nil {
		if err := validator(response); err != nil {
			return nil, &ValidationFailed{NodeID: cp.NodeID, Err: err}
		}
	}
	if hi, ok := cp.Message.Data[node.DataHumanInteraction].(node.HumanInteraction); ok {
		if !hi.ExpiresAt.IsZero() && r.now().After(hi.ExpiresAt) {
			return nil, &InteractionExpired{NodeID: cp.NodeID, ExpiresAt: hi.ExpiresAt}
		}
	}

	resumed := cp.Message.WithData(node.DataHumanResponse, response)
	resumed, err := resumed.TransitionTo(message.StateRunning, "resumed", cp.NodeID, r.now())
	if err != nil {
		return nil, fmt.Errorf("runner: resume: %w", err)
	}

	next, hasNext, err := r.nextNode(ctx, g, cp.NodeID, resumed)
	if err != nil {
		return nil, fmt.Errorf("runner: resume: %w", err)
	}
	if err := r.checkpoints.Delete(ctx, cp.ID); err != nil {
		return nil, fmt.Errorf("runner: resume: delete checkpoint: %w", err)
	}
	if !hasNext {
		final, err := resumed.TransitionTo(message.StateCompleted, "dead-end", cp.NodeID, r.now())
		if err != nil {
			return nil, err
		}
		return &Report{RunID: cp.RunID, GraphID: g.ID(), Status: StatusCompleted, FinalMessage: final, Result: final.Content}, nil
	}

	return r.drive(ctx, g, next, resumed, cp.VisitCounts, cp.RunID)
}

// resumeSubgraph implements Resume's two-phase subgraph case (§4.5): the
// child checkpoint referenced from cp is resumed first (recursively, since
// the child may itself be suspended on a further nested SubgraphNode); if
// the child is still suspended afterward, the parent checkpoint is rewritten
// to point at the child's new checkpoint and the parent stays waiting. Once
// the child reaches a terminal state, the parent continues from sg's
// outgoing edges using the same merge-back logic sg.Run applies when a
// child completes synchronously.
func (r *Runner) resumeSubgraph(ctx context.Context, g *graph.Graph, sg *graph.SubgraphNode, cp checkpoint.Checkpoint, response any) (*Report, error) {
	childCheckpointID, ok := cp.Message.Data[graph.DataSubgraphCheckpointID].(string)
	if !ok || childCheckpointID == "" {
		return nil, &NotResumable{Reason: fmt.Sprintf("subgraph node %q has no pending child checkpoint", cp.NodeID)}
	}

	childReport, err := r.Resume(ctx, sg.Child, childCheckpointID, response)
	if err != nil {
		return nil, fmt.Errorf("runner: resume subgraph %s: %w", cp.NodeID, err)
	}

	if childReport.Status == StatusWaiting {
		waitingChild := childReport.FinalMessage
		if childReport.CheckpointID != "" {
			waitingChild = waitingChild.WithData(graph.DataSubgraphCheckpointID, childReport.CheckpointID)
		}
		out := cp.Message.WithData(graph.DataSubgraphResult, waitingChild)
		out = out.WithData(graph.DataSubgraphCheckpointID, childReport.CheckpointID)

		newCP := cp
		newCP.Message = out
		if err := r.checkpoints.Save(ctx, newCP); err != nil {
			return nil, fmt.Errorf("runner: resume subgraph %s: save checkpoint: %w", cp.NodeID, err)
		}
		return &Report{RunID: cp.RunID, GraphID: g.ID(), Status: StatusWaiting, FinalMessage: out, CheckpointID: cp.ID}, nil
	}

	if childReport.Status == StatusFailed {
		if err := r.checkpoints.Delete(ctx, cp.ID); err != nil {
			return nil, fmt.Errorf("runner: resume subgraph %s: delete checkpoint: %w", cp.NodeID, err)
		}
		return nil, fmt.Errorf("subgraph %s: child run failed", cp.NodeID)
	}

	enteredAt := graph.EnteredAt(childReport.FinalMessage, r.now())
	resumed, err := sg.CompleteWithChild(cp.Message, childReport.FinalMessage, enteredAt, r.now())
	if err != nil {
		return nil, fmt.Errorf("runner: resume subgraph %s: %w", cp.NodeID, err)
	}

	next, hasNext, err := r.nextNode(ctx, g, cp.NodeID, resumed)
	if err != nil {
		return nil, fmt.Errorf("runner: resume subgraph %s: %w", cp.NodeID, err)
	}
	if err := r.checkpoints.Delete(ctx, cp.ID); err != nil {
		return nil, fmt.Errorf("runner: resume subgraph %s: delete checkpoint: %w", cp.NodeID, err)
	}
	if !hasNext {
		final, err := resumed.TransitionTo(message.StateCompleted, "dead-end", cp.NodeID, r.now())
		if err != nil {
			return nil, err
		}
		return &Report{RunID: cp.RunID, GraphID: g.ID(), Status: StatusCompleted, FinalMessage: final, Result: final.Content}, nil
	}

	return r.drive(ctx, g, next, resumed, cp.VisitCounts, cp.RunID)
}

// GetPendingInteractions returns the chain of HumanInteraction descriptors
// leading to whichever node actually suspended the run identified by
// checkpointID: a single entry when checkpointID names a suspended
// HumanLike node directly, or the nested child's interaction(s) when it
// names a suspended SubgraphNode (walking the DataSubgraphCheckpointID
// chain as deep as the suspension goes).
func (r *Runner) GetPendingInteractions(ctx context.Context, checkpointID string) ([]node.HumanInteraction, error) {
	cp, err := r.checkpoints.Load(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("runner: getPendingInteractions: %w", err)
	}
	return r.pendingInteractions(ctx, cp.Message)
}

func (r *Runner) pendingInteractions(ctx context.Context, msg message.Message) ([]node.HumanInteraction, error) {
	if hi, ok := msg.Data[node.DataHumanInteraction].(node.HumanInteraction); ok {
		return []node.HumanInteraction{hi}, nil
	}
	if childCheckpointID, ok := msg.Data[graph.DataSubgraphCheckpointID].(string); ok && childCheckpointID != "" {
		child, err := r.checkpoints.Load(ctx, childCheckpointID)
		if err != nil {
			return nil, fmt.Errorf("runner: getPendingInteractions: load child checkpoint: %w", err)
		}
		return r.pendingInteractions(ctx, child.Message)
	}
	return nil, nil
}
