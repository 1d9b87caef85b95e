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
	"goa.design/flowengine/node"
)

// drive runs the graph starting at cur, mutating a private copy of visits as
// it goes, until the message reaches a terminal state, suspends, or routing
// fails outright.
func (r *Runner) drive(ctx context.Context, g *graph.Graph, cur string, in message.Message, visits map[string]int, runID string) (*Report, error) {
	report := &Report{RunID: runID, GraphID: g.ID()}
	sinceCheckpoint := 0

	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		n, ok := g.Node(cur)
		if !ok {
			return report, &NodeNotFound{NodeID: cur}
		}

		visits[cur]++
		if visits[cur] > g.MaxVisits() {
			return report, &CycleDetected{NodeID: cur, Visits: visits[cur]}
		}

		in = in.WithIdentity(g.ID(), cur, runID)
		beforeIn, err := r.middlewareChain.BeforeNode(ctx, cur, in)
		if err != nil {
			return report, fmt.Errorf("runner: beforeNode %s: %w", cur, err)
		}
		in = beforeIn

		r.publish(ctx, hooks.Event{Type: hooks.EventNodeStart, GraphID: g.ID(), RunID: runID, NodeID: cur, Timestamp: r.now()})

		execNode := n
		if sg, ok := n.(*graph.SubgraphNode); ok {
			execNode = sg.WithInvoker(r)
		}

		start := time.Now()
		out, cacheHit, runErr := r.runNode(ctx, execNode, in)
		duration := time.Since(start)

		nr := NodeReport{NodeID: cur, Duration: duration, CacheHit: cacheHit}
		if runErr != nil {
			nr.Status = StatusFailed
			nr.Error = runErr.Error()
			report.NodeReports = append(report.NodeReports, nr)

			r.publish(ctx, hooks.Event{Type: hooks.EventNodeError, GraphID: g.ID(), RunID: runID, NodeID: cur, Err: runErr, Timestamp: r.now()})

			if onErr := r.middlewareChain.OnError(ctx, cur, in, runErr); onErr != nil {
				if r.checkpointOnError {
					r.saveCheckpoint(ctx, g.ID(), runID, cur, in, visits)
				}
				failed, ferr := in.TransitionTo(message.StateFailed, onErr.Error(), cur, r.now())
				if ferr != nil {
					failed = in
				}
				report.Status = StatusFailed
				report.FinalMessage = failed
				report.Error = onErr
				r.publish(ctx, hooks.Event{Type: hooks.EventRunFailed, GraphID: g.ID(), RunID: runID, NodeID: cur, Err: onErr, Timestamp: r.now()})
				return report, onErr
			}
			// Recovered: continue the run with the pre-node message.
			out = in
		} else {
			nr.Status = StatusCompleted
			report.NodeReports = append(report.NodeReports, nr)
			r.publish(ctx, hooks.Event{Type: hooks.EventNodeSuccess, GraphID: g.ID(), RunID: runID, NodeID: cur, Timestamp: r.now()})
		}

		out, err = r.middlewareChain.AfterNode(ctx, cur, out)
		if err != nil {
			return report, fmt.Errorf("runner: afterNode %s: %w", cur, err)
		}

		sinceCheckpoint++
		if out.State == message.StateWaiting {
			cpID := r.saveCheckpoint(ctx, g.ID(), runID, cur, out, visits)
			report.Status = StatusWaiting
			report.FinalMessage = out
			report.CheckpointID = cpID
			r.publish(ctx, hooks.Event{Type: hooks.EventRunSuspended, GraphID: g.ID(), RunID: runID, NodeID: cur, Timestamp: r.now()})
			return report, nil
		}

		if out.State.IsTerminal() {
			return r.finish(ctx, g, cur, out, report, runID)
		}

		if r.checkpointEvery > 0 && sinceCheckpoint >= r.checkpointEvery {
			r.saveCheckpoint(ctx, g.ID(), runID, cur, out, visits)
			sinceCheckpoint = 0
		}

		next, hasNext, err := r.nextNode(ctx, g, cur, out)
		if err != nil {
			out2, terr := out.TransitionTo(message.StateFailed, err.Error(), cur, r.now())
			if terr != nil {
				out2 = out
			}
			report.Status = StatusFailed
			report.FinalMessage = out2
			report.Error = err
			return report, err
		}
		if !hasNext {
			done, terr := out.TransitionTo(message.StateCompleted, "dead-end", cur, r.now())
			if terr != nil {
				done = out
			}
			return r.finish(ctx, g, cur, done, report, runID)
		}

		cur = next
		in = out
	}
}

// finish runs AfterExecution, extracts the run's Result (via node.OutputNode
// if the terminal node is one), and deletes any lingering checkpoints for
// runID since the run is now in a terminal state.
func (r *Runner) finish(ctx context.Context, g *graph.Graph, lastNodeID string, out message.Message, report *Report, runID string) (*Report, error) {
	final, err := r.middlewareChain.AfterExecution(ctx, out)
	if err != nil {
		return report, fmt.Errorf("runner: afterExecution: %w", err)
	}
	report.FinalMessage = final

	if final.State == message.StateFailed {
		report.Status = StatusFailed
		r.publish(ctx, hooks.Event{Type: hooks.EventRunFailed, GraphID: g.ID(), RunID: runID, NodeID: lastNodeID, Timestamp: r.now()})
	} else {
		report.Status = StatusCompleted
		if n, ok := g.Node(lastNodeID); ok {
			if outNode, ok := n.(*node.OutputNode); ok {
				report.Result = outNode.Result(final)
			} else {
				report.Result = final.Content
			}
		} else {
			report.Result = final.Content
		}
		r.publish(ctx, hooks.Event{Type: hooks.EventRunCompleted, GraphID: g.ID(), RunID: runID, NodeID: lastNodeID, Timestamp: r.now()})
	}

	if r.checkpoints != nil {
		_ = r.checkpoints.DeleteByRun(ctx, runID)
	}
	return report, nil
}

// runNode executes n, consulting the idempotency cache first when n is a
// node.Invoker and a Manager is configured.
func (r *Runner) runNode(ctx context.Context, n node.Node, in message.Message) (message.Message, bool, error) {
	inv, ok := n.(node.Invoker)
	if !ok || r.idempotency == nil {
		out, err := n.Run(ctx, in)
		return out, false, err
	}

	params, err := inv.Params(in)
	if err != nil {
		return message.Message{}, false, fmt.Errorf("node %s: resolve params: %w", n.ID(), err)
	}
	fp, err := idempotency.Fingerprint(idempotency.KindToolCall, inv.ToolName(), params)
	if err != nil {
		return message.Message{}, false, err
	}

	var cacheHit bool
	v, hit, err := r.idempotency.Once(ctx, idempotency.KindToolCall, fp, func(ctx context.Context) (any, error) {
		return inv.Invoke(ctx, in, params)
	})
	cacheHit = hit
	if err != nil {
		return message.Message{}, cacheHit, err
	}
	out, ok := v.(message.Message)
	if !ok {
		return message.Message{}, cacheHit, fmt.Errorf("node %s: cached value is not a message.Message", n.ID())
	}
	if cacheHit {
		out = out.WithMetadata(node.MetaCacheHit, true)
		r.publish(ctx, hooks.Event{Type: hooks.EventCacheHit, GraphID: out.GraphID, RunID: out.RunID, NodeID: n.ID(), Fingerprint: fp, Timestamp: r.now()})
	}
	return out, cacheHit, nil
}

func (r *Runner) saveCheckpoint(ctx context.Context, graphID, runID, nodeID string, msg message.Message, visits map[string]int) string {
	if r.checkpoints == nil {
		return ""
	}
	id := uuid.NewString()
	vc := make(map[string]int, len(visits))
	for k, v := range visits {
		vc[k] = v
	}
	cp := checkpoint.Checkpoint{
		ID:          id,
		GraphID:     graphID,
		RunID:       runID,
		NodeID:      nodeID,
		Message:     msg,
		VisitCounts: vc,
		CreatedAt:   r.now(),
	}
	if err := r.checkpoints.Save(ctx, cp); err != nil {
		if r.telemetry.Logger != nil {
			r.telemetry.Logger.Error(ctx, "checkpoint save failed", "graph", graphID, "run", runID, "node", nodeID, "err", err)
		}
		return ""
	}
	return id
}

func (r *Runner) publish(ctx context.Context, event hooks.Event) {
	if r.hooks == nil {
		return
	}
	if err := r.hooks.Publish(ctx, event); err != nil && r.telemetry.Logger != nil {
		r.telemetry.Logger.Warn(ctx, "hook subscriber error", "event", event.Type, "err", err)
	}
}
