package runner

import (
	"context"

	"goa.design/flowengine/edge"
	"goa.design/flowengine/graph"
	"goa.design/flowengine/message"
	"goa.design/flowengine/node"
)

// nextNode selects the outgoing edge to follow after nodeID produced out.
// Edges are already sorted by graph.Builder into ascending priority with
// non-fallback edges ahead of fallback edges and declaration order
// preserved among ties (see graph.sortEdges).
//
// A DecisionNode bypasses edge evaluation entirely: its Run stores the
// chosen target directly in Data under node.DataDecisionTarget, and that
// target is used verbatim as long as it names a real outgoing edge.
//
// Returns ("", false, nil) when nodeID has no outgoing edges at all (a
// deliberate dead end). Returns an error when edges exist but none match.
func (r *Runner) nextNode(ctx context.Context, g *graph.Graph, nodeID string, out message.Message) (string, bool, error) {
	edges := g.Edges(nodeID)

	if target, ok := out.Data[node.DataDecisionTarget].(string); ok && target != "" {
		for _, e := range edges {
			if e.To == target {
				return target, true, nil
			}
		}
		// The decision named a target with no corresponding edge; fall
		// through to ordinary edge evaluation as a defensive fallback rather
		// than failing a run over a wiring mismatch the graph Validate step
		// should have already caught.
	}

	if len(edges) == 0 {
		return "", false, nil
	}

	var fallback *edge.Edge
	for i := range edges {
		e := edges[i]
		matched, recovered := e.Matches(out)
		if recovered != nil {
			r.logPanic(ctx, nodeID, e, recovered)
			continue
		}
		if !matched {
			continue
		}
		if e.IsFallback {
			if fallback == nil {
				fallback = &edges[i]
			}
			continue
		}
		return e.To, true, nil
	}
	if fallback != nil {
		return fallback.To, true, nil
	}
	return "", false, &NoMatchingEdge{NodeID: nodeID}
}

func (r *Runner) logPanic(ctx context.Context, nodeID string, e edge.Edge, recovered any) {
	if r.telemetry.Logger == nil {
		return
	}
	r.telemetry.Logger.Warn(ctx, "edge condition panicked",
		"node", nodeID, "edge", e.Name, "target", e.To, "recovered", recovered)
}
