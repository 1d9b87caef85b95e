package node

import (
	"context"
	"fmt"

	"goa.design/flowengine/message"
)

// Predicate decides whether a Branch matches a given Message.
type Predicate func(m message.Message) bool

// Branch pairs a Predicate with the node ID to route to when it matches.
type Branch struct {
	Name      string
	Predicate Predicate
	Target    string
}

// DataDecisionTarget is the key under which DecisionNode stores the chosen
// target node ID. The Runner reads this key to synthesize the outgoing edge
// for a decision: DecisionNode routes without otherwise transforming the
// message.
const DataDecisionTarget = "_decision.target"

// NoMatchingBranch is returned when a DecisionNode finds no matching branch
// and no otherwise target is configured.
type NoMatchingBranch struct {
	NodeID string
}

func (e *NoMatchingBranch) Error() string {
	return fmt.Sprintf("decision %s: no matching branch", e.NodeID)
}

// DecisionNode evaluates branches in declaration order against the input
// Message; the first match wins and its Target is emitted as the decision's
// result. If no branch matches, Otherwise is used when non-empty; otherwise
// the node fails with NoMatchingBranch.
type DecisionNode struct {
	NodeID    string
	Branches  []Branch
	Otherwise string
}

// ID implements Node.
func (n *DecisionNode) ID() string { return n.NodeID }

// Run implements Node. It never returns a suspended (waiting) message: a
// decision either resolves to a target or fails.
func (n *DecisionNode) Run(_ context.Context, in message.Message) (message.Message, error) {
	for _, b := range n.Branches {
		if b.Predicate == nil || b.Predicate(in) {
			return in.WithData(DataDecisionTarget, b.Target), nil
		}
	}
	if n.Otherwise != "" {
		return in.WithData(DataDecisionTarget, n.Otherwise), nil
	}
	return message.Message{}, &NoMatchingBranch{NodeID: n.NodeID}
}
