package node

import (
	"context"
	"time"

	"goa.design/flowengine/message"
)

// Selector extracts the final run result from a terminal Message.
type Selector func(m message.Message) any

// OutputNode is terminal: it has no outgoing edges, and its Selector produces
// the value surfaced on Report.Result when the run completes successfully.
type OutputNode struct {
	NodeID   string
	Selector Selector
}

// ID implements Node.
func (n *OutputNode) ID() string { return n.NodeID }

// Run implements Node: it transitions the message to StateCompleted. The
// Selector is invoked by the Runner after this transition so it observes the
// final, completed message.
func (n *OutputNode) Run(_ context.Context, in message.Message) (message.Message, error) {
	return in.TransitionTo(message.StateCompleted, "output-reached", n.NodeID, time.Now().UTC())
}

// Result applies Selector, defaulting to returning Content when Selector is
// nil.
func (n *OutputNode) Result(m message.Message) any {
	if n.Selector == nil {
		return m.Content
	}
	return n.Selector(m)
}
