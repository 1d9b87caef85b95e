// Package node defines the polymorphic unit of work executed by a Runner.
// Built-in variants cover the shapes enumerated by the design: agents, tools,
// decisions, human-in-the-loop pauses, terminal outputs, and the merge/
// parallel combinators. User-supplied nodes need only implement Node.
//
// A node that wants to suspend execution (pending a human decision or an
// async callback) returns a Message whose State is message.StateWaiting; it
// never blocks the calling goroutine. The Runner is responsible for
// persisting a checkpoint and returning control to its caller when it
// observes a waiting message.
package node

import (
	"context"

	"goa.design/flowengine/message"
)

// Node is the capability set every graph participant implements: an
// identifier and a single Run method that consumes a Message and produces
// either a successor Message or an error.
//
// Implementations must be safe to invoke repeatedly and must not retain the
// input Message for mutation after Run returns; Message is treated as
// value-typed throughout the engine.
type Node interface {
	// ID returns the node's identifier, unique within its owning Graph.
	ID() string
	// Run executes the node against the input message and returns the
	// resulting message (or an error). A returned message with
	// State == message.StateWaiting signals suspension; the Runner persists a
	// checkpoint and returns control to its caller rather than routing further.
	Run(ctx context.Context, in message.Message) (message.Message, error)
}

// Func adapts a plain function to the Node interface, for small or
// inline nodes (tests, demos) that do not warrant a dedicated type.
type Func struct {
	NodeID string
	Fn     func(ctx context.Context, in message.Message) (message.Message, error)
}

// ID implements Node.
func (f Func) ID() string { return f.NodeID }

// Run implements Node.
func (f Func) Run(ctx context.Context, in message.Message) (message.Message, error) {
	return f.Fn(ctx, in)
}
