// Package middleware provides the five-hook transformer chain a Runner
// drives around every node execution: beforeExecution/afterExecution bracket
// the whole run, beforeNode/afterNode bracket each node, and onError is
// notified whenever a node or the run itself fails.
package middleware

import (
	"context"

	"goa.design/flowengine/message"
)

// Transformer is a single middleware link. Every hook receives the message
// the engine was about to process (or just produced) and may return a
// modified copy; returning the input unchanged is always safe. A nil
// Transformer method is treated as a no-op passthrough.
type Transformer interface {
	// BeforeExecution runs once, before the run's entry node executes.
	BeforeExecution(ctx context.Context, in message.Message) (message.Message, error)
	// BeforeNode runs before every node execution.
	BeforeNode(ctx context.Context, nodeID string, in message.Message) (message.Message, error)
	// AfterNode runs after every node execution that succeeded or whose
	// error OnError suppressed.
	AfterNode(ctx context.Context, nodeID string, out message.Message) (message.Message, error)
	// AfterExecution runs once, when a run driven through the graph completes
	// at an output node or a dead end. It is not called when the run fails or
	// suspends, nor when Resume completes because the resumed node has no
	// outgoing edges.
	AfterExecution(ctx context.Context, out message.Message) (message.Message, error)
	// OnError is notified when a node or the run fails. It may return a
	// replacement error (e.g. wrapped with more context) or nil to suppress
	// propagation, in which case the chain's caller treats the step as
	// recovered and continues with the last good message. It never mutates
	// the message itself.
	OnError(ctx context.Context, nodeID string, in message.Message, err error) error
}

// NoOpTransformer implements Transformer with pure passthroughs; embed it to
// implement only the hooks a given transformer cares about.
type NoOpTransformer struct{}

func (NoOpTransformer) BeforeExecution(_ context.Context, in message.Message) (message.Message, error) {
	return in, nil
}
func (NoOpTransformer) BeforeNode(_ context.Context, _ string, in message.Message) (message.Message, error) {
	return in, nil
}
func (NoOpTransformer) AfterNode(_ context.Context, _ string, out message.Message) (message.Message, error) {
	return out, nil
}
func (NoOpTransformer) AfterExecution(_ context.Context, out message.Message) (message.Message, error) {
	return out, nil
}
func (NoOpTransformer) OnError(_ context.Context, _ string, _ message.Message, err error) error {
	return err
}

// Chain runs an ordered list of Transformers. When ContinueOnFailure is
// false (the default), the first Transformer to return an error from any
// hook stops the chain and that error is returned to the caller. When true,
// a failing Transformer is skipped (its error discarded) so the
// remaining transformers in the chain still run; this is useful for
// best-effort observability transformers (e.g. metrics emission) that
// should never be allowed to abort a run.
type Chain struct {
	Transformers      []Transformer
	ContinueOnFailure bool
}

// NewChain builds a Chain from the given transformers, evaluated in order.
func NewChain(continueOnFailure bool, transformers ...Transformer) *Chain {
	return &Chain{Transformers: transformers, ContinueOnFailure: continueOnFailure}
}

func (c *Chain) BeforeExecution(ctx context.Context, in message.Message) (message.Message, error) {
	cur := in
	for _, t := range c.Transformers {
		out, err := t.BeforeExecution(ctx, cur)
		if err != nil {
			if !c.ContinueOnFailure {
				return cur, err
			}
			continue
		}
		cur = out
	}
	return cur, nil
}

func (c *Chain) BeforeNode(ctx context.Context, nodeID string, in message.Message) (message.Message, error) {
	cur := in
	for _, t := range c.Transformers {
		out, err := t.BeforeNode(ctx, nodeID, cur)
		if err != nil {
			if !c.ContinueOnFailure {
				return cur, err
			}
			continue
		}
		cur = out
	}
	return cur, nil
}

func (c *Chain) AfterNode(ctx context.Context, nodeID string, out message.Message) (message.Message, error) {
	cur := out
	for _, t := range c.Transformers {
		next, err := t.AfterNode(ctx, nodeID, cur)
		if err != nil {
			if !c.ContinueOnFailure {
				return cur, err
			}
			continue
		}
		cur = next
	}
	return cur, nil
}

func (c *Chain) AfterExecution(ctx context.Context, out message.Message) (message.Message, error) {
	cur := out
	for _, t := range c.Transformers {
		next, err := t.AfterExecution(ctx, cur)
		if err != nil {
			if !c.ContinueOnFailure {
				return cur, err
			}
			continue
		}
		cur = next
	}
	return cur, nil
}

// OnError notifies every transformer in order. The first non-nil error
// returned wins unless ContinueOnFailure is set, in which case OnError
// always returns the original err (individual transformer overrides are
// best-effort only and never suppress a failure once ContinueOnFailure
// signals the chain should keep going regardless).
func (c *Chain) OnError(ctx context.Context, nodeID string, in message.Message, err error) error {
	cur := err
	for _, t := range c.Transformers {
		next := t.OnError(ctx, nodeID, in, cur)
		if c.ContinueOnFailure {
			continue
		}
		cur = next
		if cur == nil {
			return nil
		}
	}
	if c.ContinueOnFailure {
		return err
	}
	return cur
}
