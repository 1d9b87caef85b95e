package node

import (
	"context"
	"fmt"

	"goa.design/flowengine/message"
)

// Tool is a side-effecting callable identified by name, invoked with a
// parameter mapping and returning a structured result. Concrete tool
// implementations are host-provided; the engine only depends on this
// interface.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, params map[string]any) (any, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc struct {
	ToolNameValue string
	Fn            func(ctx context.Context, params map[string]any) (any, error)
}

// Name implements Tool.
func (f ToolFunc) Name() string { return f.ToolNameValue }

// Invoke implements Tool.
func (f ToolFunc) Invoke(ctx context.Context, params map[string]any) (any, error) {
	return f.Fn(ctx, params)
}

// ParamMapper extracts a parameter mapping from an input Message for a tool
// invocation, e.g. reading fields out of Data or parsing Content.
type ParamMapper func(in message.Message) (map[string]any, error)

// Data keys populated on a ToolNode's output message.
const (
	DataToolResult       = "tool_result"
	DataToolSuccess      = "tool_success"
	DataToolName         = "tool_name"
	DataToolLastMetadata = "_tool.lastMetadata"
)

// MetaCacheHit is the Metadata key the Runner sets to true on a node's
// output message when its result was served from the idempotency cache
// rather than by invoking the node.Invoker.
const MetaCacheHit = "cache_hit"

// ToolNode invokes a Tool with parameters derived from the input Message via
// ParamMapper and embeds the result into the output message's Data.
//
// ToolNode itself performs no caching: the Runner wraps tool invocation with
// idempotency lookups and lifecycle notifications (see the Invoker
// interface below), keeping the node's own Run implementation simple and
// directly testable.
type ToolNode struct {
	NodeID      string
	Tool        Tool
	ParamMapper ParamMapper
}

// ID implements Node.
func (n *ToolNode) ID() string { return n.NodeID }

// Params implements Invoker: it resolves the tool call's parameter mapping
// without invoking the tool, so the Runner can compute a cache fingerprint
// before deciding whether to call Tool.Invoke at all.
func (n *ToolNode) Params(in message.Message) (map[string]any, error) {
	if n.ParamMapper == nil {
		return map[string]any{}, nil
	}
	return n.ParamMapper(in)
}

// ToolName implements Invoker.
func (n *ToolNode) ToolName() string { return n.Tool.Name() }

// Invoke implements Invoker: it calls the underlying tool directly with an
// already-resolved parameter mapping and embeds the result shape into a copy
// of in. It does not re-resolve params from in.
func (n *ToolNode) Invoke(ctx context.Context, in message.Message, params map[string]any) (message.Message, error) {
	result, err := n.Tool.Invoke(ctx, params)
	if err != nil {
		out := in.WithData(DataToolSuccess, false).WithData(DataToolName, n.Tool.Name())
		return out, fmt.Errorf("tool %s: %w", n.Tool.Name(), err)
	}
	out := in.WithData(DataToolResult, result)
	out = out.WithData(DataToolSuccess, true)
	out = out.WithData(DataToolName, n.Tool.Name())
	return out, nil
}

// Run implements Node by resolving params and invoking the tool directly,
// without caching. This is the path taken when the Runner has no
// idempotency.Manager (see runner.WithIdempotency); otherwise the Runner
// calls Invoke directly after consulting the cache.
func (n *ToolNode) Run(ctx context.Context, in message.Message) (message.Message, error) {
	params, err := n.Params(in)
	if err != nil {
		return message.Message{}, fmt.Errorf("tool %s: resolve params: %w", n.Tool.Name(), err)
	}
	return n.Invoke(ctx, in, params)
}

// Invoker is implemented by nodes whose work the Runner may cache via an
// IdempotencyStore. ToolNode is the built-in implementation; user-defined
// node types may implement it too.
type Invoker interface {
	Node
	ToolName() string
	Params(in message.Message) (map[string]any, error)
	Invoke(ctx context.Context, in message.Message, params map[string]any) (message.Message, error)
}

var _ Invoker = (*ToolNode)(nil)
