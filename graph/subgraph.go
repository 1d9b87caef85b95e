package graph

import (
	"context"
	"fmt"
	"time"

	"goa.design/flowengine/message"
)

// DataSubgraphResult is the Data key under which a completed child run's
// final content is published on the parent message (child.content).
const DataSubgraphResult = "subgraph_result"

// DataSubgraphState is the Data key under which a completed child run's
// final message.State is published on the parent message (child.state).
const DataSubgraphState = "subgraph_state"

// DataSubgraphCheckpointID is the Data key a suspended child run's
// checkpoint ID is carried under, on both the child's own waiting message
// and the parent message checkpointed at the SubgraphNode. Resume uses it to
// locate the child checkpoint for the two-phase subgraph resume protocol.
const DataSubgraphCheckpointID = "_subgraph.checkpointId"

// Data keys recording the outcome of the most recently completed subgraph
// run, kept on the parent message after the merge-back so later nodes can
// inspect how the subgraph behaved without re-reading subgraph_result.
const (
	DataLastSubgraphDuration = "lastSubgraphDuration"
	DataLastSubgraphID       = "lastSubgraphId"
	DataLastSubgraphState    = "lastSubgraphState"
)

// Metadata keys SubgraphNode stamps onto a child run's initial message to
// mark it as running inside a subgraph and to let it find its way back.
const (
	MetaIsSubgraph        = "isSubgraph"
	MetaParentGraphID     = "parentGraphId"
	MetaSubgraphPath      = "subgraphPath"
	MetaSubgraphEnteredAt = "subgraphEnteredAt"
	MetaParentRunID       = "parentRunId"
)

// subgraphTrackingKeys are the metadata keys SubgraphNode adds on entry;
// they are stripped when metadata is merged back into the parent message on
// completion so parent metadata never picks up child-run bookkeeping.
var subgraphTrackingKeys = map[string]bool{
	MetaIsSubgraph:            true,
	MetaParentGraphID:         true,
	MetaSubgraphPath:          true,
	MetaSubgraphEnteredAt:     true,
	MetaParentRunID:           true,
	message.MetaSubgraphDepth: true,
}

// DefaultPreserveKeys lists the Metadata keys copied from the parent message
// onto a child run's initial message when a SubgraphNode does not set
// PreserveKeys explicitly.
var DefaultPreserveKeys = []string{
	"userId", "tenantId", "traceId", "spanId", "sessionToken", "correlationId", "isLoggedIn",
}

// DefaultMaxSubgraphDepth bounds subgraph nesting when a SubgraphNode does
// not set MaxDepth explicitly.
const DefaultMaxSubgraphDepth = 10

// SubgraphDepthExceeded is returned when a SubgraphNode's nesting depth
// would reach or exceed its MaxDepth (or DefaultMaxSubgraphDepth).
type SubgraphDepthExceeded struct {
	NodeID   string
	Depth    int
	MaxDepth int
}

func (e *SubgraphDepthExceeded) Error() string {
	return fmt.Sprintf("subgraph %s: depth %d exceeds max nesting depth %d", e.NodeID, e.Depth, e.MaxDepth)
}

// SubgraphInvoker drives a child Graph to completion or suspension. runner.Runner
// implements this; SubgraphNode depends only on the interface to avoid an
// import cycle between graph and runner.
type SubgraphInvoker interface {
	RunSubgraph(ctx context.Context, child *Graph, namespacedRunID string, in message.Message) (message.Message, error)
}

// SubgraphNode embeds a child Graph as a single node of a parent graph. It
// lives in package graph, not package node, because it needs a concrete
// *Graph field and node cannot import graph without creating a cycle
// (graph already imports node for the Node interface).
//
// SubgraphNode.Run does not itself execute the child graph: actual traversal
// requires a SubgraphInvoker (the Runner), which the caller installs via
// WithInvoker. This mirrors how HumanNode suspends rather than blocks: the
// heavy lifting of routing, checkpointing, and namespaced run IDs belongs to
// the Runner, not to the node type.
type SubgraphNode struct {
	NodeID string
	Child  *Graph
	// PreserveKeys lists Metadata keys copied from the parent message onto
	// the child run's initial message (e.g. tenant/session identifiers that
	// should flow into the subgraph even though it has its own namespaced
	// RunID). Defaults to DefaultPreserveKeys when empty.
	PreserveKeys []string
	// MaxDepth caps subgraph nesting; zero means DefaultMaxSubgraphDepth.
	MaxDepth int

	invoker SubgraphInvoker
}

// WithInvoker returns a copy of n wired to the given SubgraphInvoker. Runner
// calls this when adopting a graph so every SubgraphNode it touches can
// actually execute its child.
func (n *SubgraphNode) WithInvoker(invoker SubgraphInvoker) *SubgraphNode {
	cp := *n
	cp.invoker = invoker
	return &cp
}

// ID implements node.Node.
func (n *SubgraphNode) ID() string { return n.NodeID }

// NamespacedRunID builds the child run's identifier: parentRunID +
// ":subgraph:" + childGraphID.
func NamespacedRunID(parentRunID, childGraphID string) string {
	return fmt.Sprintf("%s:subgraph:%s", parentRunID, childGraphID)
}

// maxDepth returns n.MaxDepth, defaulting to DefaultMaxSubgraphDepth.
func (n *SubgraphNode) maxDepth() int {
	if n.MaxDepth > 0 {
		return n.MaxDepth
	}
	return DefaultMaxSubgraphDepth
}

func (n *SubgraphNode) preserveKeys() []string {
	if len(n.PreserveKeys) > 0 {
		return n.PreserveKeys
	}
	return DefaultPreserveKeys
}

// subgraphPath builds the arrow-separated nesting trail recorded on the
// child's initial message, extending whatever trail the parent already
// carried (empty for a root-level run).
func (n *SubgraphNode) subgraphPath(in message.Message) string {
	parent, _ := in.Metadata[MetaSubgraphPath].(string)
	if parent == "" {
		return in.GraphID + " -> " + n.Child.ID()
	}
	return parent + " -> " + n.Child.ID()
}

// childMessage constructs the child run's initial message per §4.5: a fresh
// message (new ID, StateReady, empty history) carrying in's content, only
// the configured PreserveKeys copied from in's metadata, and the tracking
// keys that mark it as a subgraph run.
func (n *SubgraphNode) childMessage(in message.Message, now time.Time) message.Message {
	depth := in.SubgraphDepth()

	childIn := message.New(in.Content)
	childIn = childIn.WithDataMap(in.Data)

	kv := make(map[string]any, len(n.preserveKeys())+5)
	for _, k := range n.preserveKeys() {
		if v, ok := in.Metadata[k]; ok {
			kv[k] = v
		}
	}
	kv[message.MetaSubgraphDepth] = depth + 1
	kv[MetaIsSubgraph] = true
	kv[MetaParentGraphID] = in.GraphID
	kv[MetaSubgraphPath] = n.subgraphPath(in)
	kv[MetaSubgraphEnteredAt] = now
	kv[MetaParentRunID] = in.RunID
	childIn = childIn.WithMetadataMap(kv)

	return childIn
}

// Run implements node.Node. It enforces the depth cap, constructs the
// child's initial message per §4.5, and delegates the actual walk to the
// configured SubgraphInvoker.
//
// On child completion, child Data is merged into the parent message (child
// wins on conflicts), subgraph_result/subgraph_state are published, child
// metadata is merged back (minus subgraph-internal tracking keys), the
// parent's identity is restored, and lastSubgraphDuration/lastSubgraphId/
// lastSubgraphState are recorded.
//
// On child suspension, the parent also suspends: the child's checkpoint ID
// is carried on the parent message under DataSubgraphCheckpointID so
// Resume's two-phase subgraph protocol can find it.
func (n *SubgraphNode) Run(ctx context.Context, in message.Message) (message.Message, error) {
	if n.Child == nil {
		return message.Message{}, fmt.Errorf("subgraph %s: no child graph configured", n.NodeID)
	}
	if n.invoker == nil {
		return message.Message{}, fmt.Errorf("subgraph %s: no invoker configured; call WithInvoker before use", n.NodeID)
	}
	depth := in.SubgraphDepth()
	if depth >= n.maxDepth() {
		return message.Message{}, &SubgraphDepthExceeded{NodeID: n.NodeID, Depth: depth, MaxDepth: n.maxDepth()}
	}

	now := time.Now().UTC()
	childIn := n.childMessage(in, now)

	runID := NamespacedRunID(in.RunID, n.Child.ID())
	childOut, err := n.invoker.RunSubgraph(ctx, n.Child, runID, childIn)
	if err != nil {
		return message.Message{}, fmt.Errorf("subgraph %s: %w", n.NodeID, err)
	}

	switch childOut.State {
	case message.StateCompleted:
		return n.completeWithChild(in, childOut, now, time.Now().UTC())
	case message.StateWaiting:
		// The child suspended (typically on a nested HumanNode, or a further
		// nested SubgraphNode). Bubble the suspension up: the parent run waits
		// too, and resumes this node once the nested run is resumed to
		// completion (see runner.Resume's two-phase subgraph protocol).
		out, terr := in.TransitionTo(message.StateWaiting, "subgraph-waiting", n.NodeID, time.Now().UTC())
		if terr != nil {
			return message.Message{}, terr
		}
		out = out.WithData(DataSubgraphResult, childOut)
		if cpID, ok := childOut.Data[DataSubgraphCheckpointID].(string); ok {
			out = out.WithData(DataSubgraphCheckpointID, cpID)
		}
		return out, nil
	case message.StateFailed:
		return message.Message{}, fmt.Errorf("subgraph %s: child run failed", n.NodeID)
	default:
		return message.Message{}, fmt.Errorf("subgraph %s: child run ended in unexpected state %q", n.NodeID, childOut.State)
	}
}

// completeWithChild implements the on-completion merge-back documented on
// Run: it is also called directly by runner.Resume once a two-phase
// subgraph resume drives the child checkpoint to completion, so the merge
// logic is identical whether the child completed within the same call that
// dispatched it or across a later Resume.
func (n *SubgraphNode) completeWithChild(parent, childOut message.Message, enteredAt, now time.Time) (message.Message, error) {
	out := parent.WithDataMap(childOut.Data)
	out = out.WithData(DataSubgraphResult, childOut.Content)
	out = out.WithData(DataSubgraphState, childOut.State)
	out = out.WithData(DataLastSubgraphDuration, now.Sub(enteredAt))
	out = out.WithData(DataLastSubgraphID, n.Child.ID())
	out = out.WithData(DataLastSubgraphState, childOut.State)

	kv := make(map[string]any, len(childOut.Metadata))
	for k, v := range childOut.Metadata {
		if subgraphTrackingKeys[k] {
			continue
		}
		kv[k] = v
	}
	out = out.WithMetadataMap(kv)
	out = out.WithIdentity(parent.GraphID, n.NodeID, parent.RunID)

	return out.TransitionTo(message.StateRunning, "subgraph-complete", n.NodeID, now)
}

// CompleteWithChild exports completeWithChild for runner.Resume's two-phase
// subgraph resume protocol: once the child checkpoint resumes to
// completion, the parent continues from this node via the same merge-back
// logic Run uses when the child completes synchronously.
func (n *SubgraphNode) CompleteWithChild(parent, childOut message.Message, enteredAt, now time.Time) (message.Message, error) {
	return n.completeWithChild(parent, childOut, enteredAt, now)
}

// EnteredAt reads MetaSubgraphEnteredAt back off a child message (the
// child's own message carries it forward from childMessage through to its
// final state unless something explicitly overwrites it), falling back to
// now if absent so a duration is never negative-nonsensical.
func EnteredAt(childMessage message.Message, fallback time.Time) time.Time {
	if t, ok := childMessage.Metadata[MetaSubgraphEnteredAt].(time.Time); ok {
		return t
	}
	return fallback
}
