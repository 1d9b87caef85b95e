package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/graph"
	"goa.design/flowengine/message"
)

func timeNow() time.Time { return time.Now().UTC() }

type fakeInvoker struct {
	out message.Message
	err error

	lastChild *graph.Graph
	lastRunID string
	lastIn    message.Message
}

func (f *fakeInvoker) RunSubgraph(_ context.Context, child *graph.Graph, namespacedRunID string, in message.Message) (message.Message, error) {
	f.lastChild = child
	f.lastRunID = namespacedRunID
	f.lastIn = in
	return f.out, f.err
}

func childGraph(t *testing.T, id string) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder(id)
	require.NoError(t, b.AddNode(echoNode("start")))
	b.SetEntryPoint("start")
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestSubgraphRunNamespacesTheChildRunID(t *testing.T) {
	child := childGraph(t, "child-graph")
	done, _ := message.New("x").TransitionTo(message.StateRunning, "x", "start", timeNow())
	done, _ = done.TransitionTo(message.StateCompleted, "x", "start", timeNow())
	inv := &fakeInvoker{out: done}

	sub := (&graph.SubgraphNode{NodeID: "sub", Child: child}).WithInvoker(inv)

	in := message.New("payload").WithIdentity("parent-graph", "sub", "run-1")
	_, err := sub.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "run-1:subgraph:child-graph", inv.lastRunID)
}

func TestSubgraphRunBubblesUpSuspension(t *testing.T) {
	child := childGraph(t, "child-graph")
	waiting, _ := message.New("x").TransitionTo(message.StateRunning, "x", "start", timeNow())
	waiting, _ = waiting.TransitionTo(message.StateWaiting, "waiting-on-human", "start", timeNow())
	inv := &fakeInvoker{out: waiting}

	sub := (&graph.SubgraphNode{NodeID: "sub", Child: child}).WithInvoker(inv)

	in := message.New("payload").WithIdentity("parent-graph", "sub", "run-1")
	in, err := in.TransitionTo(message.StateRunning, "run-started", "sub", timeNow())
	require.NoError(t, err)

	out, err := sub.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, message.StateWaiting, out.State)
	stored, ok := out.Data[graph.DataSubgraphResult].(message.Message)
	require.True(t, ok)
	assert.Equal(t, message.StateWaiting, stored.State)
}

func TestSubgraphRunFailsWhenChildFails(t *testing.T) {
	child := childGraph(t, "child-graph")
	failed, _ := message.New("x").TransitionTo(message.StateRunning, "x", "start", timeNow())
	failed, _ = failed.TransitionTo(message.StateFailed, "boom", "start", timeNow())
	inv := &fakeInvoker{out: failed}

	sub := (&graph.SubgraphNode{NodeID: "sub", Child: child}).WithInvoker(inv)
	in := message.New("payload").WithIdentity("parent-graph", "sub", "run-1")
	in, err := in.TransitionTo(message.StateRunning, "run-started", "sub", timeNow())
	require.NoError(t, err)

	_, err = sub.Run(context.Background(), in)
	require.Error(t, err)
}

func TestSubgraphRunRejectsMissingInvoker(t *testing.T) {
	child := childGraph(t, "child-graph")
	sub := &graph.SubgraphNode{NodeID: "sub", Child: child}
	_, err := sub.Run(context.Background(), message.New("x"))
	require.Error(t, err)
}

func TestSubgraphRunEnforcesMaxDepth(t *testing.T) {
	child := childGraph(t, "child-graph")
	inv := &fakeInvoker{out: message.New("x")}
	sub := (&graph.SubgraphNode{NodeID: "sub", Child: child, MaxDepth: 1}).WithInvoker(inv)

	deep := message.New("payload").WithMetadata(message.MetaSubgraphDepth, 1)
	_, err := sub.Run(context.Background(), deep)
	require.Error(t, err)

	var depthErr *graph.SubgraphDepthExceeded
	require.ErrorAs(t, err, &depthErr)
	assert.Equal(t, 1, depthErr.Depth)
	assert.Equal(t, 1, depthErr.MaxDepth)
}

func TestSubgraphRunMergesChildBackIntoParentOnCompletion(t *testing.T) {
	child := childGraph(t, "child-graph")
	done, _ := message.New("child says hi").TransitionTo(message.StateRunning, "x", "start", timeNow())
	done, _ = done.TransitionTo(message.StateCompleted, "x", "start", timeNow())
	done = done.WithData("shared", "from-child").WithData("childOnly", 42)
	done = done.WithMetadata("customTag", "keep-me")
	inv := &fakeInvoker{out: done}

	sub := (&graph.SubgraphNode{NodeID: "sub", Child: child}).WithInvoker(inv)

	in := message.New("payload").WithIdentity("parent-graph", "sub", "run-1")
	in, err := in.TransitionTo(message.StateRunning, "run-started", "sub", timeNow())
	require.NoError(t, err)
	in = in.WithData("shared", "from-parent")

	out, err := sub.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "from-child", out.Data["shared"], "child data wins on conflict")
	assert.Equal(t, 42, out.Data["childOnly"])
	assert.Equal(t, "child says hi", out.Data[graph.DataSubgraphResult])
	assert.Equal(t, message.StateCompleted, out.Data[graph.DataSubgraphState])
	assert.Equal(t, "child-graph", out.Data[graph.DataLastSubgraphID])
	assert.Equal(t, message.StateCompleted, out.Data[graph.DataLastSubgraphState])
	assert.Contains(t, out.Data, graph.DataLastSubgraphDuration)

	assert.Equal(t, "keep-me", out.Metadata["customTag"])
	assert.NotContains(t, out.Metadata, graph.MetaIsSubgraph)
	assert.NotContains(t, out.Metadata, graph.MetaParentGraphID)
	assert.NotContains(t, out.Metadata, graph.MetaSubgraphPath)
	assert.NotContains(t, out.Metadata, graph.MetaSubgraphEnteredAt)
	assert.NotContains(t, out.Metadata, graph.MetaParentRunID)
	assert.NotContains(t, out.Metadata, message.MetaSubgraphDepth)

	assert.Equal(t, "parent-graph", out.GraphID)
	assert.Equal(t, "sub", out.NodeID)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, message.StateRunning, out.State)
}

func TestSubgraphRunStampsDefaultPreserveKeysAndTrackingMetadataOnEntry(t *testing.T) {
	child := childGraph(t, "child-graph")
	done, _ := message.New("x").TransitionTo(message.StateRunning, "x", "start", timeNow())
	done, _ = done.TransitionTo(message.StateCompleted, "x", "start", timeNow())
	inv := &fakeInvoker{out: done}
	sub := (&graph.SubgraphNode{NodeID: "sub", Child: child}).WithInvoker(inv)

	in := message.New("payload").WithIdentity("parent-graph", "sub", "run-1")
	in = in.WithMetadata("userId", "u-1").WithMetadata("notPreserved", "drop-me")

	_, err := sub.Run(context.Background(), in)
	require.NoError(t, err)

	childIn := inv.lastIn
	assert.Equal(t, "u-1", childIn.Metadata["userId"])
	assert.NotContains(t, childIn.Metadata, "notPreserved")
	assert.Equal(t, true, childIn.Metadata[graph.MetaIsSubgraph])
	assert.Equal(t, "parent-graph", childIn.Metadata[graph.MetaParentGraphID])
	assert.Equal(t, "parent-graph -> child-graph", childIn.Metadata[graph.MetaSubgraphPath])
	assert.Equal(t, "run-1", childIn.Metadata[graph.MetaParentRunID])
	assert.Equal(t, 1, childIn.Metadata[message.MetaSubgraphDepth])
	assert.Contains(t, childIn.Metadata, graph.MetaSubgraphEnteredAt)
}

func TestSubgraphRunHonorsCustomPreserveKeys(t *testing.T) {
	child := childGraph(t, "child-graph")
	done, _ := message.New("x").TransitionTo(message.StateRunning, "x", "start", timeNow())
	done, _ = done.TransitionTo(message.StateCompleted, "x", "start", timeNow())
	inv := &fakeInvoker{out: done}
	sub := (&graph.SubgraphNode{NodeID: "sub", Child: child, PreserveKeys: []string{"onlyThis"}}).WithInvoker(inv)

	in := message.New("payload").WithIdentity("parent-graph", "sub", "run-1")
	in = in.WithMetadata("onlyThis", "kept").WithMetadata("userId", "dropped-by-custom-list")

	_, err := sub.Run(context.Background(), in)
	require.NoError(t, err)

	childIn := inv.lastIn
	assert.Equal(t, "kept", childIn.Metadata["onlyThis"])
	assert.NotContains(t, childIn.Metadata, "userId")
}
