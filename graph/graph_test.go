package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/edge"
	"goa.design/flowengine/graph"
	"goa.design/flowengine/message"
	"goa.design/flowengine/node"
)

func echoNode(id string) node.Node {
	return node.Func{NodeID: id, Fn: func(_ context.Context, in message.Message) (message.Message, error) {
		return in, nil
	}}
}

func TestBuilderRejectsDuplicateNodeIDs(t *testing.T) {
	b := graph.NewBuilder("g")
	require.NoError(t, b.AddNode(echoNode("a")))
	err := b.AddNode(echoNode("a"))
	require.Error(t, err)
}

func TestBuildOrdersEdgesByAscendingPriorityWithFallbackLast(t *testing.T) {
	b := graph.NewBuilder("g")
	require.NoError(t, b.AddNode(echoNode("a")))
	require.NoError(t, b.AddNode(echoNode("b")))
	require.NoError(t, b.AddNode(echoNode("c")))
	require.NoError(t, b.AddNode(echoNode("d")))
	b.AddEdge(edge.Edge{Name: "fallback", From: "a", To: "d", IsFallback: true})
	b.AddEdge(edge.Edge{Name: "low", From: "a", To: "b", Priority: 5})
	b.AddEdge(edge.Edge{Name: "high", From: "a", To: "c", Priority: 1})
	b.SetEntryPoint("a")
	g, err := b.Build()
	require.NoError(t, err)

	edges := g.Edges("a")
	require.Len(t, edges, 3)
	assert.Equal(t, "high", edges[0].Name)
	assert.Equal(t, "low", edges[1].Name)
	assert.Equal(t, "fallback", edges[2].Name)
}

func TestBuildPreservesDeclarationOrderForEqualPriority(t *testing.T) {
	b := graph.NewBuilder("g")
	require.NoError(t, b.AddNode(echoNode("a")))
	require.NoError(t, b.AddNode(echoNode("b")))
	require.NoError(t, b.AddNode(echoNode("c")))
	b.AddEdge(edge.Edge{Name: "first", From: "a", To: "b"})
	b.AddEdge(edge.Edge{Name: "second", From: "a", To: "c"})
	b.SetEntryPoint("a")
	g, err := b.Build()
	require.NoError(t, err)

	edges := g.Edges("a")
	require.Len(t, edges, 2)
	assert.Equal(t, "first", edges[0].Name)
	assert.Equal(t, "second", edges[1].Name)
}

func TestMaxVisitsDefaultsWhenUnset(t *testing.T) {
	b := graph.NewBuilder("g")
	require.NoError(t, b.AddNode(echoNode("a")))
	b.SetEntryPoint("a")
	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 1024, g.MaxVisits())
}

func TestMaxVisitsIgnoresNonPositiveValues(t *testing.T) {
	b := graph.NewBuilder("g")
	require.NoError(t, b.AddNode(echoNode("a")))
	b.SetEntryPoint("a")
	b.MaxVisits(0)
	b.MaxVisits(-5)
	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 1024, g.MaxVisits())
}

func TestNodeIDsIncludesEveryRegisteredNode(t *testing.T) {
	b := graph.NewBuilder("g")
	require.NoError(t, b.AddNode(echoNode("a")))
	require.NoError(t, b.AddNode(echoNode("b")))
	b.AddEdge(edge.Edge{From: "a", To: "b"})
	b.SetEntryPoint("a")
	g, err := b.Build()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, g.NodeIDs())
}
