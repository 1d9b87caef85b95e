// Package graph defines the static shape of a workflow: a directed graph of
// node.Node implementations connected by edge.Edge transitions. Graph itself
// does not execute anything; runner.Runner walks it. Keeping the two
// separate lets a Graph be validated, introspected, and shared across
// concurrent runs without any mutable execution state living alongside the
// topology.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"goa.design/flowengine/edge"
	"goa.design/flowengine/node"
)

// Graph is an immutable-after-Build directed graph of nodes and edges.
type Graph struct {
	id         string
	entryPoint string
	nodes      map[string]node.Node
	edges      map[string][]edge.Edge
	allowCycles bool
	maxVisits   int
}

// Builder assembles a Graph incrementally. It is not safe for concurrent use;
// build the graph on a single goroutine and then share the resulting *Graph
// freely (Graph is read-only once constructed).
type Builder struct {
	mu          sync.Mutex
	id          string
	entryPoint  string
	nodes       map[string]node.Node
	edges       map[string][]edge.Edge
	allowCycles bool
	maxVisits   int
}

// NewBuilder starts a Builder for the graph identified by id.
func NewBuilder(id string) *Builder {
	return &Builder{
		id:        id,
		nodes:     make(map[string]node.Node),
		edges:     make(map[string][]edge.Edge),
		maxVisits: 1024,
	}
}

// AddNode registers a node. Returns an error if a node with the same ID is
// already registered.
func (b *Builder) AddNode(n node.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.nodes[n.ID()]; exists {
		return fmt.Errorf("graph %s: node %q already registered", b.id, n.ID())
	}
	b.nodes[n.ID()] = n
	return nil
}

// AddEdge registers a transition. Node existence is checked at Build time so
// AddNode and AddEdge can be called in any order.
func (b *Builder) AddEdge(e edge.Edge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges[e.From] = append(b.edges[e.From], e)
}

// SetEntryPoint designates the node execution starts from.
func (b *Builder) SetEntryPoint(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entryPoint = nodeID
}

// AllowCycles disables the acyclicity check performed by Validate. Graphs
// with intentional control-flow loops (retry loops, polling) must opt in
// explicitly; MaxVisits still bounds runaway execution.
func (b *Builder) AllowCycles(allow bool) { b.allowCycles = allow }

// MaxVisits bounds how many times the Runner may re-enter a single node
// before treating it as a runaway cycle. Zero or negative leaves the
// default of 1024.
func (b *Builder) MaxVisits(n int) {
	if n > 0 {
		b.maxVisits = n
	}
}

// Build validates and returns the finished Graph.
func (b *Builder) Build() (*Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := &Graph{
		id:          b.id,
		entryPoint:  b.entryPoint,
		nodes:       make(map[string]node.Node, len(b.nodes)),
		edges:       make(map[string][]edge.Edge, len(b.edges)),
		allowCycles: b.allowCycles,
		maxVisits:   b.maxVisits,
	}
	for id, n := range b.nodes {
		g.nodes[id] = n
	}
	for from, edges := range b.edges {
		cp := make([]edge.Edge, len(edges))
		copy(cp, edges)
		sortEdges(cp)
		g.edges[from] = cp
	}
	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// sortEdges orders a node's outgoing edges by ascending priority (lower
// values evaluated first), falling back to declaration order for ties
// (sort.SliceStable preserves the original relative order of equal-priority
// edges). Fallback edges sort after every non-fallback edge regardless of
// priority, so Validate/the Runner can rely on fallbacks always trailing.
func sortEdges(edges []edge.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].IsFallback != edges[j].IsFallback {
			return !edges[i].IsFallback
		}
		return edges[i].Priority < edges[j].Priority
	})
}

// ID returns the graph's identifier.
func (g *Graph) ID() string { return g.id }

// EntryPoint returns the node ID execution starts from.
func (g *Graph) EntryPoint() string { return g.entryPoint }

// Node looks up a node by ID.
func (g *Graph) Node(id string) (node.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edges returns the outgoing edges of nodeID, already sorted by ascending
// priority (fallback edges last) with declaration-order tie-breaks. The
// returned slice must not be mutated by callers.
func (g *Graph) Edges(nodeID string) []edge.Edge { return g.edges[nodeID] }

// AllowsCycles reports whether this graph was built with AllowCycles(true).
func (g *Graph) AllowsCycles() bool { return g.allowCycles }

// MaxVisits returns the configured per-node visit cap.
func (g *Graph) MaxVisits() int { return g.maxVisits }

// NodeIDs returns every registered node ID, in no particular order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}
