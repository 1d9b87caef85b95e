// Package edge defines the directed links between graph nodes.
package edge

import "goa.design/flowengine/message"

// Condition evaluates whether an Edge should be followed for the given
// output Message. A nil Condition counts as always-true. Implementations
// that panic are treated as a false match by the Runner; the edge is simply
// skipped and the panic is logged, not propagated.
type Condition func(m message.Message) bool

// Edge is a directed link from one node to another. Edges are evaluated in
// priority order (lower first); ties are broken by declaration order, i.e.
// the order in which they were added to the graph builder.
type Edge struct {
	// Name optionally labels the edge for diagnostics and auto-generated
	// decision-branch edges.
	Name string
	// From is the source node ID.
	From string
	// To is the target node ID.
	To string
	// Priority orders evaluation among a node's outgoing edges; lower values
	// are evaluated first.
	Priority int
	// Condition gates whether the edge is eligible. Nil means unconditional.
	Condition Condition
	// IsFallback marks an edge that is only considered once no non-fallback
	// edge matches.
	IsFallback bool
}

// Matches reports whether the edge's condition holds for m, treating a nil
// condition as an unconditional match and a panicking condition as a
// non-match (the panic value is returned via recovered so the caller can log
// it).
func (e Edge) Matches(m message.Message) (matched bool, recovered any) {
	if e.Condition == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			matched = false
			recovered = r
		}
	}()
	return e.Condition(m), nil
}
