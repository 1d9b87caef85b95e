package runner

import (
	"fmt"
	"time"
)

// CycleDetected is returned when a node is revisited more than the owning
// Graph's MaxVisits allows.
type CycleDetected struct {
	NodeID string
	Visits int
}

func (e *CycleDetected) Error() string {
	return fmt.Sprintf("runner: node %q visited %d times, exceeding the graph's cycle budget", e.NodeID, e.Visits)
}

// NoMatchingEdge is returned when a node has outgoing edges but none of them
// match the node's output message, and none are a catch-all fallback.
type NoMatchingEdge struct {
	NodeID string
}

func (e *NoMatchingEdge) Error() string {
	return fmt.Sprintf("runner: node %q produced no matching outgoing edge", e.NodeID)
}

// NodeNotFound is returned when routing reaches a node ID absent from the
// graph (a malformed edge that slipped past Validate, or a stale checkpoint
// referencing a node removed from a newer graph revision).
type NodeNotFound struct {
	NodeID string
}

func (e *NodeNotFound) Error() string {
	return fmt.Sprintf("runner: node %q not found in graph", e.NodeID)
}

// NotResumable is returned by Resume when the checkpointed node is neither a
// node.HumanLike (HumanNode or DynamicHumanNode) nor a *graph.SubgraphNode
// with a pending child checkpoint, or when the checkpoint's GraphID does not
// match the graph passed to Resume.
type NotResumable struct {
	Reason string
}

func (e *NotResumable) Error() string { return "runner: not resumable: " + e.Reason }

// ValidationFailed is returned by Resume when the suspended node's
// Validator rejects the caller-supplied response. The checkpoint is left
// intact so the caller can retry with a corrected response.
type ValidationFailed struct {
	NodeID string
	Err    error
}

func (e *ValidationFailed) Error() string {
	return fmt.Sprintf("runner: response for node %q failed validation: %v", e.NodeID, e.Err)
}

func (e *ValidationFailed) Unwrap() error { return e.Err }

// InteractionExpired is returned by Resume when the suspended
// HumanInteraction carried a Timeout and the caller resumes after its
// ExpiresAt has passed. The checkpoint is left intact.
type InteractionExpired struct {
	NodeID    string
	ExpiresAt time.Time
}

func (e *InteractionExpired) Error() string {
	return fmt.Sprintf("runner: interaction for node %q expired at %s", e.NodeID, e.ExpiresAt)
}
