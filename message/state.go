package message

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Message as it moves through a graph. It is
// distinct from Type, which describes the kind of content the message carries.
type State string

const (
	// StateReady marks a message as accepted for execution but not yet started.
	// Only the initial message submitted to Runner.Run may be in this state.
	StateReady State = "ready"
	// StateRunning marks a message as actively being processed by a node, or
	// having just been produced by one and awaiting routing.
	StateRunning State = "running"
	// StateWaiting marks a message as suspended pending an external event (a
	// human decision, an async tool callback, a schema migration).
	StateWaiting State = "waiting"
	// StateCompleted is a terminal state reached when an OutputNode produces the
	// final result, or the current node has no outgoing edges at all.
	StateCompleted State = "completed"
	// StateFailed is a terminal state reached when a node fails and no
	// transformer in the error chain recovers the run.
	StateFailed State = "failed"
)

// terminal reports whether a state admits no further transitions.
func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// IsTerminal reports whether s admits no further transitions (StateCompleted
// or StateFailed).
func (s State) IsTerminal() bool { return s.terminal() }

// legalTransitions enumerates the state machine edges honored by TransitionTo.
// Every entry here mirrors the lifecycle described in the state machine
// section of the design: ready only as a starting point, waiting only as a
// suspension marker, and completed/failed only as terminal outcomes.
var legalTransitions = map[State]map[State]bool{
	StateReady:     {StateRunning: true},
	StateRunning:   {StateRunning: true, StateWaiting: true, StateCompleted: true, StateFailed: true},
	StateWaiting:   {StateRunning: true},
	StateCompleted: {},
	StateFailed:    {},
}

// IllegalStateTransition is returned by TransitionTo when the requested move
// does not appear in the state machine (e.g. completed -> running).
type IllegalStateTransition struct {
	From State
	To   State
}

func (e *IllegalStateTransition) Error() string {
	return fmt.Sprintf("message: illegal state transition %s -> %s", e.From, e.To)
}

// Transition records a single state change in a Message's history. Every
// mutation of State must produce one of these; direct assignment to State is
// forbidden by convention (construct a new Message via TransitionTo instead).
type Transition struct {
	From      State
	To        State
	Reason    string
	NodeID    string
	Timestamp time.Time
}
