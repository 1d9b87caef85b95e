// Package checkpoint defines the persisted representation of a suspended
// run and the store contract a Runner uses to save and resume it. A
// checkpoint is taken whenever a node suspends (HumanNode/DynamicHumanNode)
// or, if configured, periodically during long-running graphs so a crash
// never loses more than a bounded number of node executions.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"goa.design/flowengine/message"
)

// ErrCheckpointMissing is returned when Load or Delete is given an ID that
// does not exist (or has already been deleted).
var ErrCheckpointMissing = errors.New("checkpoint: missing")

// ErrCheckpointExpired is returned by Load when a checkpoint exists but its
// TTL (if the store enforces one) has elapsed; it is treated identically to
// ErrCheckpointMissing by callers but reported distinctly for diagnostics.
var ErrCheckpointExpired = errors.New("checkpoint: expired")

// Checkpoint is the durable snapshot of a suspended run: enough state to
// resume execution at NodeID with Message as the pending input, without
// replaying any node that already ran.
type Checkpoint struct {
	ID      string
	GraphID string
	RunID   string
	// NodeID is the node execution will resume from. For a suspended
	// HumanNode/DynamicHumanNode this is the node that suspended; Resume
	// merges the caller-supplied response into Message.Data and continues
	// from the node's outgoing edges without re-running it.
	NodeID string
	// Message is the suspended Message, including its HumanInteraction (or
	// equivalent) descriptor.
	Message message.Message
	// VisitCounts mirrors the Runner's in-flight cycle-detection counters so
	// resuming a run does not reset the visit budget for nodes already
	// executed before suspension.
	VisitCounts map[string]int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Store is the persistence contract for checkpoints. Implementations must be
// safe for concurrent use.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, id string) (Checkpoint, error)
	// ListByGraph returns every non-expired checkpoint for graphID, most
	// recent first.
	ListByGraph(ctx context.Context, graphID string) ([]Checkpoint, error)
	// ListByRun returns every non-expired checkpoint for runID (a run may
	// have more than one if it suspended more than once), most recent first.
	ListByRun(ctx context.Context, runID string) ([]Checkpoint, error)
	Delete(ctx context.Context, id string) error
	// DeleteByRun removes every checkpoint belonging to runID; callers use
	// this once a run reaches a terminal state so resumable state does not
	// outlive the run itself.
	DeleteByRun(ctx context.Context, runID string) error
	// DeleteExpired removes every checkpoint whose TTL has elapsed as of now
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Exists(ctx context.Context, id string) (bool, error)
}
