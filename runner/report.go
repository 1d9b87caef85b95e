package runner

import (
	"time"

	"goa.design/flowengine/message"
)

// Status summarizes how a run (or a Resume call) ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusWaiting   Status = "waiting"
)

// NodeReport records the execution of a single node within a run.
type NodeReport struct {
	NodeID   string
	Status   Status
	Error    string
	Duration time.Duration
	CacheHit bool
}

// Report summarizes the outcome of Run, Resume, or RunSubgraph.
type Report struct {
	RunID        string
	GraphID      string
	Status       Status
	Result       any
	FinalMessage message.Message
	NodeReports  []NodeReport
	// CheckpointID is set when Status is StatusWaiting: it identifies the
	// persisted checkpoint a caller passes to Resume.
	CheckpointID string
	Error        error
}
