package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/flowengine/message"
)

// MetaBranchID is the metadata key a ParallelNode stamps onto each branch's
// input message before running it, so a branch node (or anything it calls)
// can tell which leg of the fan-out it is executing.
const MetaBranchID = "parallel.branch_id"

// ParallelBranch pairs a stable ID with the Node to execute concurrently inside a
// ParallelNode.
type ParallelBranch struct {
	ID   string
	Node Node
}

// BranchFailure wraps the error raised by one branch of a ParallelNode,
// identifying which branch raised it.
type BranchFailure struct {
	BranchID string
	Err      error
}

func (e *BranchFailure) Error() string {
	return fmt.Sprintf("branch %s: %v", e.BranchID, e.Err)
}

func (e *BranchFailure) Unwrap() error { return e.Err }

// InvalidSuspension is returned when a ParallelNode branch returns a
// message in message.StateWaiting: a branch requesting human input cannot
// be reconciled with the fan-out join, so it is treated as a node failure
// rather than silently stored as an ordinary branch result.
type InvalidSuspension struct {
	NodeID   string
	BranchID string
}

func (e *InvalidSuspension) Error() string {
	return fmt.Sprintf("parallel %s: branch %s requested human input, which is not allowed inside a ParallelNode", e.NodeID, e.BranchID)
}

// ParallelNode runs Branches concurrently against independent copies of the
// input Message and collects their outcomes into a BranchResults value
// stored under Data[NodeID], ready for a MergeNode to reduce.
//
// When FailFast is true, the first branch error cancels the remaining
// branches (via context cancellation) and Run fails with the first
// BranchFailure observed. When FailFast is false, a failing branch simply
// contributes a nil entry to BranchResults.Values and Run never fails on
// account of branch errors alone.
type ParallelNode struct {
	NodeID   string
	Branches []ParallelBranch
	FailFast bool
	// Timeout bounds the whole fan-out; zero means no additional deadline
	// beyond what the caller's context already carries.
	Timeout time.Duration
}

// ID implements Node.
func (n *ParallelNode) ID() string { return n.NodeID }

// Run implements Node.
func (n *ParallelNode) Run(ctx context.Context, in message.Message) (message.Message, error) {
	if len(n.Branches) == 0 {
		return in.WithData(n.NodeID, BranchResults{}), nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if n.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}
	cancelRest := func() {}
	if n.FailFast {
		var failCancel context.CancelFunc
		runCtx, failCancel = context.WithCancel(runCtx)
		defer failCancel()
		cancelRest = failCancel
	}

	order := make([]string, len(n.Branches))
	values := make(map[string]*message.Message, len(n.Branches))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error
	var invalidSuspension *InvalidSuspension

	for i, b := range n.Branches {
		order[i] = b.ID
		wg.Add(1)
		go func(b ParallelBranch) {
			defer wg.Done()
			branchIn := in.WithMetadata(MetaBranchID, b.ID)
			out, err := b.Node.Run(runCtx, branchIn)

			mu.Lock()
			defer mu.Unlock()
			if err == nil && out.State == message.StateWaiting {
				if invalidSuspension == nil {
					invalidSuspension = &InvalidSuspension{NodeID: n.NodeID, BranchID: b.ID}
				}
				values[b.ID] = nil
				return
			}
			if err != nil {
				if firstErr == nil {
					firstErr = &BranchFailure{BranchID: b.ID, Err: err}
					cancelRest()
				}
				values[b.ID] = nil
				return
			}
			values[b.ID] = &out
		}(b)
	}
	wg.Wait()

	// A branch requesting human input is never allowed, independent of
	// FailFast: it cannot be reconciled with the join at all.
	if invalidSuspension != nil {
		return message.Message{}, invalidSuspension
	}
	if n.FailFast && firstErr != nil {
		return message.Message{}, fmt.Errorf("parallel %s: %w", n.NodeID, firstErr)
	}

	return in.WithData(n.NodeID, BranchResults{Order: order, Values: values}), nil
}
