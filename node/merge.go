package node

import (
	"context"
	"errors"
	"fmt"

	"goa.design/flowengine/message"
)

// BranchResults is what a ParallelNode stores under Data[parallelNodeID]: the
// declaration order of its branches (for first/last strategies) plus the
// per-branch outcome. A nil entry in Values marks a branch that failed (and
// FailFast was false) or was cancelled by a deadline.
type BranchResults struct {
	Order  []string
	Values map[string]*message.Message
}

// Merger reduces a ParallelNode's BranchResults into a single value, stored
// as the MergeNode's own result.
type Merger func(r BranchResults) (any, error)

// ErrNoBranchResults is returned by a Merger when all relevant branches are
// missing or failed.
var ErrNoBranchResults = errors.New("merge: no usable branch results")

// MergeFirst returns the first branch (in declaration order) that succeeded.
func MergeFirst() Merger {
	return func(r BranchResults) (any, error) {
		for _, id := range r.Order {
			if m := r.Values[id]; m != nil {
				return *m, nil
			}
		}
		return nil, ErrNoBranchResults
	}
}

// MergeLast returns the last branch (in declaration order) that succeeded.
func MergeLast() Merger {
	return func(r BranchResults) (any, error) {
		var last *message.Message
		for _, id := range r.Order {
			if m := r.Values[id]; m != nil {
				last = m
			}
		}
		if last == nil {
			return nil, ErrNoBranchResults
		}
		return *last, nil
	}
}

// MergeConcat concatenates the Content of every successful branch, in
// declaration order, separated by sep.
func MergeConcat(sep string) Merger {
	return func(r BranchResults) (any, error) {
		out := ""
		first := true
		for _, id := range r.Order {
			m := r.Values[id]
			if m == nil {
				continue
			}
			if !first {
				out += sep
			}
			out += m.Content
			first = false
		}
		if first {
			return nil, ErrNoBranchResults
		}
		return out, nil
	}
}

// MergeVote returns the most common value of field across branches (reading
// Data[field], falling back to Content when field is empty). Ties are broken
// by declaration order.
func MergeVote(field string) Merger {
	return func(r BranchResults) (any, error) {
		counts := map[any]int{}
		for _, id := range r.Order {
			m := r.Values[id]
			if m == nil {
				continue
			}
			counts[fieldValue(*m, field)]++
		}
		if len(counts) == 0 {
			return nil, ErrNoBranchResults
		}
		var best any
		bestCount := -1
		for _, id := range r.Order {
			m := r.Values[id]
			if m == nil {
				continue
			}
			v := fieldValue(*m, field)
			if counts[v] > bestCount {
				best = v
				bestCount = counts[v]
			}
		}
		return best, nil
	}
}

// MergeAverage averages the numeric value of field across successful
// branches.
func MergeAverage(field string) Merger { return reduceNumeric(field, func(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}) }

// MergeSum sums the numeric value of field across successful branches.
func MergeSum(field string) Merger {
	return reduceNumeric(field, func(vals []float64) float64 {
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		return sum
	})
}

// MergeMin returns the minimum numeric value of field across successful
// branches.
func MergeMin(field string) Merger {
	return reduceNumeric(field, func(vals []float64) float64 {
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m
	})
}

// MergeMax returns the maximum numeric value of field across successful
// branches.
func MergeMax(field string) Merger {
	return reduceNumeric(field, func(vals []float64) float64 {
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m
	})
}

func reduceNumeric(field string, reduce func([]float64) float64) Merger {
	return func(r BranchResults) (any, error) {
		var vals []float64
		for _, id := range r.Order {
			m := r.Values[id]
			if m == nil {
				continue
			}
			f, ok := toFloat(fieldValue(*m, field))
			if !ok {
				continue
			}
			vals = append(vals, f)
		}
		if len(vals) == 0 {
			return nil, ErrNoBranchResults
		}
		return reduce(vals), nil
	}
}

func fieldValue(m message.Message, field string) any {
	if field == "" {
		return m.Content
	}
	return m.Data[field]
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// MergeNode reads BranchResults from Data[ParallelNodeID] and applies Merger,
// storing the reduced value as its own result under Data[NodeID].
type MergeNode struct {
	NodeID         string
	ParallelNodeID string
	Merger         Merger
}

// ID implements Node.
func (n *MergeNode) ID() string { return n.NodeID }

// Run implements Node.
func (n *MergeNode) Run(_ context.Context, in message.Message) (message.Message, error) {
	raw, ok := in.Data[n.ParallelNodeID]
	if !ok {
		// No branches at all is the identity case: an empty BranchResults merged
		// via MergeFirst equals the identity on the message (see the composed
		// laws in the design's testable properties).
		raw = BranchResults{}
	}
	results, ok := raw.(BranchResults)
	if !ok {
		return message.Message{}, fmt.Errorf("merge %s: data[%s] is not BranchResults", n.NodeID, n.ParallelNodeID)
	}
	merger := n.Merger
	if merger == nil {
		merger = MergeFirst()
	}
	value, err := merger(results)
	if err != nil {
		if errors.Is(err, ErrNoBranchResults) && len(results.Order) == 0 {
			return in, nil
		}
		return message.Message{}, fmt.Errorf("merge %s: %w", n.NodeID, err)
	}
	return in.WithData(n.NodeID, value), nil
}
