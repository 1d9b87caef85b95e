package node_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/message"
	"goa.design/flowengine/node"
)

func waitingBranch(id string) node.Node {
	return node.Func{NodeID: id, Fn: func(_ context.Context, in message.Message) (message.Message, error) {
		out, _ := in.TransitionTo(message.StateRunning, "start", id, in.Timestamp)
		out, _ = out.TransitionTo(message.StateWaiting, "waiting-on-human", id, in.Timestamp)
		return out, nil
	}}
}

func okBranch(id, content string) node.Node {
	return node.Func{NodeID: id, Fn: func(_ context.Context, in message.Message) (message.Message, error) {
		return in.WithContent(content, message.TypeText), nil
	}}
}

func TestParallelRunFailsWithInvalidSuspensionWhenABranchWaits(t *testing.T) {
	par := &node.ParallelNode{
		NodeID: "fanout",
		Branches: []node.ParallelBranch{
			{ID: "ok", Node: okBranch("ok", "A")},
			{ID: "human", Node: waitingBranch("human")},
		},
	}

	_, err := par.Run(context.Background(), message.New("start"))
	require.Error(t, err)

	var invalid *node.InvalidSuspension
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "fanout", invalid.NodeID)
	assert.Equal(t, "human", invalid.BranchID)
}

func TestParallelRunInvalidSuspensionIsUnconditionalOnFailFast(t *testing.T) {
	par := &node.ParallelNode{
		NodeID:   "fanout",
		FailFast: false,
		Branches: []node.ParallelBranch{
			{ID: "ok", Node: okBranch("ok", "A")},
			{ID: "human", Node: waitingBranch("human")},
		},
	}

	_, err := par.Run(context.Background(), message.New("start"))
	require.Error(t, err)

	var invalid *node.InvalidSuspension
	require.ErrorAs(t, err, &invalid)
}
