package node

import (
	"context"
	"time"

	"goa.design/flowengine/message"
)

// DataHumanInteraction is the Data key under which the HumanInteraction
// descriptor is embedded when a node suspends awaiting human input.
const DataHumanInteraction = "_human.interaction"

// DataHumanResponse is the Data key the Runner's resume path writes the
// caller-supplied response under before re-entering a suspended graph at a
// HumanLike node's outgoing edges.
const DataHumanResponse = "_human.response"

// Validator checks a caller-supplied response against node-specific
// constraints (e.g. the response must be one of Options). Returning a
// non-nil error fails resume with ValidationFailed without advancing the
// checkpoint.
type Validator func(response any) error

// HumanInteraction describes a pending human decision. It is embedded in a
// suspended Message's Data and mirrored into the persisted Checkpoint so a
// caller can discover what is being asked without replaying the run.
type HumanInteraction struct {
	NodeID        string
	Prompt        string
	Options       []string
	AllowFreeText bool
	Timeout       time.Duration
	// ExpiresAt is computed by the node at suspension time from Timeout; zero
	// means no expiry.
	ExpiresAt time.Time
}

// HumanNode always suspends, producing a waiting Message carrying a
// HumanInteraction descriptor. Resume logic (validation, expiry, merging the
// response into Data) lives in the Runner/checkpoint resume path since it
// requires access to the caller-supplied external input, which a Node's Run
// signature does not carry.
type HumanNode struct {
	NodeID        string
	Prompt        string
	Options       []string
	Timeout       time.Duration
	Validator     Validator
	AllowFreeText bool
}

// ID implements Node.
func (n *HumanNode) ID() string { return n.NodeID }

// Run implements Node. It always returns in transitioned to StateWaiting
// carrying the interaction descriptor; callers resume via the Runner's
// Resume operation.
func (n *HumanNode) Run(_ context.Context, in message.Message) (message.Message, error) {
	interaction := n.interaction(n.Prompt)
	waiting, err := in.TransitionTo(message.StateWaiting, "human-input-requested", n.NodeID, time.Now().UTC())
	if err != nil {
		return message.Message{}, err
	}
	return waiting.WithData(DataHumanInteraction, interaction), nil
}

func (n *HumanNode) interaction(prompt string) HumanInteraction {
	hi := HumanInteraction{
		NodeID:        n.NodeID,
		Prompt:        prompt,
		Options:       append([]string{}, n.Options...),
		AllowFreeText: n.AllowFreeText,
		Timeout:       n.Timeout,
	}
	if n.Timeout > 0 {
		hi.ExpiresAt = time.Now().UTC().Add(n.Timeout)
	}
	return hi
}

// ValidatorFor lets the Runner reach the configured Validator (if any)
// without needing a type switch keyed to HumanNode specifically; see
// DynamicHumanNode for the analogous accessor.
func (n *HumanNode) ValidatorFor() Validator { return n.Validator }

// HumanLike is implemented by every node variant that can suspend awaiting a
// human decision (HumanNode and DynamicHumanNode). The Runner's resume path
// uses it to enforce any configured Validator uniformly across both
// subtypes, regardless of which one paused the run.
type HumanLike interface {
	Node
	ValidatorFor() Validator
}

var (
	_ HumanLike = (*HumanNode)(nil)
)
