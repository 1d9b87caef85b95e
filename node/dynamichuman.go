package node

import (
	"context"
	"time"

	"goa.design/flowengine/message"
)

// DynamicHumanNode behaves like HumanNode but resolves its prompt at run
// time: first from in.Data[PromptKey], then from in.Metadata[PromptKey], and
// finally FallbackPrompt if neither is present.
type DynamicHumanNode struct {
	NodeID        string
	PromptKey     string
	FallbackPrompt string
	Options       []string
	Timeout       time.Duration
	AllowFreeText bool
	Validator     Validator
}

// ID implements Node.
func (n *DynamicHumanNode) ID() string { return n.NodeID }

// Run implements Node.
func (n *DynamicHumanNode) Run(_ context.Context, in message.Message) (message.Message, error) {
	prompt := n.resolvePrompt(in)
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
	waiting, err := in.TransitionTo(message.StateWaiting, "human-input-requested", n.NodeID, time.Now().UTC())
	if err != nil {
		return message.Message{}, err
	}
	return waiting.WithData(DataHumanInteraction, hi), nil
}

// resolvePrompt implements the data -> metadata -> fallback lookup chain.
func (n *DynamicHumanNode) resolvePrompt(in message.Message) string {
	if v, ok := in.Data[n.PromptKey]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if v, ok := in.Metadata[n.PromptKey]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return n.FallbackPrompt
}

// ValidatorFor implements HumanLike.
func (n *DynamicHumanNode) ValidatorFor() Validator { return n.Validator }

var _ HumanLike = (*DynamicHumanNode)(nil)
