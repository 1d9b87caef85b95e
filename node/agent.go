package node

import (
	"context"

	"goa.design/flowengine/message"
)

// Agent is the interface the engine consumes for LLM-backed (or any other
// generative) processing. Concrete provider adapters (Anthropic, OpenAI,
// Bedrock, ...) are external collaborators and deliberately outside this
// module's scope; the engine only ever depends on this interface.
type Agent interface {
	// Generate produces a reply Message given the input Message. Implementations
	// typically read in.Content and in.Data for prompt construction and return a
	// new Message with the generated content.
	Generate(ctx context.Context, in message.Message) (message.Message, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, in message.Message) (message.Message, error)

// Generate implements Agent.
func (f AgentFunc) Generate(ctx context.Context, in message.Message) (message.Message, error) {
	return f(ctx, in)
}

// AgentNode delegates processing to an Agent implementation, propagating the
// prior message's Data and Metadata into the reply so that context
// accumulated earlier in the run survives the hop.
type AgentNode struct {
	NodeID string
	Agent  Agent
	// InputKey, when set, selects data[InputKey] as the prompt fed to Agent
	// instead of the message Content.
	InputKey string
}

// ID implements Node.
func (n *AgentNode) ID() string { return n.NodeID }

// Run implements Node.
func (n *AgentNode) Run(ctx context.Context, in message.Message) (message.Message, error) {
	prompt := in
	if n.InputKey != "" {
		if v, ok := in.Data[n.InputKey]; ok {
			if s, ok := v.(string); ok {
				prompt = in.WithContent(s, message.TypePrompt)
			}
		}
	}
	out, err := n.Agent.Generate(ctx, prompt)
	if err != nil {
		return message.Message{}, err
	}
	// Propagate prior data/context: the agent's reply is layered on top of the
	// input message's blackboard rather than replacing it.
	merged := in.WithContent(out.Content, out.Type)
	merged = merged.WithDataMap(out.Data)
	merged = merged.WithMetadataMap(out.Metadata)
	if len(out.ToolCalls) > 0 {
		merged = merged.WithToolCalls(out.ToolCalls)
	}
	return merged, nil
}
