// Package message defines Message, the typed record that flows through a
// graph. A Message carries conversational content, a mutable data blackboard,
// cross-cutting metadata, the ordered tool-call list for the current turn,
// and the lifecycle state machine described by state.go.
//
// Message is treated as value-typed by convention: mutating operations such
// as WithData, WithMetadata, and TransitionTo return a new Message rather
// than mutating the receiver in place. No in-place mutation is expected to
// cross a node boundary.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of content a Message carries. It is independent of
// State, which tracks where the message sits in the execution lifecycle.
type Type string

const (
	TypeText         Type = "text"
	TypePrompt       Type = "prompt"
	TypeSystem       Type = "system"
	TypeAction       Type = "action"
	TypeResult       Type = "result"
	TypeError        Type = "error"
	TypeToolCall     Type = "tool-call"
	TypeToolResult   Type = "tool-result"
	TypeBranch       Type = "branch"
	TypeMerge        Type = "merge"
	TypeWorkflowStart Type = "workflow-start"
	TypeWorkflowEnd  Type = "workflow-end"
	TypeInterrupt    Type = "interrupt"
	TypeResume       Type = "resume"
)

// ToolCall is a structured tool-invocation descriptor carried on a Message
// while the planner/tool layer resolves it. Name and Arguments are opaque to
// the graph engine; CorrelationID lets callers match requests to results
// across suspension boundaries.
type ToolCall struct {
	Name          string
	Arguments     json.RawMessage
	CorrelationID string
}

// Metadata key names recognized by AgentContext. Unknown keys placed directly
// in a Message's Metadata map are preserved verbatim and simply not exposed
// through the AgentContext accessors.
const (
	MetaUserID        = "userId"
	MetaTenantID      = "tenantId"
	MetaSessionID     = "sessionId"
	MetaCorrelationID = "correlationId"
	MetaRequestID     = "requestId"
	MetaTraceID       = "traceId"
	MetaSpanID        = "spanId"
	MetaLocale        = "locale"
	MetaTimezone      = "timezone"
	MetaPermissions   = "permissions"
	MetaFeatures      = "features"

	// MetaSubgraphDepth records the nesting level of subgraph execution; the
	// root run is at depth 0. See graph.SubgraphNode.
	MetaSubgraphDepth = "subgraphDepth"
)

// AgentContext is a structured, read-only view over a Message's Metadata,
// promoting a fixed subset of cross-cutting keys (tenant/user/session/
// correlation/locale) to first-class accessors. It never owns data: it is
// always derived from a Message's Metadata map on demand.
type AgentContext struct {
	UserID        string
	TenantID      string
	SessionID     string
	CorrelationID string
	RequestID     string
	TraceID       string
	SpanID        string
	Locale        string
	Timezone      string
	Permissions   map[string]bool
	Features      map[string]bool
}

// ContextFromMetadata derives an AgentContext from a Message's metadata map.
// Unknown keys are left untouched in the underlying map; this is purely a
// read-side projection.
func ContextFromMetadata(md map[string]any) AgentContext {
	c := AgentContext{}
	c.UserID, _ = md[MetaUserID].(string)
	c.TenantID, _ = md[MetaTenantID].(string)
	c.SessionID, _ = md[MetaSessionID].(string)
	c.CorrelationID, _ = md[MetaCorrelationID].(string)
	c.RequestID, _ = md[MetaRequestID].(string)
	c.TraceID, _ = md[MetaTraceID].(string)
	c.SpanID, _ = md[MetaSpanID].(string)
	c.Locale, _ = md[MetaLocale].(string)
	c.Timezone, _ = md[MetaTimezone].(string)
	if perms, ok := md[MetaPermissions].(map[string]bool); ok {
		c.Permissions = perms
	}
	if features, ok := md[MetaFeatures].(map[string]bool); ok {
		c.Features = features
	}
	return c
}

// Message is the unit of flow through a Graph. See the package doc for the
// immutability convention.
type Message struct {
	ID   string
	Content string
	From string
	To   string
	Type Type
	// State is the execution lifecycle state. Use TransitionTo to change it;
	// never assign this field directly outside of New.
	State State

	// Data is the mutable "blackboard" passed between nodes: tool results,
	// decision inputs, parallel fan-out results, and HITL interaction
	// descriptors all live here under well-known keys.
	Data map[string]any

	// Metadata is the cross-cutting tracing/context envelope. AgentContext is
	// a typed projection of a fixed subset of these keys.
	Metadata map[string]any

	ToolCalls []ToolCall

	// GraphID, NodeID, RunID are set by the Runner as the message moves
	// through a graph. RunID is globally unique; subgraph children carry
	// RunID = parentRunID + ":subgraph:" + childGraphID.
	GraphID string
	NodeID  string
	RunID   string

	// StateHistory is the ordered trail of state transitions recorded by
	// TransitionTo.
	StateHistory []Transition

	// Timestamp is the creation time of the current revision.
	Timestamp time.Time
}

// New constructs a Message in StateReady with a freshly generated ID and the
// given initial content. Data and Metadata are allocated empty maps so
// callers can immediately use WithData/WithMetadata without a nil check.
func New(content string) Message {
	return Message{
		ID:           uuid.NewString(),
		Content:      content,
		Type:         TypeText,
		State:        StateReady,
		Data:         map[string]any{},
		Metadata:     map[string]any{},
		StateHistory: nil,
		Timestamp:    time.Now().UTC(),
	}
}

// Context projects the Message's Metadata into an AgentContext.
func (m Message) Context() AgentContext {
	return ContextFromMetadata(m.Metadata)
}

// TransitionTo returns a copy of m with State set to to, appending a
// Transition entry to StateHistory. now is supplied by the caller so Runner
// code running inside deterministic engines (e.g. a Temporal workflow) can
// pass a replay-safe clock instead of time.Now.
//
// Returns *IllegalStateTransition if the move is not permitted by the state
// machine (see state.go).
func (m Message) TransitionTo(to State, reason, nodeID string, now time.Time) (Message, error) {
	allowed := legalTransitions[m.State]
	if !allowed[to] {
		return Message{}, &IllegalStateTransition{From: m.State, To: to}
	}
	out := m.clone()
	out.State = to
	out.Timestamp = now
	out.StateHistory = append(append([]Transition{}, m.StateHistory...), Transition{
		From:      m.State,
		To:        to,
		Reason:    reason,
		NodeID:    nodeID,
		Timestamp: now,
	})
	return out, nil
}

// WithData returns a copy of m with key set to value in Data.
func (m Message) WithData(key string, value any) Message {
	out := m.clone()
	out.Data = cloneAnyMap(m.Data)
	out.Data[key] = value
	return out
}

// WithDataMap returns a copy of m with every entry of kv merged into Data,
// overwriting existing keys.
func (m Message) WithDataMap(kv map[string]any) Message {
	out := m.clone()
	out.Data = cloneAnyMap(m.Data)
	for k, v := range kv {
		out.Data[k] = v
	}
	return out
}

// WithMetadata returns a copy of m with key set to value in Metadata.
func (m Message) WithMetadata(key string, value any) Message {
	out := m.clone()
	out.Metadata = cloneAnyMap(m.Metadata)
	out.Metadata[key] = value
	return out
}

// WithMetadataMap returns a copy of m with every entry of kv merged into
// Metadata, overwriting existing keys.
func (m Message) WithMetadataMap(kv map[string]any) Message {
	out := m.clone()
	out.Metadata = cloneAnyMap(m.Metadata)
	for k, v := range kv {
		out.Metadata[k] = v
	}
	return out
}

// WithContent returns a copy of m with Content and Type updated.
func (m Message) WithContent(content string, typ Type) Message {
	out := m.clone()
	out.Content = content
	out.Type = typ
	return out
}

// WithToolCalls returns a copy of m with ToolCalls replaced.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	out := m.clone()
	out.ToolCalls = append([]ToolCall{}, calls...)
	return out
}

// WithIdentity returns a copy of m with GraphID, NodeID, and RunID set. The
// Runner calls this as a message moves between nodes and across subgraph
// boundaries.
func (m Message) WithIdentity(graphID, nodeID, runID string) Message {
	out := m.clone()
	out.GraphID = graphID
	out.NodeID = nodeID
	out.RunID = runID
	return out
}

// SubgraphDepth reads MetaSubgraphDepth from Metadata, defaulting to 0.
func (m Message) SubgraphDepth() int {
	v, ok := m.Metadata[MetaSubgraphDepth]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// clone performs a shallow copy of m; callers are responsible for deep-copying
// any map/slice fields they intend to mutate.
func (m Message) clone() Message {
	out := m
	return out
}

func cloneAnyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
