// Package event defines the wire-level envelope every message published on
// an eventbus.Bus carries, plus the schema registry that validates and
// migrates an envelope's payload against a registered version.
package event

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Metadata carries routing and tracing information alongside an envelope's
// payload. Keys are free-form; well-known ones (trace/span IDs, tenant,
// causation) are read by callers that care about them, not by the envelope
// itself.
type Metadata map[string]string

// Envelope wraps a domain payload with the bookkeeping needed to route,
// dedupe, and audit it as it flows through an EventBus.
type Envelope struct {
	// ID uniquely identifies this envelope instance. Generated by New if left
	// empty.
	ID string
	// Type names the event, e.g. "run.suspended" or "tool.invoked".
	Type string
	// SchemaVersion is the semver ("major.minor.patch") of Type's payload
	// shape, used by Registry to validate and migrate Payload.
	SchemaVersion string
	// Source identifies the producer, e.g. a graph ID or node ID.
	Source string
	// Payload is the event body, typically a map[string]any or a
	// json.RawMessage depending on producer/consumer agreement.
	Payload any
	// Metadata carries routing/tracing side-information.
	Metadata Metadata
	// Timestamp records when the envelope was created.
	Timestamp time.Time
	// CausationID, when set, names the ID of the envelope that caused this
	// one to be published, letting consumers reconstruct causal chains.
	CausationID string
	// CorrelationID groups envelopes that belong to the same logical
	// operation (typically a run ID).
	CorrelationID string
}

// New constructs an Envelope with a generated ID and the current UTC time.
func New(eventType, schemaVersion string, payload any) Envelope {
	return Envelope{
		ID:            uuid.NewString(),
		Type:          eventType,
		SchemaVersion: schemaVersion,
		Payload:       payload,
		Metadata:      Metadata{},
		Timestamp:     time.Now().UTC(),
	}
}

// WithMetadata returns a copy of e with key set in Metadata.
func (e Envelope) WithMetadata(key, value string) Envelope {
	md := make(Metadata, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// WithCorrelation returns a copy of e with CorrelationID and CausationID set.
func (e Envelope) WithCorrelation(correlationID, causationID string) Envelope {
	e.CorrelationID = correlationID
	e.CausationID = causationID
	return e
}

// Validate checks the envelope's own invariants, independent of any
// registered schema: Type and a well-formed SchemaVersion are required.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event: envelope missing type")
	}
	if !semverPattern.MatchString(e.SchemaVersion) {
		return fmt.Errorf("event: envelope %s has invalid schema version %q, want major.minor.patch", e.Type, e.SchemaVersion)
	}
	return nil
}
