package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/event"
)

func TestNewGeneratesIDAndTimestamp(t *testing.T) {
	e := event.New("run.completed", "1.0.0", map[string]any{"ok": true})
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestValidateRejectsMissingType(t *testing.T) {
	e := event.New("", "1.0.0", nil)
	require.Error(t, e.Validate())
}

func TestValidateRejectsMalformedSchemaVersion(t *testing.T) {
	e := event.New("run.completed", "v1", nil)
	require.Error(t, e.Validate())
}

func TestValidateAcceptsWellFormedEnvelope(t *testing.T) {
	e := event.New("run.completed", "1.2.3", nil)
	require.NoError(t, e.Validate())
}

func TestWithMetadataDoesNotMutateOriginal(t *testing.T) {
	e1 := event.New("run.completed", "1.0.0", nil)
	e2 := e1.WithMetadata("tenant", "acme")
	assert.Empty(t, e1.Metadata["tenant"])
	assert.Equal(t, "acme", e2.Metadata["tenant"])
}

func TestWithCorrelationSetsBothIDs(t *testing.T) {
	e := event.New("run.completed", "1.0.0", nil).WithCorrelation("run-1", "cause-1")
	assert.Equal(t, "run-1", e.CorrelationID)
	assert.Equal(t, "cause-1", e.CausationID)
}
