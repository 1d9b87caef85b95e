package event_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/event"
)

func v1Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []any{"name"},
	}
}

func v2Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fullName": map[string]any{"type": "string"},
		},
		"required": []any{"fullName"},
	}
}

func TestRegisterRejectsOutOfOrderVersions(t *testing.T) {
	r := event.NewRegistry()
	require.NoError(t, r.Register("tool.invoked", "2.0.0", v1Schema(), nil))
	err := r.Register("tool.invoked", "1.0.0", v1Schema(), nil)
	require.Error(t, err)
}

func TestValidatePassesForMatchingSchema(t *testing.T) {
	r := event.NewRegistry()
	require.NoError(t, r.Register("tool.invoked", "1.0.0", v1Schema(), nil))
	err := r.Validate("tool.invoked", "1.0.0", map[string]any{"name": "lookup"})
	require.NoError(t, err)
}

func TestValidateFailsForMissingRequiredField(t *testing.T) {
	r := event.NewRegistry()
	require.NoError(t, r.Register("tool.invoked", "1.0.0", v1Schema(), nil))
	err := r.Validate("tool.invoked", "1.0.0", map[string]any{})
	require.Error(t, err)
}

func TestValidateFailsForUnregisteredVersion(t *testing.T) {
	r := event.NewRegistry()
	require.NoError(t, r.Register("tool.invoked", "1.0.0", v1Schema(), nil))
	err := r.Validate("tool.invoked", "9.9.9", map[string]any{"name": "lookup"})
	require.Error(t, err)
}

func TestIsCompatibleSameMajorVersion(t *testing.T) {
	r := event.NewRegistry()
	ok, err := r.IsCompatible("1.2.0", "1.5.0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsCompatibleDifferentMajorVersion(t *testing.T) {
	r := event.NewRegistry()
	ok, err := r.IsCompatible("1.2.0", "2.0.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrateAppliesRegisteredMigrator(t *testing.T) {
	r := event.NewRegistry()
	migrate := func(payload any) (any, error) {
		m := payload.(map[string]any)
		return map[string]any{"fullName": m["name"]}, nil
	}
	require.NoError(t, r.Register("user.created", "1.0.0", v1Schema(), migrate))
	require.NoError(t, r.Register("user.created", "2.0.0", v2Schema(), nil))

	out, err := r.Migrate(context.Background(), "user.created", "1.0.0", "2.0.0", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fullName": "Ada"}, out)
}

func TestMigrateSameVersionIsNoOp(t *testing.T) {
	r := event.NewRegistry()
	require.NoError(t, r.Register("user.created", "1.0.0", v1Schema(), nil))
	payload := map[string]any{"name": "Ada"}
	out, err := r.Migrate(context.Background(), "user.created", "1.0.0", "1.0.0", payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestMigrateFailsWithoutMigrator(t *testing.T) {
	r := event.NewRegistry()
	require.NoError(t, r.Register("user.created", "1.0.0", v1Schema(), nil))
	require.NoError(t, r.Register("user.created", "2.0.0", v2Schema(), nil))
	_, err := r.Migrate(context.Background(), "user.created", "1.0.0", "2.0.0", map[string]any{"name": "Ada"})
	require.Error(t, err)
}

func TestLatestVersionReturnsMostRecentlyRegistered(t *testing.T) {
	r := event.NewRegistry()
	require.NoError(t, r.Register("user.created", "1.0.0", v1Schema(), nil))
	require.NoError(t, r.Register("user.created", "2.0.0", v2Schema(), nil))
	v, ok := r.LatestVersion("user.created")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", v)
}
