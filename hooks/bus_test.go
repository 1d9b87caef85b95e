package hooks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/hooks"
)

func TestPublishDeliversToEveryRegisteredSubscriber(t *testing.T) {
	bus := hooks.NewBus()
	var seenA, seenB int
	_, err := bus.Register(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error {
		seenA++
		return nil
	}))
	require.NoError(t, err)
	_, err = bus.Register(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error {
		seenB++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), hooks.Event{Type: hooks.EventNodeStart}))
	assert.Equal(t, 1, seenA)
	assert.Equal(t, 1, seenB)
}

func TestPublishStopsAtFirstSubscriberError(t *testing.T) {
	bus := hooks.NewBus()
	boom := errors.New("boom")
	var calledSecond bool
	_, err := bus.Register(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error {
		return boom
	}))
	require.NoError(t, err)
	_, err = bus.Register(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error {
		calledSecond = true
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(context.Background(), hooks.Event{Type: hooks.EventNodeStart})
	require.Error(t, err)
	assert.False(t, calledSecond)
}

func TestCloseUnregistersSubscriber(t *testing.T) {
	bus := hooks.NewBus()
	var count int
	sub, err := bus.Register(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error {
		count++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), hooks.Event{Type: hooks.EventNodeStart}))
	assert.Equal(t, 1, count)

	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(context.Background(), hooks.Event{Type: hooks.EventNodeStart}))
	assert.Equal(t, 1, count)
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := hooks.NewBus()
	sub, err := bus.Register(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error { return nil }))
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestRegisterRejectsNilSubscriber(t *testing.T) {
	bus := hooks.NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}
