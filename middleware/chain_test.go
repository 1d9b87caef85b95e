package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/message"
	"goa.design/flowengine/middleware"
)

type appendTransformer struct {
	middleware.NoOpTransformer
	suffix string
}

func (a appendTransformer) BeforeNode(_ context.Context, _ string, in message.Message) (message.Message, error) {
	return in.WithContent(in.Content+a.suffix, message.TypeText), nil
}

type failingTransformer struct {
	middleware.NoOpTransformer
	err error
}

func (f failingTransformer) BeforeNode(_ context.Context, _ string, in message.Message) (message.Message, error) {
	return in, f.err
}

func (f failingTransformer) OnError(_ context.Context, _ string, _ message.Message, err error) error {
	return nil
}

func TestChainAppliesTransformersInOrder(t *testing.T) {
	c := middleware.NewChain(false, appendTransformer{suffix: "-a"}, appendTransformer{suffix: "-b"})
	out, err := c.BeforeNode(context.Background(), "n", message.New("x"))
	require.NoError(t, err)
	assert.Equal(t, "x-a-b", out.Content)
}

func TestChainStopsOnFirstErrorWhenNotContinuing(t *testing.T) {
	boom := errors.New("boom")
	c := middleware.NewChain(false, failingTransformer{err: boom}, appendTransformer{suffix: "-never"})
	out, err := c.BeforeNode(context.Background(), "n", message.New("x"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "x", out.Content)
}

func TestChainContinuesPastErrorsWhenConfigured(t *testing.T) {
	boom := errors.New("boom")
	c := middleware.NewChain(true, failingTransformer{err: boom}, appendTransformer{suffix: "-applied"})
	out, err := c.BeforeNode(context.Background(), "n", message.New("x"))
	require.NoError(t, err)
	assert.Equal(t, "x-applied", out.Content)
}

func TestOnErrorFirstNonNilWinsWithoutContinueOnFailure(t *testing.T) {
	recovering := failingTransformer{}
	boom := errors.New("boom")
	c := middleware.NewChain(false, recovering)
	err := c.OnError(context.Background(), "n", message.New("x"), boom)
	assert.NoError(t, err)
}

func TestOnErrorReturnsOriginalErrWhenContinueOnFailure(t *testing.T) {
	recovering := failingTransformer{}
	boom := errors.New("boom")
	c := middleware.NewChain(true, recovering)
	err := c.OnError(context.Background(), "n", message.New("x"), boom)
	assert.ErrorIs(t, err, boom)
}
