package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"goa.design/flowengine/telemetry"
)

func TestNoopBundleMethodsDoNotPanic(t *testing.T) {
	b := telemetry.NoopBundle()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		b.Logger.Debug(ctx, "msg", "k", "v")
		b.Logger.Info(ctx, "msg")
		b.Logger.Warn(ctx, "msg")
		b.Logger.Error(ctx, "msg")

		b.Metrics.IncCounter("c", 1, "tag", "v")
		b.Metrics.RecordTimer("t", time.Millisecond)
		b.Metrics.RecordGauge("g", 1.0)

		spanCtx, span := b.Tracer.Start(ctx, "op")
		span.AddEvent("event")
		span.RecordError(nil)
		span.End()
		_ = b.Tracer.Span(spanCtx)
	})
}
