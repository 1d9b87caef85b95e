// Package pulse provides an eventbus.Bus backed by goa.design/pulse streams,
// for deployments that need durable, multi-process event delivery instead of
// the single-process eventbus/inmem implementation. One Pulse stream backs
// each channel; Subscribe opens a Pulse sink (consumer group) on that stream
// and relies on Pulse's own ack-based redelivery for retry, rather than the
// explicit eventbus.RetryPolicy loop eventbus/inmem runs in front of its
// dead-letter queue: an unacked event stays pending and is redelivered by
// Pulse itself, so an explicit retry-then-DLQ loop here would just add a
// second redelivery mechanism on top of Pulse's own.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/flowengine/features/stream/pulse/clients/pulse"

	"goa.design/flowengine/event"
	"goa.design/flowengine/eventbus"
	"goa.design/flowengine/telemetry"
)

const defaultSinkName = "flowengine"

// Options configures a Bus.
type Options struct {
	// Client is the Pulse client used to open streams and sinks. Required.
	Client clientspulse.Client
	// SinkName identifies the Pulse consumer group every Subscribe call joins.
	// Defaults to "flowengine". Subscribers sharing a SinkName compete for
	// deliveries on a channel rather than each receiving their own copy.
	SinkName string
	// Logger receives decode and handler-level diagnostics. Defaults to a
	// no-op logger.
	Logger telemetry.Logger
	// AckGracePeriod bounds how long Pulse waits before redelivering an
	// unacked event to another consumer in the sink group. Zero uses Pulse's
	// own default.
	AckGracePeriod time.Duration
}

// Bus is an eventbus.Bus backed by Pulse streams, one per channel.
type Bus struct {
	client    clientspulse.Client
	sinkNm    string
	logger    telemetry.Logger
	ackGrace  time.Duration
	mu        sync.Mutex
	streams   map[string]clientspulse.Stream
	closed    bool
}

var _ eventbus.Bus = (*Bus)(nil)

// New constructs a Bus. Returns an error if opts.Client is nil.
func New(opts Options) (*Bus, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = defaultSinkName
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Bus{
		client:   opts.Client,
		sinkNm:   name,
		logger:   logger,
		ackGrace: opts.AckGracePeriod,
		streams:  make(map[string]clientspulse.Stream),
	}, nil
}

func (b *Bus) streamFor(channel string) (clientspulse.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("pulse eventbus: closed")
	}
	if str, ok := b.streams[channel]; ok {
		return str, nil
	}
	str, err := b.client.Stream(channel)
	if err != nil {
		return nil, fmt.Errorf("pulse eventbus: open stream %q: %w", channel, err)
	}
	b.streams[channel] = str
	return str, nil
}

// Publish implements eventbus.Bus.
func (b *Bus) Publish(ctx context.Context, channel string, env event.Envelope) error {
	str, err := b.streamFor(channel)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse eventbus: encode envelope: %w", err)
	}
	if _, err := str.Add(ctx, env.Type, payload); err != nil {
		return fmt.Errorf("pulse eventbus: publish: %w", err)
	}
	return nil
}

// Subscribe implements eventbus.Bus. It opens a Pulse sink in the Bus's
// consumer group on channel's stream and consumes it in a background
// goroutine until ctx is canceled or the returned Subscription is closed.
// Envelopes whose Handler returns nil are acked; envelopes that fail to
// decode or whose Handler returns an error are left unacked for Pulse to
// redeliver.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler eventbus.Handler) (eventbus.Subscription, error) {
	str, err := b.streamFor(channel)
	if err != nil {
		return nil, err
	}
	sinkOpts := []streamopts.Sink{streamopts.WithSinkStartAtOldest()}
	if b.ackGrace > 0 {
		sinkOpts = append(sinkOpts, streamopts.WithSinkAckGracePeriod(b.ackGrace))
	}
	sink, err := str.NewSink(ctx, b.sinkNm, sinkOpts...)
	if err != nil {
		return nil, fmt.Errorf("pulse eventbus: open sink: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{channel: channel, sink: sink, cancel: cancel}
	go b.consume(runCtx, channel, sink, handler)
	return sub, nil
}

func (b *Bus) consume(ctx context.Context, channel string, sink clientspulse.Sink, handler eventbus.Handler) {
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			var env event.Envelope
			if err := json.Unmarshal(ev.Payload, &env); err != nil {
				b.logger.Error(ctx, "pulse eventbus: decode envelope failed", "channel", channel, "error", err)
				continue
			}
			if err := handler(ctx, env); err != nil {
				b.logger.Warn(ctx, "pulse eventbus: handler failed, leaving unacked for redelivery", "channel", channel, "type", env.Type, "error", err)
				continue
			}
			if err := sink.Ack(ctx, ev); err != nil {
				b.logger.Error(ctx, "pulse eventbus: ack failed", "channel", channel, "type", env.Type, "error", err)
			}
		}
	}
}

// Close implements eventbus.Bus. It destroys no streams; it only marks the
// Bus closed so further Publish/Subscribe calls fail, and releases the
// underlying Pulse client.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.client.Close(ctx)
}

type subscription struct {
	channel string
	sink    clientspulse.Sink
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *subscription) ID() string { return s.channel }

func (s *subscription) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.cancel()
		s.sink.Close(ctx)
	})
	return nil
}
