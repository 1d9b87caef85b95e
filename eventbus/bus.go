// Package eventbus defines the pub/sub contract workflow components use to
// publish event.Envelope values on named channels and consume them with
// at-least-once delivery. Bus says nothing about transport; eventbus/inmem
// is the in-process implementation used by tests and single-process
// deployments, while a durable backend (e.g. backed by goa.design/pulse
// streams) can satisfy the same interface for multi-process delivery.
package eventbus

import (
	"context"
	"time"

	"goa.design/flowengine/event"
)

// Handler processes one envelope delivered to a subscription. Returning an
// error causes the Bus to retry delivery (subject to its retry policy)
// before routing the envelope to a dead-letter queue.
type Handler func(ctx context.Context, env event.Envelope) error

// Subscription represents one registered Handler on a channel. Closing it
// stops further deliveries to that Handler; it does not affect other
// subscribers of the same channel.
type Subscription interface {
	ID() string
	Close(ctx context.Context) error
}

// Bus publishes envelopes to named channels and delivers them to every
// subscriber registered on that channel at publish time.
type Bus interface {
	// Publish enqueues env for delivery on channel. Envelopes published by
	// the same caller to the same channel are delivered to each subscriber
	// in the order Publish was called (FIFO per publisher, per channel); no
	// ordering guarantee is made across different channels or publishers.
	Publish(ctx context.Context, channel string, env event.Envelope) error
	// Subscribe registers handler to receive every envelope published on
	// channel from this point forward.
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
	// Close stops all delivery and releases resources. Subsequent Publish or
	// Subscribe calls return an error.
	Close(ctx context.Context) error
}

// RetryPolicy controls how many times the Bus retries a Handler that
// returned an error, and how long it waits between attempts, before giving
// up and routing the envelope to the dead-letter queue.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// DefaultRetryPolicy makes three delivery attempts in all, with a linear
// backoff starting at 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 50 * time.Millisecond
		},
	}
}
