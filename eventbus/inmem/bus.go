// Package inmem provides an in-process eventbus.Bus: one FIFO queue per
// channel, delivered to a snapshot of that channel's subscribers by a single
// worker goroutine so publish order is preserved, with per-subscriber retry
// and dead-letter routing on persistent failure.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/flowengine/dlq"
	"goa.design/flowengine/event"
	"goa.design/flowengine/eventbus"
)

// Options configures a Bus.
type Options struct {
	// QueueSize bounds how many envelopes may be buffered per channel before
	// Publish blocks (or returns ctx.Err() if ctx is cancelled first). Zero
	// defaults to 256.
	QueueSize int
	// Retry controls how many times a failing Handler is retried before its
	// envelope is routed to DLQ. Zero value uses eventbus.DefaultRetryPolicy.
	Retry eventbus.RetryPolicy
	// RateLimit, if non-zero, caps the rate of Publish calls accepted across
	// the whole Bus (tokens per second), providing simple backpressure
	// against a slow or unbounded producer. Zero disables rate limiting.
	RateLimit rate.Limit
	// RateBurst is the token bucket burst size used with RateLimit. Ignored
	// if RateLimit is zero.
	RateBurst int
	// DLQ receives envelopes whose delivery was retried to exhaustion for at
	// least one subscriber. A nil DLQ silently drops such envelopes (no
	// dead-letter durability), which should be treated as a configuration
	// error in anything but tests.
	DLQ *dlq.Queue
	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
}

type queuedEnvelope struct {
	env event.Envelope
}

type channelState struct {
	mu      sync.RWMutex
	subs    map[string]eventbus.Handler
	queue   chan queuedEnvelope
	closing chan struct{}
	wg      sync.WaitGroup
}

// Bus is the in-memory eventbus.Bus implementation.
type Bus struct {
	mu       sync.Mutex
	channels map[string]*channelState
	limiter  *rate.Limiter
	retry    eventbus.RetryPolicy
	queueCap int
	dlq      *dlq.Queue
	clock    func() time.Time
	closed   bool
}

var _ eventbus.Bus = (*Bus)(nil)

// New constructs a ready-to-use Bus.
func New(opts Options) *Bus {
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = eventbus.DefaultRetryPolicy()
	}
	queueCap := opts.QueueSize
	if queueCap <= 0 {
		queueCap = 256
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return &Bus{
		channels: make(map[string]*channelState),
		limiter:  limiter,
		retry:    retry,
		queueCap: queueCap,
		dlq:      opts.DLQ,
		clock:    clock,
	}
}

// Publish implements eventbus.Bus.
func (b *Bus) Publish(ctx context.Context, channel string, env event.Envelope) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("eventbus: rate limit: %w", err)
		}
	}
	ch := b.channelFor(channel)
	if ch == nil {
		return fmt.Errorf("eventbus: bus is closed")
	}
	select {
	case ch.queue <- queuedEnvelope{env: env}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe implements eventbus.Bus.
func (b *Bus) Subscribe(_ context.Context, channel string, handler Handler) (eventbus.Subscription, error) {
	ch := b.channelFor(channel)
	if ch == nil {
		return nil, fmt.Errorf("eventbus: bus is closed")
	}
	id := fmt.Sprintf("%s-%d", channel, b.clock().UnixNano())
	ch.mu.Lock()
	ch.subs[id] = handler
	ch.mu.Unlock()
	return &subscription{id: id, channel: ch}, nil
}

// Handler is re-exported so callers only need to import eventbus for the
// type, keeping inmem's API surface aligned with the interface it
// implements.
type Handler = eventbus.Handler

// Close implements eventbus.Bus: it stops every channel's worker and drains
// nothing further. Already-enqueued envelopes that haven't been delivered
// yet are discarded.
func (b *Bus) Close(_ context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := b.channels
	b.channels = nil
	b.mu.Unlock()

	for _, ch := range channels {
		close(ch.closing)
		ch.wg.Wait()
	}
	return nil
}

func (b *Bus) channelFor(name string) *channelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	ch, ok := b.channels[name]
	if !ok {
		ch = &channelState{
			subs:    make(map[string]eventbus.Handler),
			queue:   make(chan queuedEnvelope, b.queueCap),
			closing: make(chan struct{}),
		}
		b.channels[name] = ch
		ch.wg.Add(1)
		go b.drain(name, ch)
	}
	return ch
}

func (b *Bus) drain(name string, ch *channelState) {
	defer ch.wg.Done()
	for {
		select {
		case <-ch.closing:
			return
		case qe := <-ch.queue:
			b.deliver(name, ch, qe.env)
		}
	}
}

func (b *Bus) deliver(channel string, ch *channelState, env event.Envelope) {
	ch.mu.RLock()
	handlers := make(map[string]eventbus.Handler, len(ch.subs))
	for id, h := range ch.subs {
		handlers[id] = h
	}
	ch.mu.RUnlock()

	for _, handler := range handlers {
		b.deliverOne(channel, handler, env)
	}
}

func (b *Bus) deliverOne(channel string, handler eventbus.Handler, env event.Envelope) {
	var lastErr error
	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		ctx := context.Background()
		if err := handler(ctx, env); err == nil {
			return
		} else {
			lastErr = err
		}
		if attempt < b.retry.MaxAttempts && b.retry.Backoff != nil {
			time.Sleep(b.retry.Backoff(attempt))
		}
	}
	if b.dlq != nil {
		reason := "handler failed"
		if lastErr != nil {
			reason = lastErr.Error()
		}
		b.dlq.Add(channel, env, reason, b.retry.MaxAttempts)
	}
}

type subscription struct {
	id      string
	channel *channelState
	once    sync.Once
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Close(_ context.Context) error {
	s.once.Do(func() {
		s.channel.mu.Lock()
		delete(s.channel.subs, s.id)
		s.channel.mu.Unlock()
	})
	return nil
}
