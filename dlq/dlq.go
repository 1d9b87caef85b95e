// Package dlq implements a bounded, in-memory dead-letter queue for
// envelopes an eventbus.Bus could not deliver after exhausting its retry
// policy. It is partitioned per channel so one noisy channel cannot starve
// another's backlog, and bounded both per-channel and globally so a stuck
// consumer cannot grow memory without limit.
package dlq

import (
	"sync"
	"time"

	"goa.design/flowengine/event"
)

// Entry is one envelope that failed delivery, along with why and how many
// times it was retried before landing here.
type Entry struct {
	Envelope  event.Envelope
	Channel   string
	Reason    string
	Retries   int
	FailedAt  time.Time
}

// OnEvict is invoked with the entry a bounded queue dropped to make room for
// a new one. A nil OnEvict silently discards evicted entries.
type OnEvict func(Entry)

// Stats summarizes the current state of a channel's backlog.
type Stats struct {
	Channel string
	Size    int
	Dropped int64
}

// Options configures a Queue.
type Options struct {
	// MaxSizePerChannel bounds the number of entries retained per channel.
	// Zero means unbounded per-channel (still subject to MaxSize overall).
	MaxSizePerChannel int
	// MaxSize bounds the total number of entries retained across every
	// channel. Zero means unbounded.
	MaxSize int
	// OnEvict is called whenever a bounded insert drops the oldest entry
	// (either from the channel's own bound or the global bound).
	OnEvict OnEvict
	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
}

// Queue is a bounded, channel-partitioned dead-letter queue. The zero value
// is not usable; construct one with New.
type Queue struct {
	mu       sync.Mutex
	perChan  map[string][]Entry
	order    []string // global FIFO of channel names, one slot per entry, for the global bound
	dropped  map[string]int64
	maxPer   int
	maxTotal int
	onEvict  OnEvict
	clock    func() time.Time
}

// New constructs a Queue configured by opts.
func New(opts Options) *Queue {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Queue{
		perChan:  make(map[string][]Entry),
		dropped:  make(map[string]int64),
		maxPer:   opts.MaxSizePerChannel,
		maxTotal: opts.MaxSize,
		onEvict:  opts.OnEvict,
		clock:    clock,
	}
}

// Add records a failed envelope under channel. If the channel (or the
// queue's global bound) is full, the oldest entry is evicted first and
// passed to OnEvict.
func (q *Queue) Add(channel string, env event.Envelope, reason string, retries int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := Entry{Envelope: env, Channel: channel, Reason: reason, Retries: retries, FailedAt: q.clock().UTC()}

	if q.maxPer > 0 && len(q.perChan[channel]) >= q.maxPer {
		q.evictOldestLocked(channel)
	}
	q.perChan[channel] = append(q.perChan[channel], entry)
	q.order = append(q.order, channel)

	if q.maxTotal > 0 && q.totalLocked() > q.maxTotal {
		// Evict from whichever channel holds the globally-oldest entry,
		// which may differ from channel if another channel is more
		// backlogged.
		oldestChannel := q.order[0]
		q.evictOldestLocked(oldestChannel)
	}
}

// evictOldestLocked drops channel's oldest entry. Caller holds q.mu.
func (q *Queue) evictOldestLocked(channel string) {
	entries := q.perChan[channel]
	if len(entries) == 0 {
		return
	}
	victim := entries[0]
	q.perChan[channel] = entries[1:]
	q.dropped[channel]++
	for i, ch := range q.order {
		if ch == channel {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if q.onEvict != nil {
		q.onEvict(victim)
	}
}

func (q *Queue) totalLocked() int {
	n := 0
	for _, entries := range q.perChan {
		n += len(entries)
	}
	return n
}

// Retry removes and returns the oldest entry on channel with its Retries
// incremented, as if the caller is about to attempt redelivery. Returns
// false if channel has no backlog.
func (q *Queue) Retry(channel string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.perChan[channel]
	if len(entries) == 0 {
		return Entry{}, false
	}
	entry := entries[0]
	q.perChan[channel] = entries[1:]
	for i, ch := range q.order {
		if ch == channel {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	entry.Retries++
	return entry, true
}

// Drain removes and returns every entry currently queued for channel, in
// FIFO order.
func (q *Queue) Drain(channel string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.perChan[channel]
	delete(q.perChan, channel)
	filtered := q.order[:0:0]
	for _, ch := range q.order {
		if ch != channel {
			filtered = append(filtered, ch)
		}
	}
	q.order = filtered
	return entries
}

// GetStats returns the current backlog size and cumulative eviction count
// for channel.
func (q *Queue) GetStats(channel string) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Channel: channel, Size: len(q.perChan[channel]), Dropped: q.dropped[channel]}
}

// Channels returns the names of every channel with at least one queued
// entry.
func (q *Queue) Channels() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.perChan))
	for ch, entries := range q.perChan {
		if len(entries) > 0 {
			names = append(names, ch)
		}
	}
	return names
}
