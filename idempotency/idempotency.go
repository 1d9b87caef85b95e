// Package idempotency provides the content-addressed caching layer that lets
// a Runner avoid re-invoking a tool (or re-running any other cacheable unit
// of work) when it has already produced a result for an identical call
// within the configured TTL. The design mirrors the scoped, tag-driven
// idempotency metadata used for tool authoring in the examples this engine
// grew out of, generalized into a runtime cache with its own TTL policy per
// Kind.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"goa.design/flowengine/internal/canonicaljson"
)

// Kind distinguishes the granularity of a cached entry, each with its own
// default TTL.
type Kind string

const (
	// KindToolCall caches a single ToolNode invocation.
	KindToolCall Kind = "TOOL_CALL"
	// KindStep caches an entire node's contribution to a run (useful for
	// AgentNode calls that are expensive but not modeled as ToolNode).
	KindStep Kind = "STEP"
	// KindIntent caches at the coarsest granularity: an entire decision or
	// plan, keyed by a caller-chosen intent fingerprint rather than by
	// tool/params.
	KindIntent Kind = "INTENT"
)

// DefaultTTL returns the engine's default retention window for kind.
func DefaultTTL(kind Kind) time.Duration {
	switch kind {
	case KindToolCall:
		return time.Hour
	case KindStep:
		return 6 * time.Hour
	case KindIntent:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// CacheKeyConflict is returned when a fingerprint already has a cached Entry
// under a different Kind than the one being requested. Since Fingerprint
// hashes Kind as part of its input, this only arises from a genuine sha256
// collision or a caller reusing a fingerprint computed by hand; either way
// the cache cannot be trusted for that key.
type CacheKeyConflict struct {
	Fingerprint string
	Requested   Kind
	Cached      Kind
}

func (e *CacheKeyConflict) Error() string {
	return fmt.Sprintf("idempotency: fingerprint %s requested as kind %s but cached as kind %s", e.Fingerprint, e.Requested, e.Cached)
}

// Entry is a single cached result.
type Entry struct {
	Fingerprint string
	Kind        Kind
	Value       any
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether e's TTL has elapsed as of now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store is the persistence contract for cached entries. Implementations must
// be safe for concurrent use. Get returning (Entry{}, false, nil) means a
// cache miss; an unexpired hit returns (entry, true, nil).
//
// Put-then-Get races within the TTL window must observe single-flight
// semantics at the call site (see Manager.Once); Store itself only needs to
// be a correct key/value map with expiry, not a coordination primitive.
type Store interface {
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, fingerprint string) error
	// DeleteExpired removes every entry whose TTL has elapsed as of now and
	// returns how many were removed. Callers run this periodically. Get may
	// return an entry that has expired but not yet been removed (the inmem
	// Store does); Manager.Once checks Entry.Expired before using a hit.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Fingerprint computes a stable, content-addressed identifier for a call:
// sha256 of the kind, name, and canonical JSON encoding of args. Two calls
// with the same name and semantically equal args (regardless of map
// insertion order) always produce the same fingerprint.
func Fingerprint(kind Kind, name string, args any) (string, error) {
	canon, err := canonicaljson.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("idempotency: fingerprint %s/%s: %w", kind, name, err)
	}
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Manager wraps a Store with the call pattern a Runner needs: look up a
// fingerprint, and on a miss, compute and store the value exactly once even
// under concurrent callers asking for the same fingerprint.
type Manager struct {
	store Store
	clock func() time.Time

	flight       singleflight.Group
	ttlOverrides map[Kind]time.Duration
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithTTL overrides the retention window used for kind, in place of
// DefaultTTL(kind). Intended for process-wide configuration (see
// config.Config) rather than per-call tuning.
func WithTTL(kind Kind, ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if m.ttlOverrides == nil {
			m.ttlOverrides = make(map[Kind]time.Duration)
		}
		m.ttlOverrides[kind] = ttl
	}
}

// NewManager wraps store. clock defaults to time.Now when nil, overridable
// for deterministic tests.
func NewManager(store Store, clock func() time.Time, opts ...ManagerOption) *Manager {
	if clock == nil {
		clock = time.Now
	}
	m := &Manager{store: store, clock: clock}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) ttlFor(kind Kind) time.Duration {
	if ttl, ok := m.ttlOverrides[kind]; ok {
		return ttl
	}
	return DefaultTTL(kind)
}

// Once returns the cached value for fingerprint if present and unexpired;
// otherwise it calls compute exactly once across concurrent callers sharing
// the same fingerprint, stores the result with kind's TTL (DefaultTTL unless
// overridden with WithTTL), and
// returns it. hit reports whether the value came from the cache.
func (m *Manager) Once(ctx context.Context, kind Kind, fingerprint string, compute func(ctx context.Context) (any, error)) (value any, hit bool, err error) {
	if entry, ok, err := m.store.Get(ctx, fingerprint); err != nil {
		return nil, false, fmt.Errorf("idempotency: get %s: %w", fingerprint, err)
	} else if ok && !entry.Expired(m.clock()) {
		if entry.Kind != kind {
			return nil, false, &CacheKeyConflict{Fingerprint: fingerprint, Requested: kind, Cached: entry.Kind}
		}
		return entry.Value, true, nil
	}

	v, err, _ := m.flight.Do(fingerprint, func() (any, error) {
		// Re-check after winning the flight lock: another goroutine may have
		// populated the entry while we waited.
		if entry, ok, err := m.store.Get(ctx, fingerprint); err == nil && ok && !entry.Expired(m.clock()) {
			if entry.Kind != kind {
				return nil, &CacheKeyConflict{Fingerprint: fingerprint, Requested: kind, Cached: entry.Kind}
			}
			return entry.Value, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		now := m.clock()
		entry := Entry{
			Fingerprint: fingerprint,
			Kind:        kind,
			Value:       v,
			CreatedAt:   now,
			ExpiresAt:   now.Add(m.ttlFor(kind)),
		}
		if err := m.store.Put(ctx, entry); err != nil {
			return nil, fmt.Errorf("idempotency: put %s: %w", fingerprint, err)
		}
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}
