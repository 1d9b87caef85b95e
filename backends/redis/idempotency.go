// Package redis provides a Redis-backed idempotency.Store, for deployments
// that run more than one Runner process against a shared cache. Entries are
// stored as JSON under a configurable key prefix with Redis's own TTL
// enforcing expiry, so DeleteExpired is a best-effort no-op: Redis already
// evicts expired keys on its own.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/flowengine/idempotency"
)

const defaultKeyPrefix = "flowengine:idempotency:"

// Options configures a Store.
type Options struct {
	// Client is the Redis connection. Required.
	Client *redis.Client
	// KeyPrefix namespaces every key this Store writes. Defaults to
	// "flowengine:idempotency:".
	KeyPrefix string
}

// Store is a Redis-backed idempotency.Store.
type Store struct {
	client *redis.Client
	prefix string
}

var _ idempotency.Store = (*Store)(nil)

// New constructs a Store. Returns an error if opts.Client is nil.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: opts.Client, prefix: prefix}, nil
}

func (s *Store) key(fingerprint string) string { return s.prefix + fingerprint }

// Get implements idempotency.Store.
func (s *Store) Get(ctx context.Context, fingerprint string) (idempotency.Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return idempotency.Entry{}, false, nil
	}
	if err != nil {
		return idempotency.Entry{}, false, fmt.Errorf("redis idempotency: get: %w", err)
	}
	var entry idempotency.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return idempotency.Entry{}, false, fmt.Errorf("redis idempotency: decode: %w", err)
	}
	return entry, true, nil
}

// Put implements idempotency.Store. The Redis key's own TTL is set from
// entry.ExpiresAt, so an expired-but-not-yet-evicted race with Get is only
// possible within Redis's own eviction latency, which is bounded in
// practice.
func (s *Store) Put(ctx context.Context, entry idempotency.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis idempotency: encode: %w", err)
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, s.key(entry.Fingerprint), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency: set: %w", err)
	}
	return nil
}

// Delete implements idempotency.Store.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, s.key(fingerprint)).Err(); err != nil {
		return fmt.Errorf("redis idempotency: del: %w", err)
	}
	return nil
}

// DeleteExpired implements idempotency.Store as a no-op: Redis's own TTL
// already evicts expired keys, so there is nothing left for the caller's
// periodic sweep to do. It always returns (0, nil).
func (s *Store) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
