// Package inmem provides a process-local idempotency.Store, suitable for
// single-process deployments and tests. See backends/redis for a
// multi-process-safe implementation.
package inmem

import (
	"context"
	"sync"
	"time"

	"goa.design/flowengine/idempotency"
)

// Store is a sync.RWMutex-guarded map implementation of idempotency.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]idempotency.Entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]idempotency.Entry)}
}

// Get implements idempotency.Store.
func (s *Store) Get(_ context.Context, fingerprint string) (idempotency.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fingerprint]
	return entry, ok, nil
}

// Put implements idempotency.Store.
func (s *Store) Put(_ context.Context, entry idempotency.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Fingerprint] = entry
	return nil
}

// Delete implements idempotency.Store.
func (s *Store) Delete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

// DeleteExpired implements idempotency.Store.
func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for fp, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, fp)
			removed++
		}
	}
	return removed, nil
}

var _ idempotency.Store = (*Store)(nil)
