// Package state holds the small amount of durable state the relay keeps:
// the last-seen event marker of each polled channel.
package state

import (
	"context"
	"sync"
)

// MarkerStore persists the id of the newest event already handled per key.
// Get returns "" when no marker has been recorded.
type MarkerStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryMarkerStore keeps markers in process memory. Markers are lost on
// restart, so a restarted poller re-primes from the newest event.
type MemoryMarkerStore struct {
	mu      sync.RWMutex
	markers map[string]string
}

func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: make(map[string]string)}
}

func (s *MemoryMarkerStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markers[key], nil
}

func (s *MemoryMarkerStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[key] = value
	return nil
}
