package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
)

// MemoryStore is an in-memory implementation of the RevocationStore interface.
// All access to the registry map goes through mu.
type MemoryStore struct {
	revoked map[string]core.RevocationEntry
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory revocation registry
func NewMemoryStore() ports.RevocationStore {
	return &MemoryStore{
		revoked: make(map[string]core.RevocationEntry),
	}
}

// Revoke marks a token as revoked
func (s *MemoryStore) Revoke(ctx context.Context, entry core.RevocationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.revoked[entry.TokenID]; exists {
		return nil
	}
	s.revoked[entry.TokenID] = entry
	return nil
}

// IsRevoked checks if a token is revoked
func (s *MemoryStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.revoked[tokenID]
	return exists, nil
}

// Sweep removes entries whose natural expiry is before now.
// Candidates are collected under the read lock so lookups keep flowing
// during the scan; the write lock is only held for the deletes.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	var stale []string
	for id, entry := range s.revoked {
		if entry.ExpiresAt.Before(now) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range stale {
		// Re-check: the entry may have been replaced between the two locks
		if entry, exists := s.revoked[id]; exists && entry.ExpiresAt.Before(now) {
			delete(s.revoked, id)
			removed++
		}
	}
	return removed, nil
}
