package store

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
)

type challengeKey struct {
	purpose core.Purpose
	address string
}

// MemoryChallengeStore keeps one-time code challenges in memory
type MemoryChallengeStore struct {
	challenges map[challengeKey]core.Challenge
	mu         sync.Mutex
}

// NewMemoryChallengeStore creates an in-memory challenge store
func NewMemoryChallengeStore() ports.ChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[challengeKey]core.Challenge),
	}
}

// Put stores the challenge, superseding any prior one for the key
func (s *MemoryChallengeStore) Put(ctx context.Context, challenge core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges[challengeKey{challenge.Purpose, challenge.Address}] = challenge
	return nil
}

// Get returns a copy of the challenge for the key
func (s *MemoryChallengeStore) Get(ctx context.Context, purpose core.Purpose, address string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[challengeKey{purpose, address}]
	if !ok {
		return nil, core.ErrChallengeNotFound
	}
	return &challenge, nil
}

// Consume flips the consumed flag if the stored hash still matches
func (s *MemoryChallengeStore) Consume(ctx context.Context, purpose core.Purpose, address, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey{purpose, address}
	challenge, ok := s.challenges[key]
	if !ok || challenge.Consumed {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(challenge.CodeHash), []byte(codeHash)) != 1 {
		return false, nil
	}
	challenge.Consumed = true
	s.challenges[key] = challenge
	return true, nil
}

// RecordFailure increments the attempt counter
func (s *MemoryChallengeStore) RecordFailure(ctx context.Context, purpose core.Purpose, address string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey{purpose, address}
	challenge, ok := s.challenges[key]
	if !ok {
		return 0, core.ErrChallengeNotFound
	}
	challenge.Attempts++
	s.challenges[key] = challenge
	return challenge.Attempts, nil
}

// Delete withdraws the challenge
func (s *MemoryChallengeStore) Delete(ctx context.Context, purpose core.Purpose, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.challenges, challengeKey{purpose, address})
	return nil
}
