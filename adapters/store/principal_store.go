package store

import (
	"context"
	"sync"

	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
)

// MemoryPrincipalStore keeps accounts in memory, indexed by id and email.
// It is intended for tests and single-process development.
type MemoryPrincipalStore struct {
	byID    map[string]core.Principal
	byEmail map[string]string
	mu      sync.RWMutex
}

// NewMemoryPrincipalStore creates an in-memory principal store
func NewMemoryPrincipalStore() ports.PrincipalStore {
	return &MemoryPrincipalStore{
		byID:    make(map[string]core.Principal),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryPrincipalStore) Create(ctx context.Context, p *core.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[p.Email]; exists {
		return core.ErrAlreadyRegistered
	}
	s.byID[p.ID] = *p
	s.byEmail[p.Email] = p.ID
	return nil
}

func (s *MemoryPrincipalStore) GetByEmail(ctx context.Context, email string) (*core.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, core.ErrPrincipalNotFound
	}
	p := s.byID[id]
	return &p, nil
}

func (s *MemoryPrincipalStore) GetByID(ctx context.Context, id string) (*core.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, core.ErrPrincipalNotFound
	}
	return &p, nil
}

func (s *MemoryPrincipalStore) Update(ctx context.Context, p *core.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[p.ID]
	if !ok {
		return core.ErrPrincipalNotFound
	}
	current.DisplayName = p.DisplayName
	current.PasswordHash = p.PasswordHash
	current.UpdatedAt = p.UpdatedAt
	s.byID[p.ID] = current
	return nil
}

func (s *MemoryPrincipalStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return core.ErrPrincipalNotFound
	}
	delete(s.byID, id)
	delete(s.byEmail, p.Email)
	return nil
}
