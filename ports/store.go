package ports

import (
	"context"
	"time"

	"github.com/layer-3/passage/core"
)

// RevocationStore is the revocation registry consulted on every protected request
type RevocationStore interface {
	// Revoke records the entry. Revoking an already revoked token is a no-op.
	Revoke(ctx context.Context, entry core.RevocationEntry) error
	// IsRevoked reports whether tokenID has been revoked and not yet swept.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// Sweep deletes entries whose ExpiresAt is before now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ChallengeStore holds outstanding one-time codes keyed by purpose and address
type ChallengeStore interface {
	// Put stores the challenge, replacing any prior one for the same key.
	Put(ctx context.Context, challenge core.Challenge) error
	// Get returns the challenge for the key or core.ErrChallengeNotFound.
	Get(ctx context.Context, purpose core.Purpose, address string) (*core.Challenge, error)
	// Consume marks the challenge consumed if it is still unconsumed and its
	// CodeHash equals codeHash. It returns false when another caller won or
	// the challenge was superseded.
	Consume(ctx context.Context, purpose core.Purpose, address, codeHash string) (bool, error)
	// RecordFailure increments the failed attempt counter and returns the new count.
	RecordFailure(ctx context.Context, purpose core.Purpose, address string) (int, error)
	// Delete withdraws the challenge for the key.
	Delete(ctx context.Context, purpose core.Purpose, address string) error
}

// PrincipalStore persists user accounts
type PrincipalStore interface {
	// Create inserts a new principal or returns core.ErrAlreadyRegistered.
	Create(ctx context.Context, p *core.Principal) error
	// GetByEmail returns the principal or core.ErrPrincipalNotFound.
	GetByEmail(ctx context.Context, email string) (*core.Principal, error)
	// GetByID returns the principal or core.ErrPrincipalNotFound.
	GetByID(ctx context.Context, id string) (*core.Principal, error)
	// Update overwrites display name, password hash and UpdatedAt.
	Update(ctx context.Context, p *core.Principal) error
	// Delete removes the principal by id.
	Delete(ctx context.Context, id string) error
}
