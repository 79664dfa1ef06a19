package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
)

// DefaultTokenTTL is the natural lifetime of a session credential
const DefaultTokenTTL = 24 * time.Hour

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer   ports.Tokenizer
	principals  ports.PrincipalStore
	revocations ports.RevocationStore
	hasher      ports.PasswordHasher
	eventPub    ports.EventPublisher

	tokenTTL time.Duration
	options

	// dummyHash is compared against when no principal matches, so a login for
	// an unknown address costs the same as a wrong password
	dummyHash     string
	dummyHashOnce sync.Once
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	principals ports.PrincipalStore,
	revocations ports.RevocationStore,
	hasher ports.PasswordHasher,
	eventPub ports.EventPublisher,
	tokenTTL time.Duration,
	opts ...Option,
) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &AuthService{
		tokenizer:   tokenizer,
		principals:  principals,
		revocations: revocations,
		hasher:      hasher,
		eventPub:    eventPub,
		tokenTTL:    tokenTTL,
		options:     buildOptions(opts),
	}
}

// Authenticate checks an email and password and mints a session credential.
// Unknown address and wrong password both yield core.ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*core.Session, error) {
	email = core.NormalizeEmail(email)
	if !s.limiter.Allow("login:" + email) {
		s.metrics.Login("rate_limited")
		return nil, core.ErrRateLimited
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if errors.Is(err, core.ErrPrincipalNotFound) {
		_ = s.hasher.Compare(s.dummy(), password)
		s.metrics.Login("invalid")
		return nil, core.ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.Login("error")
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}

	if err := s.hasher.Compare(principal.PasswordHash, password); err != nil {
		if errors.Is(err, core.ErrInvalidCredentials) {
			s.metrics.Login("invalid")
			return nil, core.ErrInvalidCredentials
		}
		s.metrics.Login("error")
		return nil, err
	}

	session, err := s.issue(principal)
	if err != nil {
		s.metrics.Login("error")
		return nil, err
	}
	s.metrics.Login("ok")
	s.logger.InfoContext(ctx, "session issued", "subject_id", principal.ID, "token_id", session.TokenID)
	return session, nil
}

func (s *AuthService) dummy() string {
	s.dummyHashOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("passage-dummy-password")
	})
	return s.dummyHash
}

// issue mints a token for principal. Times are truncated to whole seconds so
// the returned expiry matches what the signed token carries.
func (s *AuthService) issue(principal *core.Principal) (*core.Session, error) {
	tokenID, err := newTokenID()
	if err != nil {
		return nil, err
	}

	now := s.now().Truncate(time.Second)
	token := &core.Token{
		SubjectID:   principal.ID,
		Email:       principal.Email,
		DisplayName: principal.DisplayName,
		TokenID:     tokenID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.tokenTTL),
	}

	signed, err := s.tokenizer.Sign(token)
	if err != nil {
		return nil, err
	}

	return &core.Session{
		Token:     signed,
		TokenID:   tokenID,
		ExpiresAt: token.ExpiresAt,
		Profile:   principal.Profile(),
	}, nil
}

// Verify checks a raw bearer credential and returns its claims
func (s *AuthService) Verify(ctx context.Context, raw string) (*core.Claims, error) {
	token, err := s.tokenizer.Parse(raw)
	if err != nil {
		s.metrics.Verification(verifyResult(err))
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, token.TokenID)
	if err != nil {
		s.metrics.Verification("unavailable")
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		s.metrics.Verification("revoked")
		return nil, core.ErrRevoked
	}

	s.metrics.Verification("ok")
	return &core.Claims{
		SubjectID:   token.SubjectID,
		Email:       token.Email,
		DisplayName: token.DisplayName,
		TokenID:     token.TokenID,
		IssuedAt:    token.IssuedAt,
		ExpiresAt:   token.ExpiresAt,
	}, nil
}

func verifyResult(err error) string {
	switch {
	case errors.Is(err, core.ErrExpired):
		return "expired"
	case errors.Is(err, core.ErrBadSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}

// Logout revokes the presenting token until its natural expiry
func (s *AuthService) Logout(ctx context.Context, claims *core.Claims) error {
	return s.revoke(ctx, claims, core.ReasonLogout)
}

// DeleteAccount revokes the presenting token and removes the principal
func (s *AuthService) DeleteAccount(ctx context.Context, claims *core.Claims) error {
	if err := s.revoke(ctx, claims, core.ReasonAccountDeleted); err != nil {
		return err
	}
	if err := s.principals.Delete(ctx, claims.SubjectID); err != nil {
		return fmt.Errorf("failed to delete principal: %w", err)
	}
	s.logger.InfoContext(ctx, "account deleted", "subject_id", claims.SubjectID)
	return nil
}

// ChangePassword verifies the current password, stores the new one, revokes
// the presenting token and returns a fresh session
func (s *AuthService) ChangePassword(ctx context.Context, claims *core.Claims, current, next string) (*core.Session, error) {
	principal, err := s.principals.GetByID(ctx, claims.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}
	if err := s.hasher.Compare(principal.PasswordHash, current); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return nil, err
	}

	// Revoke first: a registry outage must leave the account untouched
	if err := s.revoke(ctx, claims, core.ReasonPasswordChanged); err != nil {
		return nil, err
	}

	principal.PasswordHash = hash
	principal.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, principal); err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}
	return s.issue(principal)
}

// Rename changes the display name. Tokens already issued keep the old name
// until they are replaced.
func (s *AuthService) Rename(ctx context.Context, claims *core.Claims, displayName string) (*core.Profile, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("display name must not be empty: %w", core.ErrInvalidInput)
	}

	principal, err := s.principals.GetByID(ctx, claims.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}
	principal.DisplayName = displayName
	principal.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, principal); err != nil {
		return nil, fmt.Errorf("failed to rename principal: %w", err)
	}

	profile := principal.Profile()
	return &profile, nil
}

// Me returns the current profile of the token's subject
func (s *AuthService) Me(ctx context.Context, claims *core.Claims) (*core.Profile, error) {
	principal, err := s.principals.GetByID(ctx, claims.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}
	profile := principal.Profile()
	return &profile, nil
}

// revoke adds the token to the registry with its own expiry and announces it.
// Publishing is best effort; the registry write is what protects requests.
func (s *AuthService) revoke(ctx context.Context, claims *core.Claims, reason string) error {
	entry := core.RevocationEntry{
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
		RevokedAt: s.now(),
		Reason:    reason,
	}
	if err := s.revocations.Revoke(ctx, entry); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	s.metrics.Revocation(reason)
	s.logger.InfoContext(ctx, "token revoked",
		"subject_id", claims.SubjectID,
		"token_id", claims.TokenID,
		"reason", reason,
	)

	if s.eventPub != nil {
		if err := s.eventPub.PublishRevocation(ctx, claims.SubjectID, entry); err != nil {
			s.logger.WarnContext(ctx, "failed to publish revocation event",
				"token_id", claims.TokenID,
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// newTokenID returns 32 random bytes, hex encoded
func newTokenID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
