package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
)

// EnrollmentConfig tunes one-time code issuance
type EnrollmentConfig struct {
	CodeTTL        time.Duration // how long a code is accepted
	CodeLength     int           // digits per code
	MaxAttempts    int           // mismatches before the code is withdrawn
	ResendInterval time.Duration // minimum gap between codes for one key
}

// DefaultEnrollmentConfig returns the stock code settings
func DefaultEnrollmentConfig() EnrollmentConfig {
	return EnrollmentConfig{
		CodeTTL:        10 * time.Minute,
		CodeLength:     6,
		MaxAttempts:    5,
		ResendInterval: 30 * time.Second,
	}
}

// RegisterInput is the pending registration held by the caller until its code is confirmed
type RegisterInput struct {
	Email       string
	Code        string
	DisplayName string
	Password    string
}

// ResetInput carries a credential reset confirmed by code
type ResetInput struct {
	Email    string
	Code     string
	Password string
}

// EnrollmentService gates account creation and password reset behind one-time codes
type EnrollmentService struct {
	challenges ports.ChallengeStore
	principals ports.PrincipalStore
	hasher     ports.PasswordHasher
	sender     ports.CodeSender

	cfg EnrollmentConfig
	options
}

// NewEnrollmentService creates a new enrollment service
func NewEnrollmentService(
	challenges ports.ChallengeStore,
	principals ports.PrincipalStore,
	hasher ports.PasswordHasher,
	sender ports.CodeSender,
	cfg EnrollmentConfig,
	opts ...Option,
) *EnrollmentService {
	def := DefaultEnrollmentConfig()
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &EnrollmentService{
		challenges: challenges,
		principals: principals,
		hasher:     hasher,
		sender:     sender,
		cfg:        cfg,
		options:    buildOptions(opts),
	}
}

// RequestCode issues a fresh code for (purpose, address) and hands it to the
// delivery channel. The code itself is never returned.
func (s *EnrollmentService) RequestCode(ctx context.Context, purpose core.Purpose, address string) error {
	if !purpose.Valid() {
		return core.ErrInvalidPurpose
	}
	address = core.NormalizeEmail(address)
	if !s.limiter.Allow("code:" + address) {
		return core.ErrRateLimited
	}

	exists, err := s.principalExists(ctx, address)
	if err != nil {
		return err
	}
	switch purpose {
	case core.PurposeEnrollment:
		if exists {
			return core.ErrAlreadyRegistered
		}
	case core.PurposeCredentialReset:
		if !exists {
			// Same response as a real reset so the address is not disclosed
			s.logger.DebugContext(ctx, "reset requested for unknown address")
			return nil
		}
	}

	now := s.now()
	if s.cfg.ResendInterval > 0 {
		prior, err := s.challenges.Get(ctx, purpose, address)
		switch {
		case err == nil:
			if !prior.Consumed && now.Sub(prior.CreatedAt) < s.cfg.ResendInterval {
				return core.ErrRateLimited
			}
		case !errors.Is(err, core.ErrChallengeNotFound):
			return err
		}
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return err
	}

	challenge := core.Challenge{
		Purpose:   purpose,
		Address:   address,
		CodeHash:  hashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
	}
	if err := s.challenges.Put(ctx, challenge); err != nil {
		return err
	}

	if err := s.sender.SendCode(ctx, address, code, purpose); err != nil {
		if delErr := s.challenges.Delete(ctx, purpose, address); delErr != nil {
			s.logger.WarnContext(ctx, "failed to withdraw undelivered code", slog.Any("error", delErr))
		}
		s.logger.WarnContext(ctx, "code dispatch failed", "purpose", string(purpose), slog.Any("error", err))
		if errors.Is(err, core.ErrDeliveryFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", core.ErrDeliveryFailed, err)
	}

	s.metrics.ChallengeIssued(string(purpose))
	s.logger.InfoContext(ctx, "code issued", "purpose", string(purpose), "expires_at", challenge.ExpiresAt)
	return nil
}

// ConfirmCode consumes the outstanding code for (purpose, address). It
// succeeds at most once per issued code.
func (s *EnrollmentService) ConfirmCode(ctx context.Context, purpose core.Purpose, address, code string) error {
	err := s.confirm(ctx, purpose, address, code)
	s.metrics.ChallengeConfirmed(string(purpose), confirmResult(err))
	return err
}

func (s *EnrollmentService) confirm(ctx context.Context, purpose core.Purpose, address, code string) error {
	if !purpose.Valid() {
		return core.ErrInvalidPurpose
	}
	address = core.NormalizeEmail(address)

	challenge, err := s.challenges.Get(ctx, purpose, address)
	if err != nil {
		return err
	}
	if challenge.Consumed {
		return core.ErrChallengeConsumed
	}
	if challenge.Expired(s.now()) {
		return core.ErrChallengeExpired
	}

	submitted := hashCode(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(challenge.CodeHash), []byte(submitted)) != 1 {
		s.recordMismatch(ctx, purpose, address)
		return core.ErrChallengeMismatch
	}

	won, err := s.challenges.Consume(ctx, purpose, address, submitted)
	if err != nil {
		return err
	}
	if !won {
		// Lost a race with another confirmation or a newer code replaced this one
		current, err := s.challenges.Get(ctx, purpose, address)
		if err == nil && current.Consumed && current.CodeHash == submitted {
			return core.ErrChallengeConsumed
		}
		return core.ErrChallengeMismatch
	}
	return nil
}

func (s *EnrollmentService) recordMismatch(ctx context.Context, purpose core.Purpose, address string) {
	attempts, err := s.challenges.RecordFailure(ctx, purpose, address)
	if err != nil {
		if !errors.Is(err, core.ErrChallengeNotFound) {
			s.logger.WarnContext(ctx, "failed to record code attempt", slog.Any("error", err))
		}
		return
	}
	if attempts >= s.cfg.MaxAttempts {
		if err := s.challenges.Delete(ctx, purpose, address); err != nil {
			s.logger.WarnContext(ctx, "failed to withdraw exhausted code", slog.Any("error", err))
			return
		}
		s.logger.InfoContext(ctx, "code withdrawn after too many attempts", "purpose", string(purpose))
	}
}

func confirmResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrChallengeNotFound):
		return "not_found"
	case errors.Is(err, core.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, core.ErrChallengeMismatch):
		return "mismatch"
	case errors.Is(err, core.ErrChallengeConsumed):
		return "consumed"
	default:
		return "error"
	}
}

// Register confirms an enrollment code and creates the principal it authorizes
func (s *EnrollmentService) Register(ctx context.Context, in RegisterInput) (*core.Profile, error) {
	email := core.NormalizeEmail(in.Email)
	displayName := strings.TrimSpace(in.DisplayName)
	if email == "" || displayName == "" || in.Password == "" {
		return nil, fmt.Errorf("email, display name and password are required: %w", core.ErrInvalidInput)
	}

	exists, err := s.principalExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, core.ErrAlreadyRegistered
	}

	if err := s.ConfirmCode(ctx, core.PurposeEnrollment, email, in.Code); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	principal := &core.Principal{
		ID:           uuid.NewString(),
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.principals.Create(ctx, principal); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "principal registered", "subject_id", principal.ID)
	profile := principal.Profile()
	return &profile, nil
}

// ResetPassword confirms a credential-reset code and replaces the password hash.
// Tokens issued before the reset stay valid until they expire or are revoked.
func (s *EnrollmentService) ResetPassword(ctx context.Context, in ResetInput) error {
	email := core.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return fmt.Errorf("email and password are required: %w", core.ErrInvalidInput)
	}

	if err := s.ConfirmCode(ctx, core.PurposeCredentialReset, email, in.Code); err != nil {
		return err
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return err
	}
	principal.PasswordHash = hash
	principal.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, principal); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password reset", "subject_id", principal.ID)
	return nil
}

func (s *EnrollmentService) principalExists(ctx context.Context, email string) (bool, error) {
	_, err := s.principals.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, core.ErrPrincipalNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up principal: %w", err)
	}
}

// generateCode returns a uniformly random decimal code of n digits
func generateCode(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
