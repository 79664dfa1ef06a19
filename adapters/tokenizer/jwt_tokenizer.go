package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
)

const AudienceAccess = "session:access"

// DefaultIssuer is used when no issuer is configured
const DefaultIssuer = "passage"

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	issuer  string
	now     func() time.Time
}

// Option configures a JWTTokenizer
type Option func(*JWTTokenizer)

// WithIssuer sets the iss claim written and required on parse
func WithIssuer(issuer string) Option {
	return func(j *JWTTokenizer) {
		if issuer != "" {
			j.issuer = issuer
		}
	}
}

// WithClock replaces the clock used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(j *JWTTokenizer) {
		j.now = now
	}
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, opts ...Option) ports.Tokenizer {
	j := &JWTTokenizer{
		signKey: signKey,
		issuer:  DefaultIssuer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Sign converts a Token to a signed JWT
func (j *JWTTokenizer) Sign(token *core.Token) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   token.SubjectID,
			ID:        token.TokenID,
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		Email: token.Email,
		Name:  token.DisplayName,
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// Parse checks the signature and expiry of a JWT and converts it to a Token
func (j *JWTTokenizer) Parse(tokenStr string) (*core.Token, error) {
	now := j.now()
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	},
		jwt.WithAudience(AudienceAccess),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, classify(err)
	}

	// Validate token
	if !token.Valid {
		return nil, core.ErrMalformed
	}

	// Extract claims
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("incomplete claims: %w", core.ErrMalformed)
	}

	// The jwt validator accepts now == exp; a token stops being usable at exp
	if !now.Before(claims.ExpiresAt.Time) {
		return nil, core.ErrExpired
	}

	return &core.Token{
		SubjectID:   claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		TokenID:     claims.ID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// classify maps jwt parse errors onto the credential error kinds
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", core.ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", core.ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return core.ErrExpired
	default:
		return fmt.Errorf("%w: %w", core.ErrMalformed, err)
	}
}
