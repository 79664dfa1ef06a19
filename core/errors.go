package core

import "errors"

// Credential errors. All are terminal: the caller must re-authenticate.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMalformed          = errors.New("malformed token")
	ErrBadSignature       = errors.New("invalid token signature")
	ErrExpired            = errors.New("token has expired")
	ErrRevoked            = errors.New("token has been revoked")
)

// Enrollment errors. Terminal per attempt; a fresh code may be requested.
var (
	ErrAlreadyRegistered = errors.New("address already registered")
	ErrChallengeNotFound = errors.New("no outstanding code")
	ErrChallengeMismatch = errors.New("code does not match")
	ErrChallengeExpired  = errors.New("code has expired")
	ErrChallengeConsumed = errors.New("code already used")
	ErrInvalidPurpose    = errors.New("invalid code purpose")
	ErrDeliveryFailed    = errors.New("code delivery failed")
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrRateLimited       = errors.New("too many requests")
	ErrInvalidInput      = errors.New("invalid input")
)

// ErrStoreUnavailable is transient; the caller should retry with backoff.
// It must never be reported as ErrInvalidCredentials.
var ErrStoreUnavailable = errors.New("store unavailable")


// Machine readable error codes carried in every error response. Clients
// match on these, so they are shared with the client package.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidToken       = "invalid_token"
	CodeExpired            = "expired"
	CodeRevoked            = "revoked"
	CodeAlreadyRegistered  = "already_registered"
	CodeInvalidCode        = "invalid_code"
	CodeCodeExpired        = "code_expired"
	CodeCodeConsumed       = "code_consumed"
	CodeRateLimited        = "rate_limited"
	CodeDeliveryFailed     = "delivery_failed"
	CodeNotFound           = "not_found"
	CodeUnavailable        = "unavailable"
	CodeInternal           = "internal"
)
