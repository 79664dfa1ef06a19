package core

import (
	"strings"
	"time"
)

// Principal represents a registered user account
type Principal struct {
	ID           string    // Unique identifier (uuid)
	DisplayName  string    // Name shown in the UI
	Email        string    // Normalized contact address, unique
	PasswordHash string    // bcrypt hash, never leaves the server
	CreatedAt    time.Time // When the account was created
	UpdatedAt    time.Time // Last password change or rename
}

// Profile returns the public view of the principal
func (p *Principal) Profile() Profile {
	return Profile{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
	}
}

// Profile is the part of a Principal that may be shown to its owner
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// Token represents the content of a signed session credential
type Token struct {
	SubjectID   string    // Principal ID
	Email       string    // Principal email at issuance
	DisplayName string    // Principal display name at issuance
	TokenID     string    // Random identifier used as the revocation key
	IssuedAt    time.Time // When the token was minted
	ExpiresAt   time.Time // Natural expiry
}

// Claims are the verified facts a protected operation may rely on
type Claims struct {
	SubjectID   string
	Email       string
	DisplayName string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Session is the result of a successful authentication
type Session struct {
	Token     string    // Signed, opaque bearer credential
	TokenID   string    // Revocation key embedded in Token
	ExpiresAt time.Time // Natural expiry of Token
	Profile   Profile
}

// RevocationEntry marks a token as unusable until its natural expiry
type RevocationEntry struct {
	TokenID   string    // Revoked token identifier
	ExpiresAt time.Time // Must equal the revoked token's ExpiresAt
	RevokedAt time.Time // When the revocation happened
	Reason    string    // logout, account_deleted, password_changed
}

// Revocation reasons
const (
	ReasonLogout          = "logout"
	ReasonAccountDeleted  = "account_deleted"
	ReasonPasswordChanged = "password_changed"
)

// Purpose identifies what a one-time code unlocks
type Purpose string

const (
	PurposeEnrollment      Purpose = "enrollment"
	PurposeCredentialReset Purpose = "credential-reset"
)

// Valid reports whether p is a known purpose
func (p Purpose) Valid() bool {
	return p == PurposeEnrollment || p == PurposeCredentialReset
}

// Challenge represents an outstanding one-time code
type Challenge struct {
	Purpose   Purpose   // What the code unlocks
	Address   string    // Normalized target address
	CodeHash  string    // Hex SHA-256 of the code; the code itself is never stored
	CreatedAt time.Time // When the code was issued
	ExpiresAt time.Time // When the code stops being accepted
	Consumed  bool      // Set once on first successful confirmation
	Attempts  int       // Failed confirmation attempts
}

// Expired reports whether the challenge is past its expiry at now
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// NormalizeEmail trims and lowercases a contact address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
