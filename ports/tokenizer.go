package ports

import "github.com/layer-3/passage/core"

// Tokenizer converts between domain tokens and signed strings
type Tokenizer interface {
	// Sign returns the signed, opaque form of token.
	Sign(token *core.Token) (string, error)
	// Parse checks the signature and expiry of raw and returns its content.
	// Errors wrap core.ErrMalformed, core.ErrBadSignature or core.ErrExpired.
	Parse(raw string) (*core.Token, error)
}

// PasswordHasher hashes and checks passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Compare returns nil when password matches hash.
	Compare(hash, password string) error
}
