package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with the profile snapshot carried
// by a session credential
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}
