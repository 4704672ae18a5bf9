// Package auth validates the shared stream token presented by clients
// over TCP, WebSocket, and HTTP.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a presented token does not match.
var ErrInvalidToken = errors.New("invalid token")

// Authenticator checks presented tokens against the configured secret.
// With a bcrypt hash configured, the hash wins over the plaintext token.
// With neither configured, authentication is disabled and every token
// (including none) is accepted.
type Authenticator struct {
	token     string
	tokenHash string
}

// New builds an Authenticator from the configured plaintext token and/or
// bcrypt token hash.
func New(token, tokenHash string) *Authenticator {
	return &Authenticator{token: token, tokenHash: tokenHash}
}

// Required reports whether clients must authenticate before issuing
// commands.
func (a *Authenticator) Required() bool {
	return a.token != "" || a.tokenHash != ""
}

// Verify checks a presented token. It returns nil when authentication is
// disabled or the token matches, ErrInvalidToken otherwise.
func (a *Authenticator) Verify(presented string) error {
	if !a.Required() {
		return nil
	}
	if a.tokenHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(a.tokenHash), []byte(presented)) != nil {
			return ErrInvalidToken
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(a.token), []byte(presented)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// TokenFromHeader extracts a Bearer token from an Authorization header value.
func TokenFromHeader(authHeader string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		return strings.TrimPrefix(authHeader, prefix)
	}
	return ""
}
