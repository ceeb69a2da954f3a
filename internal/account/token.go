package account

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when an access token cannot be decoded at
// all. Signature verification is the backend's job; the client only reads
// claims from tokens it already holds.
var ErrMalformedToken = errors.New("malformed access token")

// TokenClaims is the subset of access-token claims the client inspects.
type TokenClaims struct {
	Username  string
	ExpiresAt time.Time
}

// ParseToken decodes the claims of a JWT access token without verifying the
// signature. Used to reject expired tokens before a backend round trip.
func ParseToken(raw string) (*TokenClaims, error) {
	if raw == "" {
		return nil, ErrMalformedToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}

	out := &TokenClaims{}

	if username, ok := claims["username"].(string); ok {
		out.Username = username
	} else if sub, err := claims.GetSubject(); err == nil {
		out.Username = sub
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}

	return out, nil
}

// Expired reports whether the token carries an expiry in the past. Tokens
// without an exp claim never report as expired.
func (c *TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}
