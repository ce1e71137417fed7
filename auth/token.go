// Package auth verifies the bearer tokens protecting the operational
// endpoints. Tokens are HS256-signed JWTs sharing a secret with the
// operator tooling that issues them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin grants access to the operational endpoints
const RoleAdmin = "admin"

var (
	// ErrInvalidToken is returned for malformed, mis-signed or expired tokens
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the verified token payload
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token grants operator access
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Validator verifies HS256 tokens against a shared secret
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for the given secret
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// ValidateToken parses and verifies a token string
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for the given subject and role, valid for ttl.
// Intended for operator tooling and tests.
func (v *Validator) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
