// Package auth issues and verifies the HS256 tokens that guard control endpoints.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeControl is the scope required to control playback.
const ScopeControl = "control"

var (
	ErrNoSecret     = errors.New("control secret is not configured")
	ErrInvalidToken = errors.New("invalid control token")
)

// Claims are the claims carried by a control token.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// NewToken signs a control token for subject. A zero ttl creates a token without expiry.
func NewToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}

	now := time.Now()
	claims := Claims{
		Scope: ScopeControl,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature, expiry and scope of token.
func ParseToken(secret []byte, token string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Scope != ScopeControl {
		return nil, fmt.Errorf("%w: scope %q", ErrInvalidToken, claims.Scope)
	}
	return claims, nil
}
