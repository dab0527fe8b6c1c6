package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultAccessTTL = 15 * time.Minute

var ErrInvalidToken = errors.New("invalid_token")

// TokenService mints and verifies HS256 access tokens for the gate. The
// secret is loaded from a file at startup; token contents are deliberately
// minimal since the gate only needs to recognize its own sessions.
type TokenService struct {
	Secret    []byte
	Issuer    string
	AccessTTL time.Duration // zero means DefaultAccessTTL
}

// Mint returns a signed access token for the given subject.
func (s *TokenService) Mint(subject string) (string, error) {
	ttl := s.AccessTTL
	if ttl == 0 {
		ttl = DefaultAccessTTL
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of raw and returns the
// subject it was issued to. It satisfies httpx.TokenVerifier.
func (s *TokenService) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
