/*
Copyright 2025 RedisGate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package auth implements RedisGate's dual-token model: session JWTs for
// interactive use and scoped API-key JWTs for Redis access. Both are signed
// HMAC-SHA256 with the process-wide secret; the two claim shapes are
// distinguished by the "typ" claim.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "typ" claim.
const (
	TokenKindSession = "session"
	TokenKindAPIKey  = "api_key"
)

// Typed verification failures. Callers map these to 401 bodies.
var (
	ErrTokenMissing   = errors.New("authorization token missing")
	ErrTokenMalformed = errors.New("authorization token malformed")
	ErrTokenExpired   = errors.New("authorization token expired")
	ErrTokenSignature = errors.New("authorization token signature invalid")
	ErrTokenRevoked   = errors.New("authorization token revoked")
	ErrWrongTokenKind = errors.New("authorization token of wrong kind")
)

// SessionClaims is the claim shape of interactive session tokens.
type SessionClaims struct {
	UserID uuid.UUID  `json:"user_id"`
	Email  string     `json:"email"`
	OrgID  *uuid.UUID `json:"org_id,omitempty"`
	Kind   string     `json:"typ"`
	jwt.RegisteredClaims
}

// APIKeyClaims is the claim shape of API-key tokens used on /redis routes.
type APIKeyClaims struct {
	APIKeyID  uuid.UUID `json:"api_key_id"`
	UserID    uuid.UUID `json:"user_id"`
	OrgID     uuid.UUID `json:"org_id"`
	Scopes    []string  `json:"scopes"`
	KeyPrefix string    `json:"key_prefix"`
	Kind      string    `json:"typ"`
	jwt.RegisteredClaims
}

// HasScope reports whether the key authorizes the given command family.
// The "*" scope authorizes everything.
func (c *APIKeyClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}

// TokenManager issues and verifies both token kinds.
type TokenManager struct {
	secret        []byte
	sessionExpiry time.Duration
}

// NewTokenManager builds a manager signing with secret. sessionExpiry bounds
// session token lifetime; API-key expiry is per key.
func NewTokenManager(secret string, sessionExpiry time.Duration) *TokenManager {
	if sessionExpiry <= 0 {
		sessionExpiry = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), sessionExpiry: sessionExpiry}
}

// IssueSession mints a session token for the user. orgID is the user's
// primary active membership, if any.
func (m *TokenManager) IssueSession(userID uuid.UUID, email string, orgID *uuid.UUID) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UserID: userID,
		Email:  email,
		OrgID:  orgID,
		Kind:   TokenKindSession,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionExpiry)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// IssueAPIKey mints an API-key token. expiresAt of nil means no expiry.
func (m *TokenManager) IssueAPIKey(keyID, userID, orgID uuid.UUID, scopes []string, keyPrefix string, expiresAt *time.Time) (string, error) {
	claims := APIKeyClaims{
		APIKeyID:  keyID,
		UserID:    userID,
		OrgID:     orgID,
		Scopes:    scopes,
		KeyPrefix: keyPrefix,
		Kind:      TokenKindAPIKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if expiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*expiresAt)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign api key token: %w", err)
	}
	return token, nil
}

// VerifySession parses and validates a session token.
func (m *TokenManager) VerifySession(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := m.verify(raw, claims); err != nil {
		return nil, err
	}
	if claims.Kind != TokenKindSession {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}

// VerifyAPIKey parses and validates an API-key token. Revocation is checked
// against the store by the caller; this only validates the token itself.
func (m *TokenManager) VerifyAPIKey(raw string) (*APIKeyClaims, error) {
	claims := &APIKeyClaims{}
	if err := m.verify(raw, claims); err != nil {
		return nil, err
	}
	if claims.Kind != TokenKindAPIKey {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}

func (m *TokenManager) verify(raw string, claims jwt.Claims) error {
	if raw == "" {
		return ErrTokenMissing
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" {
		return "", ErrTokenMissing
	}
	if !strings.HasPrefix(header, prefix) {
		return "", ErrTokenMalformed
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// KeyPrefix derives the 12-character display identifier from an API key id,
// prefixed "rg_" for recognizability in dashboards.
func KeyPrefix(keyID uuid.UUID) string {
	hex := strings.ReplaceAll(keyID.String(), "-", "")
	return "rg_" + hex[:12]
}
