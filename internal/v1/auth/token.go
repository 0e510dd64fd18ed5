// Package auth implements the broker's own bearer-token issuance and
// validation (tokens are broker-issued opaque secrets, not third-party
// JWTs), plus the shared input-validation helpers (id shape, text size,
// filename sanitization) used by every component that accepts caller input.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("auth: token not found")
	ErrTokenExpired  = errors.New("auth: token expired")
	ErrTokenRevoked  = errors.New("auth: token revoked")
)

// Token is a broker-issued opaque bearer credential, persisted so it
// survives restart.
type Token struct {
	Token     string
	ClientID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Store is the narrow persistence contract the Validator needs; implemented
// by internal/v1/store.
type Store interface {
	GetToken(ctx context.Context, token string) (*Token, error)
	PutToken(ctx context.Context, t *Token) error
	RevokeToken(ctx context.Context, token string) error
}

// Validator verifies bearer tokens against the persisted token table.
type Validator struct {
	store Store
}

func NewValidator(store Store) *Validator {
	return &Validator{store: store}
}

// ValidateToken returns the bound client id for a valid, non-expired,
// non-revoked token.
func (v *Validator) ValidateToken(ctx context.Context, token string) (string, error) {
	t, err := v.store.GetToken(ctx, token)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", ErrTokenNotFound
	}
	if t.Revoked {
		return "", ErrTokenRevoked
	}
	if !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt) {
		return "", ErrTokenExpired
	}
	return t.ClientID, nil
}

// Issue mints a new opaque token (administrative operation, never exposed
// to ordinary clients) for clientID, valid for ttl.
func Issue(ctx context.Context, store Store, clientID string, ttl time.Duration) (*Token, error) {
	secret, err := randomSecret(16) // 128 bits
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &Token{
		Token:     secret,
		ClientID:  clientID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := store.PutToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func randomSecret(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MockValidator always succeeds, binding every token to a fixed client id;
// used in tests and in AUTH_ENABLED=false mode where no token is required.
type MockValidator struct {
	ClientID string
}

func (m *MockValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if m.ClientID != "" {
		return m.ClientID, nil
	}
	return "dev-client", nil
}
