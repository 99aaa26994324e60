package service

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/session-service/internal/auth"
	"github.com/spec-kit/session-service/internal/domain"
	"github.com/spec-kit/session-service/internal/repository"
)

// TokenIssuer creates and persists new token pairs.
type TokenIssuer struct {
	store    repository.CredentialStore
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

// NewTokenIssuer returns an issuer stamping tokens with now()+ttl. A nil clock
// means time.Now.
func NewTokenIssuer(store repository.CredentialStore, ttl time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{store: store, ttl: ttl, now: now, generate: auth.NewOpaqueToken}
}

// Issue generates a fresh pair for userID and persists it. Called with a
// transactional context the insert joins that transaction. On failure no token
// is returned.
func (i *TokenIssuer) Issue(ctx context.Context, userID string) (*domain.Token, error) {
	access, err := i.generate()
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := i.generate()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	token := &domain.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       userID,
		ExpiresAt:    i.now().UTC().Add(i.ttl),
	}
	if err := i.store.InsertToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}
