package service

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/session-service/internal/auth"
	"github.com/spec-kit/session-service/internal/domain"
	"github.com/spec-kit/session-service/internal/repository"
)

// CredentialValidator checks passwords and access tokens. It only reads.
type CredentialValidator struct {
	store     repository.CredentialStore
	passwords auth.PasswordVerifier
	now       func() time.Time
}

// NewCredentialValidator builds a validator. A nil clock means time.Now.
func NewCredentialValidator(store repository.CredentialStore, passwords auth.PasswordVerifier, now func() time.Time) *CredentialValidator {
	if now == nil {
		now = time.Now
	}
	return &CredentialValidator{store: store, passwords: passwords, now: now}
}

// VerifyPassword reports whether plain matches hash.
func (v *CredentialValidator) VerifyPassword(plain, hash string) bool {
	return v.passwords.Verify(plain, hash)
}

// IsTokenValid reports whether accessToken is stored and unexpired. Unknown
// tokens are simply invalid; only store failures produce an error.
func (v *CredentialValidator) IsTokenValid(ctx context.Context, accessToken string) (bool, error) {
	_, err := v.Authenticate(ctx, accessToken)
	switch {
	case err == nil:
		return true, nil
	case domain.IsAuthError(err):
		return false, nil
	default:
		return false, err
	}
}

// Authenticate returns the stored record for a valid access token or
// domain.ErrInvalidToken.
func (v *CredentialValidator) Authenticate(ctx context.Context, accessToken string) (*domain.Token, error) {
	if accessToken == "" || len(accessToken) > auth.MaxTokenLength {
		return nil, domain.ErrInvalidToken
	}
	token, err := v.store.FindTokenByAccessToken(ctx, accessToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !token.ValidAt(v.now()) {
		return nil, domain.ErrInvalidToken
	}
	return token, nil
}
