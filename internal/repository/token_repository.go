package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/session-service/internal/domain"
)

// FindTokenByAccessToken implements CredentialStore.
func (s *PostgresStore) FindTokenByAccessToken(ctx context.Context, accessToken string) (*domain.Token, error) {
	const query = `
        SELECT access_token, refresh_token, user_id, expires_at
        FROM auth_tokens WHERE access_token=$1`
	return s.scanToken(ctx, "find token by access token", query, accessToken)
}

// FindTokenByRefreshToken implements CredentialStore. Inside a transaction the
// row stays locked until commit, so a concurrent rotation of the same refresh
// token waits and then aborts.
func (s *PostgresStore) FindTokenByRefreshToken(ctx context.Context, refreshToken string) (*domain.Token, error) {
	query := `
        SELECT access_token, refresh_token, user_id, expires_at
        FROM auth_tokens WHERE refresh_token=$1`
	if s.txFrom(ctx) != nil {
		query += ` FOR UPDATE`
	}
	return s.scanToken(ctx, "find token by refresh token", query, refreshToken)
}

// InsertToken implements CredentialStore.
func (s *PostgresStore) InsertToken(ctx context.Context, token *domain.Token) error {
	const query = `
        INSERT INTO auth_tokens (access_token, refresh_token, user_id, expires_at)
        VALUES ($1, $2, $3, $4)`
	_, err := s.q(ctx).Exec(ctx, query,
		token.AccessToken,
		token.RefreshToken,
		token.UserID,
		token.ExpiresAt,
	)
	return wrapPgError("insert token", err)
}

// DeleteToken implements CredentialStore.
func (s *PostgresStore) DeleteToken(ctx context.Context, accessToken string) (bool, error) {
	const query = `DELETE FROM auth_tokens WHERE access_token=$1`
	cmd, err := s.q(ctx).Exec(ctx, query, accessToken)
	if err != nil {
		return false, wrapPgError("delete token", err)
	}
	return cmd.RowsAffected() > 0, nil
}

// DeleteAllTokensForUser implements CredentialStore.
func (s *PostgresStore) DeleteAllTokensForUser(ctx context.Context, userID string) (int64, error) {
	const query = `DELETE FROM auth_tokens WHERE user_id=$1`
	cmd, err := s.q(ctx).Exec(ctx, query, userID)
	if err != nil {
		return 0, wrapPgError("delete tokens for user", err)
	}
	return cmd.RowsAffected(), nil
}

func (s *PostgresStore) scanToken(ctx context.Context, op, query, arg string) (*domain.Token, error) {
	var token domain.Token
	if err := s.q(ctx).QueryRow(ctx, query, arg).Scan(
		&token.AccessToken,
		&token.RefreshToken,
		&token.UserID,
		&token.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapPgError(op, err)
	}
	token.ExpiresAt = token.ExpiresAt.UTC()
	return &token, nil
}
