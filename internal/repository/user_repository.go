package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/session-service/internal/domain"
)

const pgUserColumns = `id, name, email, password_hash, status, created_at, updated_at`

// CreateUser implements UserRepository.
func (s *PostgresStore) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (id, name, email, password_hash, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at, updated_at`

	err := s.q(ctx).QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Status,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return wrapPgError("create user", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return nil
}

// GetUserByID implements UserRepository.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT ` + pgUserColumns + ` FROM users WHERE id=$1`
	return s.scanUser(ctx, "get user", query, id)
}

// FindUserByEmail implements CredentialStore.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT ` + pgUserColumns + ` FROM users WHERE email=$1`
	return s.scanUser(ctx, "find user by email", query, email)
}

// DeleteUser implements UserRepository. Tokens go with the user through the
// ON DELETE CASCADE foreign key.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id=$1`
	_, err := s.q(ctx).Exec(ctx, query, id)
	return wrapPgError("delete user", err)
}

func (s *PostgresStore) scanUser(ctx context.Context, op, query string, arg any) (*domain.User, error) {
	var user domain.User
	if err := s.q(ctx).QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapPgError(op, err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}
