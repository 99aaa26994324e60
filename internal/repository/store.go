package repository

import (
	"context"
	"errors"

	"github.com/spec-kit/session-service/internal/domain"
)

// ErrNotFound is returned by lookups when no record matches the key.
var ErrNotFound = errors.New("record not found")

// CredentialStore is the persistence contract consumed by the session core.
//
// Every method called with a context returned inside RunInTransaction takes
// part in that transaction. Failures other than ErrNotFound are reported as
// *domain.StorageError.
type CredentialStore interface {
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindTokenByAccessToken(ctx context.Context, accessToken string) (*domain.Token, error)
	// FindTokenByRefreshToken locks the matching record until the surrounding
	// transaction ends when called inside RunInTransaction.
	FindTokenByRefreshToken(ctx context.Context, refreshToken string) (*domain.Token, error)
	// InsertToken fails with a StorageError wrapping domain.ErrDuplicateKey
	// when either token string is already stored.
	InsertToken(ctx context.Context, token *domain.Token) error
	// DeleteToken removes zero or one record and reports whether one was removed.
	DeleteToken(ctx context.Context, accessToken string) (bool, error)
	DeleteAllTokensForUser(ctx context.Context, userID string) (int64, error)
	// RunInTransaction commits when work returns nil and rolls back otherwise.
	// Nested calls join the outer transaction.
	RunInTransaction(ctx context.Context, work func(ctx context.Context) error) error
}

// UserRepository holds the account records tokens are issued for.
type UserRepository interface {
	// CreateUser fails with a StorageError wrapping domain.ErrDuplicateEmail
	// when the email is taken, or domain.ErrDuplicateKey for any other clash.
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	// DeleteUser is idempotent; the user's tokens are removed with it.
	DeleteUser(ctx context.Context, id string) error
}

// Store bundles everything a backing engine provides.
type Store interface {
	CredentialStore
	UserRepository
	Ping(ctx context.Context) error
	Close() error
}
