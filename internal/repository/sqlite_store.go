package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/spec-kit/session-service/internal/domain"
)

// sqlDBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type sqlDBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTxKey struct{}

// SQLiteStore implements Store over an embedded SQLite database.
//
// The handle is limited to a single connection: SQLite allows one writer at a
// time, and funnelling every statement through one connection makes each
// transaction run in isolation from all others.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened and migrated SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (s *SQLiteStore) txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(sqlTxKey{}).(*sql.Tx)
	return tx
}

func (s *SQLiteStore) q(ctx context.Context) sqlDBTX {
	if tx := s.txFrom(ctx); tx != nil {
		return tx
	}
	return s.db
}

// RunInTransaction implements CredentialStore.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, work func(ctx context.Context) error) (err error) {
	if s.txFrom(ctx) != nil {
		return work(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLiteError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = work(context.WithValue(ctx, sqlTxKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return wrapSQLiteError("commit transaction", err)
	}
	return nil
}

// CreateUser implements UserRepository.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	user.CreatedAt = fromMillis(toMillis(user.CreatedAt))
	user.UpdatedAt = fromMillis(toMillis(user.UpdatedAt))

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Status),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	return wrapSQLiteError("create user", err)
}

// GetUserByID implements UserRepository.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.scanUser(ctx, "get user", `
		SELECT id, name, email, password_hash, status, created_at, updated_at
		FROM users WHERE id = ?`, id)
}

// FindUserByEmail implements CredentialStore.
func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.scanUser(ctx, "find user by email", `
		SELECT id, name, email, password_hash, status, created_at, updated_at
		FROM users WHERE email = ?`, email)
}

// DeleteUser implements UserRepository.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.q(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return wrapSQLiteError("delete user", err)
}

func (s *SQLiteStore) scanUser(ctx context.Context, op, query string, arg string) (*domain.User, error) {
	var (
		user      domain.User
		status    string
		createdAt int64
		updatedAt int64
	)
	err := s.q(ctx).QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&status,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapSQLiteError(op, err)
	}
	user.Status = domain.UserStatus(status)
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}

// FindTokenByAccessToken implements CredentialStore.
func (s *SQLiteStore) FindTokenByAccessToken(ctx context.Context, accessToken string) (*domain.Token, error) {
	return s.scanToken(ctx, "find token by access token", `
		SELECT access_token, refresh_token, user_id, expires_at
		FROM auth_tokens WHERE access_token = ?`, accessToken)
}

// FindTokenByRefreshToken implements CredentialStore.
func (s *SQLiteStore) FindTokenByRefreshToken(ctx context.Context, refreshToken string) (*domain.Token, error) {
	return s.scanToken(ctx, "find token by refresh token", `
		SELECT access_token, refresh_token, user_id, expires_at
		FROM auth_tokens WHERE refresh_token = ?`, refreshToken)
}

// InsertToken implements CredentialStore.
func (s *SQLiteStore) InsertToken(ctx context.Context, token *domain.Token) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO auth_tokens (access_token, refresh_token, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		token.AccessToken,
		token.RefreshToken,
		token.UserID,
		toMillis(token.ExpiresAt),
		toMillis(time.Now()),
	)
	return wrapSQLiteError("insert token", err)
}

// DeleteToken implements CredentialStore.
func (s *SQLiteStore) DeleteToken(ctx context.Context, accessToken string) (bool, error) {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM auth_tokens WHERE access_token = ?`, accessToken)
	if err != nil {
		return false, wrapSQLiteError("delete token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapSQLiteError("delete token", err)
	}
	return n > 0, nil
}

// DeleteAllTokensForUser implements CredentialStore.
func (s *SQLiteStore) DeleteAllTokensForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM auth_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, wrapSQLiteError("delete tokens for user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapSQLiteError("delete tokens for user", err)
	}
	return n, nil
}

func (s *SQLiteStore) scanToken(ctx context.Context, op, query, arg string) (*domain.Token, error) {
	var (
		token     domain.Token
		expiresAt int64
	)
	err := s.q(ctx).QueryRowContext(ctx, query, arg).Scan(
		&token.AccessToken,
		&token.RefreshToken,
		&token.UserID,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapSQLiteError(op, err)
	}
	token.ExpiresAt = fromMillis(expiresAt)
	return &token, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func wrapSQLiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch code := se.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE && strings.Contains(se.Error(), "users.email"):
			err = fmt.Errorf("%w: %w", domain.ErrDuplicateEmail, err)
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			err = fmt.Errorf("%w: %w", domain.ErrDuplicateKey, err)
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			err = fmt.Errorf("%w: %w", domain.ErrConflict, err)
		}
	}
	return domain.NewStorageError(op, err)
}
