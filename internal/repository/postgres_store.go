package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/session-service/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	pgUsersEmailConstraint = "users_email_key"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

// PostgresStore implements Store on a pgx connection pool. Transactions run
// with SERIALIZABLE isolation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Postgres-backed implementation.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) txFrom(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(pgTxKey{}).(pgx.Tx)
	return tx
}

func (s *PostgresStore) q(ctx context.Context) pgQuerier {
	if tx := s.txFrom(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// RunInTransaction implements CredentialStore.
func (s *PostgresStore) RunInTransaction(ctx context.Context, work func(ctx context.Context) error) (err error) {
	if s.txFrom(ctx) != nil {
		return work(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return wrapPgError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = work(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return wrapPgError("commit transaction", err)
	}
	return nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return s.pool.Ping(ctx)
}

// Close is a no-op: the pool is owned by persistence.Postgres.
func (s *PostgresStore) Close() error {
	return nil
}

// wrapPgError classifies pg failures into storage errors.
func wrapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			dup := domain.ErrDuplicateKey
			if pgErr.ConstraintName == pgUsersEmailConstraint {
				dup = domain.ErrDuplicateEmail
			}
			err = fmt.Errorf("%w: %w", dup, err)
		case pgSerializationFailure, pgDeadlockDetected:
			err = fmt.Errorf("%w: %w", domain.ErrConflict, err)
		}
	}
	return domain.NewStorageError(op, err)
}
