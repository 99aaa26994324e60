package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/session-service/internal/domain"
)

// runStoreContract exercises the behavior every Store engine must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("user round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "ada@example.com")

		got, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, got.Email)
		assert.Equal(t, u.PasswordHash, got.PasswordHash)
		assert.Equal(t, domain.UserStatusActive, got.Status)

		byEmail, err := s.FindUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
	})

	t.Run("user not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.FindUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetUserByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate email", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "dup@example.com")

		err := s.CreateUser(context.Background(), newUser("dup@example.com"))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)
		assert.ErrorIs(t, err, domain.ErrDuplicateEmail)
		assert.True(t, domain.IsStorageError(err))
	})

	t.Run("duplicate user id is not an email clash", func(t *testing.T) {
		s := newStore(t)
		u := seedUser(t, s, "first@example.com")

		clash := newUser("second@example.com")
		clash.ID = u.ID
		err := s.CreateUser(context.Background(), clash)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)
		assert.NotErrorIs(t, err, domain.ErrDuplicateEmail)
	})

	t.Run("delete user removes tokens and is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "gone@example.com")
		tok := seedToken(t, s, u.ID, time.Hour)

		require.NoError(t, s.DeleteUser(ctx, u.ID))
		require.NoError(t, s.DeleteUser(ctx, u.ID))

		_, err := s.GetUserByID(ctx, u.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindTokenByAccessToken(ctx, tok.AccessToken)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("token round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "tok@example.com")
		tok := seedToken(t, s, u.ID, 24*time.Hour)

		byAccess, err := s.FindTokenByAccessToken(ctx, tok.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, tok.UserID, byAccess.UserID)
		assert.Equal(t, tok.RefreshToken, byAccess.RefreshToken)
		assert.True(t, tok.ExpiresAt.Equal(byAccess.ExpiresAt), "want %v got %v", tok.ExpiresAt, byAccess.ExpiresAt)

		byRefresh, err := s.FindTokenByRefreshToken(ctx, tok.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, tok.AccessToken, byRefresh.AccessToken)
	})

	t.Run("token not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.FindTokenByAccessToken(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindTokenByRefreshToken(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate token strings", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "dupt@example.com")
		tok := seedToken(t, s, u.ID, time.Hour)

		sameAccess := &domain.Token{AccessToken: tok.AccessToken, RefreshToken: "other", UserID: u.ID, ExpiresAt: tok.ExpiresAt}
		err := s.InsertToken(ctx, sameAccess)
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)
		assert.NotErrorIs(t, err, domain.ErrDuplicateEmail)

		sameRefresh := &domain.Token{AccessToken: "other", RefreshToken: tok.RefreshToken, UserID: u.ID, ExpiresAt: tok.ExpiresAt}
		err = s.InsertToken(ctx, sameRefresh)
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	t.Run("delete token is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "del@example.com")
		tok := seedToken(t, s, u.ID, time.Hour)

		deleted, err := s.DeleteToken(ctx, tok.AccessToken)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.DeleteToken(ctx, tok.AccessToken)
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = s.FindTokenByRefreshToken(ctx, tok.RefreshToken)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete all tokens for user", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u1 := seedUser(t, s, "u1@example.com")
		u2 := seedUser(t, s, "u2@example.com")
		seedToken(t, s, u1.ID, time.Hour)
		seedToken(t, s, u1.ID, time.Hour)
		other := seedToken(t, s, u2.ID, time.Hour)

		n, err := s.DeleteAllTokensForUser(ctx, u1.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = s.DeleteAllTokensForUser(ctx, u1.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		_, err = s.FindTokenByAccessToken(ctx, other.AccessToken)
		assert.NoError(t, err)
	})

	t.Run("transaction commits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "tx@example.com")
		tok := newToken(u.ID, time.Hour)

		err := s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.InsertToken(ctx, tok)
		})
		require.NoError(t, err)

		_, err = s.FindTokenByAccessToken(ctx, tok.AccessToken)
		assert.NoError(t, err)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "rb@example.com")
		old := seedToken(t, s, u.ID, time.Hour)
		fresh := newToken(u.ID, time.Hour)
		boom := errors.New("boom")

		err := s.RunInTransaction(ctx, func(ctx context.Context) error {
			if _, err := s.DeleteToken(ctx, old.AccessToken); err != nil {
				return err
			}
			if err := s.InsertToken(ctx, fresh); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.FindTokenByAccessToken(ctx, old.AccessToken)
		assert.NoError(t, err, "old token must survive a rolled back rotation")
		_, err = s.FindTokenByAccessToken(ctx, fresh.AccessToken)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transaction rolls back on panic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "panic@example.com")
		tok := newToken(u.ID, time.Hour)

		assert.Panics(t, func() {
			_ = s.RunInTransaction(ctx, func(ctx context.Context) error {
				if err := s.InsertToken(ctx, tok); err != nil {
					return err
				}
				panic("kaboom")
			})
		})

		_, err := s.FindTokenByAccessToken(ctx, tok.AccessToken)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("nested transaction joins outer", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "nested@example.com")
		tok := newToken(u.ID, time.Hour)
		boom := errors.New("outer failed")

		err := s.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := s.RunInTransaction(ctx, func(ctx context.Context) error {
				return s.InsertToken(ctx, tok)
			}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.FindTokenByAccessToken(ctx, tok.AccessToken)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("compare and delete admits one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := seedUser(t, s, "race@example.com")
		tok := seedToken(t, s, u.ID, time.Hour)

		const racers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			winners  int
			failures []error
		)
		start := make(chan struct{})
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				err := s.RunInTransaction(ctx, func(ctx context.Context) error {
					found, err := s.FindTokenByRefreshToken(ctx, tok.RefreshToken)
					if err != nil {
						return err
					}
					deleted, err := s.DeleteToken(ctx, found.AccessToken)
					if err != nil {
						return err
					}
					if !deleted {
						return ErrNotFound
					}
					return s.InsertToken(ctx, newToken(u.ID, time.Hour))
				})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners++
					return
				}
				failures = append(failures, err)
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, winners)
		for _, err := range failures {
			assert.True(t, errors.Is(err, ErrNotFound) || errors.Is(err, domain.ErrConflict), "unexpected error: %v", err)
		}
	})

	t.Run("cancelled context fails", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.FindTokenByAccessToken(ctx, "x")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func newUser(email string) *domain.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.User{
		ID:           uuid.NewString(),
		Name:         "Test User",
		Email:        email,
		PasswordHash: "$2a$04$hash-for-" + email,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func seedUser(t *testing.T, s Store, email string) *domain.User {
	t.Helper()
	u := newUser(email)
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

var tokenSeq struct {
	sync.Mutex
	n int
}

func newToken(userID string, ttl time.Duration) *domain.Token {
	tokenSeq.Lock()
	tokenSeq.n++
	n := tokenSeq.n
	tokenSeq.Unlock()

	return &domain.Token{
		AccessToken:  fmt.Sprintf("access-%d-%s", n, uuid.NewString()),
		RefreshToken: fmt.Sprintf("refresh-%d-%s", n, uuid.NewString()),
		UserID:       userID,
		ExpiresAt:    time.Now().UTC().Add(ttl).Truncate(time.Millisecond),
	}
}

func seedToken(t *testing.T, s Store, userID string, ttl time.Duration) *domain.Token {
	t.Helper()
	tok := newToken(userID, ttl)
	require.NoError(t, s.InsertToken(context.Background(), tok))
	return tok
}
