package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStoreHidesUncommittedWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := seedUser(t, s, "iso@example.com")
	tok := newToken(u.ID, time.Hour)

	err := s.RunInTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, s.InsertToken(txCtx, tok))

		_, err := s.FindTokenByAccessToken(ctx, tok.AccessToken)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.FindTokenByAccessToken(txCtx, tok.AccessToken)
		assert.NoError(t, err)
		return nil
	})
	require.NoError(t, err)

	_, err = s.FindTokenByAccessToken(ctx, tok.AccessToken)
	assert.NoError(t, err)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := seedUser(t, s, "copy@example.com")
	tok := seedToken(t, s, u.ID, time.Hour)

	got, err := s.FindTokenByAccessToken(ctx, tok.AccessToken)
	require.NoError(t, err)
	got.UserID = "tampered"

	again, err := s.FindTokenByAccessToken(ctx, tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.UserID)
}

func TestMemoryStoreTransactionsAreScopedToStore(t *testing.T) {
	a := NewMemoryStore()
	b := NewMemoryStore()
	ctx := context.Background()
	u := seedUser(t, b, "scoped@example.com")
	tok := newToken(u.ID, time.Hour)

	err := a.RunInTransaction(ctx, func(txCtx context.Context) error {
		return b.InsertToken(txCtx, tok)
	})
	require.NoError(t, err)

	_, err = b.FindTokenByAccessToken(ctx, tok.AccessToken)
	assert.NoError(t, err)
}
