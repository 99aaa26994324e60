package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/spec-kit/session-service/internal/domain"
)

type memoryState struct {
	users        map[string]domain.User  // by id
	emails       map[string]string       // email -> user id
	tokens       map[string]domain.Token // by access token
	refreshIndex map[string]string       // refresh token -> access token
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:        make(map[string]domain.User),
		emails:       make(map[string]string),
		tokens:       make(map[string]domain.Token),
		refreshIndex: make(map[string]string),
	}
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		users:        make(map[string]domain.User, len(st.users)),
		emails:       make(map[string]string, len(st.emails)),
		tokens:       make(map[string]domain.Token, len(st.tokens)),
		refreshIndex: make(map[string]string, len(st.refreshIndex)),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.emails {
		c.emails[k] = v
	}
	for k, v := range st.tokens {
		c.tokens[k] = v
	}
	for k, v := range st.refreshIndex {
		c.refreshIndex[k] = v
	}
	return c
}

type memoryTxKey struct{}

type memoryTx struct {
	store *MemoryStore
	state *memoryState
}

// MemoryStore is an in-process Store used for development and tests.
//
// Writers are serialized by writeMu. A transaction holds writeMu for its whole
// duration and works on a private copy of the state that replaces the shared
// state on commit, so readers never see uncommitted changes.
type MemoryStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *memoryState
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (s *MemoryStore) txFrom(ctx context.Context) *memoryTx {
	tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	if !ok || tx.store != s {
		return nil
	}
	return tx
}

// read runs fn against the state visible to ctx.
func (s *MemoryStore) read(ctx context.Context, fn func(st *memoryState)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx := s.txFrom(ctx); tx != nil {
		fn(tx.state)
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
	return nil
}

// write runs fn against the state visible to ctx, serialized with other writers.
func (s *MemoryStore) write(ctx context.Context, fn func(st *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx := s.txFrom(ctx); tx != nil {
		return fn(tx.state)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// RunInTransaction implements CredentialStore.
func (s *MemoryStore) RunInTransaction(ctx context.Context, work func(ctx context.Context) error) (err error) {
	if s.txFrom(ctx) != nil {
		return work(ctx)
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("begin transaction", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	tx := &memoryTx{store: s, state: s.state.clone()}
	s.mu.RUnlock()

	if err := work(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("commit transaction", err)
	}

	s.mu.Lock()
	s.state = tx.state
	s.mu.Unlock()
	return nil
}

// FindUserByEmail implements CredentialStore.
func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var (
		user  domain.User
		found bool
	)
	if err := s.read(ctx, func(st *memoryState) {
		if id, ok := st.emails[email]; ok {
			user, found = st.users[id]
		}
	}); err != nil {
		return nil, domain.NewStorageError("find user by email", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &user, nil
}

// GetUserByID implements UserRepository.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var (
		user  domain.User
		found bool
	)
	if err := s.read(ctx, func(st *memoryState) {
		user, found = st.users[id]
	}); err != nil {
		return nil, domain.NewStorageError("get user", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &user, nil
}

// CreateUser implements UserRepository.
func (s *MemoryStore) CreateUser(ctx context.Context, user *domain.User) error {
	err := s.write(ctx, func(st *memoryState) error {
		if _, ok := st.users[user.ID]; ok {
			return fmt.Errorf("%w: user id", domain.ErrDuplicateKey)
		}
		if _, ok := st.emails[user.Email]; ok {
			return domain.ErrDuplicateEmail
		}
		st.users[user.ID] = *user
		st.emails[user.Email] = user.ID
		return nil
	})
	return domain.NewStorageError("create user", err)
}

// DeleteUser implements UserRepository.
func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	err := s.write(ctx, func(st *memoryState) error {
		user, ok := st.users[id]
		if !ok {
			return nil
		}
		delete(st.emails, user.Email)
		delete(st.users, id)
		st.deleteTokensFor(id)
		return nil
	})
	return domain.NewStorageError("delete user", err)
}

// FindTokenByAccessToken implements CredentialStore.
func (s *MemoryStore) FindTokenByAccessToken(ctx context.Context, accessToken string) (*domain.Token, error) {
	var (
		token domain.Token
		found bool
	)
	if err := s.read(ctx, func(st *memoryState) {
		token, found = st.tokens[accessToken]
	}); err != nil {
		return nil, domain.NewStorageError("find token by access token", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &token, nil
}

// FindTokenByRefreshToken implements CredentialStore. Inside a transaction the
// store-wide writer lock already excludes every other writer.
func (s *MemoryStore) FindTokenByRefreshToken(ctx context.Context, refreshToken string) (*domain.Token, error) {
	var (
		token domain.Token
		found bool
	)
	if err := s.read(ctx, func(st *memoryState) {
		if access, ok := st.refreshIndex[refreshToken]; ok {
			token, found = st.tokens[access]
		}
	}); err != nil {
		return nil, domain.NewStorageError("find token by refresh token", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &token, nil
}

// InsertToken implements CredentialStore.
func (s *MemoryStore) InsertToken(ctx context.Context, token *domain.Token) error {
	err := s.write(ctx, func(st *memoryState) error {
		if _, ok := st.tokens[token.AccessToken]; ok {
			return fmt.Errorf("%w: access token", domain.ErrDuplicateKey)
		}
		if _, ok := st.refreshIndex[token.RefreshToken]; ok {
			return fmt.Errorf("%w: refresh token", domain.ErrDuplicateKey)
		}
		st.tokens[token.AccessToken] = *token
		st.refreshIndex[token.RefreshToken] = token.AccessToken
		return nil
	})
	return domain.NewStorageError("insert token", err)
}

// DeleteToken implements CredentialStore.
func (s *MemoryStore) DeleteToken(ctx context.Context, accessToken string) (bool, error) {
	var deleted bool
	err := s.write(ctx, func(st *memoryState) error {
		token, ok := st.tokens[accessToken]
		if !ok {
			return nil
		}
		delete(st.refreshIndex, token.RefreshToken)
		delete(st.tokens, accessToken)
		deleted = true
		return nil
	})
	if err != nil {
		return false, domain.NewStorageError("delete token", err)
	}
	return deleted, nil
}

// DeleteAllTokensForUser implements CredentialStore.
func (s *MemoryStore) DeleteAllTokensForUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.write(ctx, func(st *memoryState) error {
		n = st.deleteTokensFor(userID)
		return nil
	})
	if err != nil {
		return 0, domain.NewStorageError("delete tokens for user", err)
	}
	return n, nil
}

func (st *memoryState) deleteTokensFor(userID string) int64 {
	var n int64
	for access, token := range st.tokens {
		if token.UserID != userID {
			continue
		}
		delete(st.refreshIndex, token.RefreshToken)
		delete(st.tokens, access)
		n++
	}
	return n
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
