package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/session-service/internal/auth"
	"github.com/spec-kit/session-service/internal/config"
	"github.com/spec-kit/session-service/internal/domain"
	"github.com/spec-kit/session-service/internal/events"
	"github.com/spec-kit/session-service/internal/repository"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

const testTTL = 24 * time.Hour

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, e events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) types() []events.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]events.EventType, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

func (d *recordingDispatcher) last() events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[len(d.events)-1]
}

// faultyStore injects failures in front of a MemoryStore.
type faultyStore struct {
	*repository.MemoryStore
	findUserErr error
	txErr       error
}

func (f *faultyStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if f.findUserErr != nil {
		return nil, f.findUserErr
	}
	return f.MemoryStore.FindUserByEmail(ctx, email)
}

func (f *faultyStore) RunInTransaction(ctx context.Context, work func(ctx context.Context) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	return f.MemoryStore.RunInTransaction(ctx, work)
}

type fixture struct {
	store      *repository.MemoryStore
	clock      *fakeClock
	dispatcher *recordingDispatcher
	sessions   *SessionService
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{TokenTTL: testTTL, BcryptCost: bcrypt.MinCost}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      repository.NewMemoryStore(),
		clock:      newFakeClock(t0),
		dispatcher: &recordingDispatcher{},
	}
	f.sessions = NewSessionService(testAuthConfig(), SessionDependencies{
		Store:      f.store,
		Dispatcher: f.dispatcher,
		Clock:      f.clock.Now,
	})
	return f
}

func (f *fixture) seedUser(t *testing.T, email, password string) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	u := &domain.User{
		ID:           uuid.NewString(),
		Name:         "Seeded",
		Email:        email,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) countTokens(t *testing.T, userID string) int64 {
	t.Helper()
	var n int64
	// Counting by deleting inside a rolled back transaction leaves the store untouched.
	_ = f.store.RunInTransaction(context.Background(), func(ctx context.Context) error {
		var err error
		n, err = f.store.DeleteAllTokensForUser(ctx, userID)
		require.NoError(t, err)
		return errRollback
	})
	return n
}

var errRollback = errors.New("rollback")
