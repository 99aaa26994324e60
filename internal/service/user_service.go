package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/session-service/internal/auth"
	"github.com/spec-kit/session-service/internal/config"
	"github.com/spec-kit/session-service/internal/domain"
	"github.com/spec-kit/session-service/internal/events"
	"github.com/spec-kit/session-service/internal/repository"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// UserService manages the accounts sessions are issued for.
type UserService struct {
	store      repository.Store
	sessions   *SessionService
	bcryptCost int
	now        func() time.Time
	logger     *zap.Logger
}

// NewUserService builds the service. A nil clock means time.Now.
func NewUserService(cfg config.AuthConfig, store repository.Store, sessions *SessionService, now func() time.Time, logger *zap.Logger) *UserService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		store:      store,
		sessions:   sessions,
		bcryptCost: cfg.BcryptCost,
		now:        now,
		logger:     logger.Named("users"),
	}
}

// Register creates an account and opens its first session. The user and the
// token are committed together.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*domain.User, *domain.Token, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	if name == "" {
		return nil, nil, &domain.ValidationError{Field: "name", Message: "is required"}
	}
	if email == "" {
		return nil, nil, &domain.ValidationError{Field: "email", Message: "is required"}
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, nil, &domain.ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if len(password) < MinPasswordLength {
		return nil, nil, &domain.ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var token *domain.Token
	err = s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.CreateUser(ctx, user); err != nil {
			return err
		}
		issued, err := s.sessions.Issuer().Issue(ctx, user.ID)
		if err != nil {
			return err
		}
		token = issued
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateEmail) {
		return nil, nil, domain.ErrEmailTaken
	}
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	s.sessions.publish(ctx, events.NewEvent(events.EventSessionIssued, user.ID, s.now(), events.SessionIssuedPayload{
		ExpiresAt: token.ExpiresAt,
	}))
	return user, token, nil
}

// Get returns the user with id or repository.ErrNotFound.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// Delete revokes every session of the user and removes the account in one
// transaction. Deleting a missing user succeeds.
func (s *UserService) Delete(ctx context.Context, id string) error {
	var revoked int64
	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		n, err := s.store.DeleteAllTokensForUser(ctx, id)
		if err != nil {
			return err
		}
		revoked = n
		return s.store.DeleteUser(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("user deleted", zap.String("user_id", id), zap.Int64("revoked_tokens", revoked))
	s.sessions.publish(ctx, events.NewEvent(events.EventSessionsRevokedAll, id, s.now(), events.SessionsRevokedAllPayload{Count: revoked}))
	return nil
}
