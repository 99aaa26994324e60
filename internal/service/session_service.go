package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/session-service/internal/auth"
	"github.com/spec-kit/session-service/internal/config"
	"github.com/spec-kit/session-service/internal/domain"
	"github.com/spec-kit/session-service/internal/events"
	"github.com/spec-kit/session-service/internal/observability"
	"github.com/spec-kit/session-service/internal/repository"
)

// Metric outcome labels.
const (
	outcomeSuccess   = "success"
	outcomeInvalid   = "invalid"
	outcomeThrottled = "throttled"
	outcomeError     = "error"
)

// SessionService coordinates login, refresh rotation, validation and
// revocation of token pairs.
type SessionService struct {
	store      repository.CredentialStore
	issuer     *TokenIssuer
	validator  *CredentialValidator
	throttle   LoginThrottle
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time

	// timingHash stands in for the stored hash when the email is unknown.
	timingHash string
}

// SessionDependencies bundles collaborators for the session service. Only
// Store is required.
type SessionDependencies struct {
	Store      repository.CredentialStore
	Passwords  auth.PasswordVerifier
	Throttle   LoginThrottle
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewSessionService builds the service.
func NewSessionService(cfg config.AuthConfig, deps SessionDependencies) *SessionService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	passwords := deps.Passwords
	if passwords == nil {
		passwords = auth.BcryptVerifier{}
	}
	throttle := deps.Throttle
	if throttle == nil {
		throttle = NoopLoginThrottle{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timingHash, err := auth.HashPassword("session-timing-equalizer", cfg.BcryptCost)
	if err != nil {
		logger.Warn("build timing hash", zap.Error(err))
	}

	return &SessionService{
		store:      deps.Store,
		issuer:     NewTokenIssuer(deps.Store, cfg.TokenTTL, now),
		validator:  NewCredentialValidator(deps.Store, passwords, now),
		throttle:   throttle,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger.Named("session"),
		now:        now,
		timingHash: timingHash,
	}
}

// Issuer exposes the token issuer so registration can open a session inside
// its own transaction.
func (s *SessionService) Issuer() *TokenIssuer {
	return s.issuer
}

// Login exchanges an email and password for a new token pair. Unknown emails
// and wrong passwords fail with the same error after comparable work.
func (s *SessionService) Login(ctx context.Context, email, password string) (*domain.Token, error) {
	key := normalizeEmail(email)

	retryAfter, err := s.throttle.Allow(ctx, key)
	if err != nil {
		s.logger.Warn("login throttle unavailable", zap.Error(err))
	} else if retryAfter > 0 {
		s.metrics.RecordAuth("login", outcomeThrottled)
		return nil, &domain.ThrottledError{RetryAfter: retryAfter}
	}

	user, err := s.store.FindUserByEmail(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		s.validator.VerifyPassword(password, s.timingHash)
		s.loginFailed(ctx, key, "", "unknown_email")
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.RecordAuth("login", outcomeError)
		return nil, err
	}

	if !s.validator.VerifyPassword(password, user.PasswordHash) {
		s.loginFailed(ctx, key, user.ID, "wrong_password")
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(ctx, user.ID)
	if err != nil {
		s.metrics.RecordAuth("login", outcomeError)
		return nil, err
	}

	if err := s.throttle.Reset(ctx, key); err != nil {
		s.logger.Warn("reset login throttle", zap.Error(err))
	}
	s.metrics.RecordAuth("login", outcomeSuccess)
	s.publish(ctx, events.NewEvent(events.EventSessionIssued, user.ID, s.now(), events.SessionIssuedPayload{
		ExpiresAt: token.ExpiresAt,
	}))
	return token, nil
}

func (s *SessionService) loginFailed(ctx context.Context, key, userID, reason string) {
	if err := s.throttle.RecordFailure(ctx, key); err != nil {
		s.logger.Warn("record login failure", zap.Error(err))
	}
	s.metrics.RecordAuth("login", outcomeInvalid)
	s.logger.Info("login rejected", zap.String("reason", reason), zap.String("user_id", userID))
	s.publish(ctx, events.NewEvent(events.EventLoginFailed, userID, s.now(), events.LoginFailedPayload{Reason: reason}))
}

// Refresh atomically consumes refreshToken and issues a new pair for its
// owner. When several callers present the same refresh token at most one
// succeeds; the rest get domain.ErrInvalidRefreshToken. Any failure leaves the
// old pair in place.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*domain.Token, error) {
	if refreshToken == "" || len(refreshToken) > auth.MaxTokenLength {
		s.metrics.RecordAuth("refresh", outcomeInvalid)
		return nil, domain.ErrInvalidRefreshToken
	}

	var issued *domain.Token
	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		old, err := s.store.FindTokenByRefreshToken(ctx, refreshToken)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInvalidRefreshToken
		}
		if err != nil {
			return err
		}

		deleted, err := s.store.DeleteToken(ctx, old.AccessToken)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrInvalidRefreshToken
		}

		issued, err = s.issuer.Issue(ctx, old.UserID)
		return err
	})
	if errors.Is(err, domain.ErrConflict) {
		s.logger.Info("refresh lost a concurrent rotation")
		err = domain.ErrInvalidRefreshToken
	}
	if err != nil {
		if domain.IsAuthError(err) {
			s.metrics.RecordAuth("refresh", outcomeInvalid)
		} else {
			s.metrics.RecordAuth("refresh", outcomeError)
		}
		return nil, err
	}

	s.metrics.RecordAuth("refresh", outcomeSuccess)
	s.publish(ctx, events.NewEvent(events.EventSessionRotated, issued.UserID, s.now(), events.SessionRotatedPayload{
		ExpiresAt: issued.ExpiresAt,
	}))
	return issued, nil
}

// RevokeAll deletes every token of userID. Revoking a user with no tokens
// succeeds.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) error {
	n, err := s.store.DeleteAllTokensForUser(ctx, userID)
	if err != nil {
		s.metrics.RecordAuth("revoke_all", outcomeError)
		return err
	}
	s.metrics.RecordAuth("revoke_all", outcomeSuccess)
	s.publish(ctx, events.NewEvent(events.EventSessionsRevokedAll, userID, s.now(), events.SessionsRevokedAllPayload{Count: n}))
	return nil
}

// Logout deletes the single pair identified by accessToken. Unknown tokens are
// ignored.
func (s *SessionService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" || len(accessToken) > auth.MaxTokenLength {
		return nil
	}
	token, err := s.store.FindTokenByAccessToken(ctx, accessToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.metrics.RecordAuth("logout", outcomeError)
		return err
	}
	deleted, err := s.store.DeleteToken(ctx, accessToken)
	if err != nil {
		s.metrics.RecordAuth("logout", outcomeError)
		return err
	}
	s.metrics.RecordAuth("logout", outcomeSuccess)
	if deleted {
		s.publish(ctx, events.NewEvent(events.EventSessionRevoked, token.UserID, s.now(), nil))
	}
	return nil
}

// Validate reports whether accessToken is currently valid.
func (s *SessionService) Validate(ctx context.Context, accessToken string) (bool, error) {
	ok, err := s.validator.IsTokenValid(ctx, accessToken)
	s.recordCheck("validate", ok, err)
	return ok, err
}

// Authenticate returns the record behind a valid access token.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (*domain.Token, error) {
	token, err := s.validator.Authenticate(ctx, accessToken)
	s.recordCheck("authenticate", err == nil, err)
	return token, err
}

func (s *SessionService) recordCheck(op string, ok bool, err error) {
	switch {
	case err != nil && !domain.IsAuthError(err):
		s.metrics.RecordAuth(op, outcomeError)
	case ok:
		s.metrics.RecordAuth(op, outcomeSuccess)
	default:
		s.metrics.RecordAuth(op, outcomeInvalid)
	}
}

// publish delivers an event; handler failures are logged and never fail the
// operation that produced the event.
func (s *SessionService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
