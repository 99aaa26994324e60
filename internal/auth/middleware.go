package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-service/internal/domain"
	apperrors "github.com/spec-kit/session-service/pkg/util"
)

const tokenKey = "auth_token"

// TokenAuthenticator resolves an access token to its stored record.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*domain.Token, error)
}

// AuthMiddleware validates bearer tokens against the credential store.
type AuthMiddleware struct {
	tokens TokenAuthenticator
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens TokenAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw, err := BearerToken(c)
	if err != nil {
		return err
	}

	token, err := m.tokens.Authenticate(c.UserContext(), raw)
	if err != nil {
		return err
	}

	c.Locals(tokenKey, token)
	return c.Next()
}

// BearerToken extracts the credential from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// TokenFromContext retrieves the token record of the authenticated caller.
func TokenFromContext(c *fiber.Ctx) (*domain.Token, bool) {
	token, ok := c.Locals(tokenKey).(*domain.Token)
	return token, ok && token != nil
}
