package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-service/internal/api/dto"
	"github.com/spec-kit/session-service/internal/auth"
	"github.com/spec-kit/session-service/internal/service"
)

// AuthHandler exposes the session endpoints.
type AuthHandler struct {
	sessions *service.SessionService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(sessions *service.SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "email and password required")
	}

	token, err := h.sessions.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuthResponse(token)})
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.RefreshToken == "" {
		return fiber.NewError(http.StatusBadRequest, "refresh_token required")
	}

	token, err := h.sessions.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuthResponse(token)})
}

// Logout handles POST /auth/logout and ends the presented session only.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token, ok := auth.TokenFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	if err := h.sessions.Logout(c.UserContext(), token.AccessToken); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all and ends every session of the caller.
func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	token, ok := auth.TokenFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	if err := h.sessions.RevokeAll(c.UserContext(), token.UserID); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
