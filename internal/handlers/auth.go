package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/courierhq/courier/internal/auth"
	"github.com/courierhq/courier/internal/config"
)

// AuthHandler serves token refresh and identity introspection. Initial
// tokens are minted outside the server with the shared secret; refresh
// requires a still-valid token and preserves its lifespan.
type AuthHandler struct {
	secret     string
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewAuthHandler creates an AuthHandler from the auth configuration.
func NewAuthHandler(log *slog.Logger, cfg config.Config) *AuthHandler {
	ttl, err := cfg.Auth.ExpiresInDuration()
	if err != nil {
		// Load already validated this; keep a sane fallback anyway.
		ttl = 24 * time.Hour
	}
	return &AuthHandler{
		secret:     cfg.Auth.JWTSecret,
		defaultTTL: ttl,
		logger:     log.With(slog.String("handler", "auth")),
	}
}

// Register registers the auth routes.
func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/refresh", h.Refresh)
	e.GET("/auth/whoami", h.Whoami)
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Refresh reissues the caller's token for the same user.
func (h *AuthHandler) Refresh(c echo.Context) error {
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.secret, h.defaultTTL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

// Whoami returns the user id carried by the caller's token.
func (h *AuthHandler) Whoami(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"user_id": userID})
}
