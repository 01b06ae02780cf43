package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierhq/courier/internal/auth"
	"github.com/courierhq/courier/internal/config"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthHandlerForTest(t *testing.T, secret string) *AuthHandler {
	t.Helper()
	cfg := config.Config{}
	cfg.Auth.JWTSecret = secret
	cfg.Auth.JWTExpiresIn = "1h"
	return NewAuthHandler(noopLogger(), cfg)
}

func authedContext(t *testing.T, e *echo.Echo, secret, userID string, path string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	tokenStr, _, err := auth.GenerateToken(userID, secret, 10*time.Minute)
	require.NoError(t, err)
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user", token)
	return c, rec
}

func TestAuthRefreshIssuesNewToken(t *testing.T) {
	e := echo.New()
	secret := "handler-secret"
	h := newAuthHandlerForTest(t, secret)

	c, rec := authedContext(t, e, secret, "user-9", "/auth/refresh")
	require.NoError(t, h.Refresh(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	assert.True(t, body.ExpiresAt.After(time.Now()))

	parsed, err := jwt.Parse(body.Token, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "user-9", claims["user_id"])
	// Refresh keeps the original 10-minute lifespan.
	iat := int64(claims["iat"].(float64))
	exp := int64(claims["exp"].(float64))
	assert.Equal(t, int64(10*60), exp-iat)
}

func TestAuthRefreshWithoutToken(t *testing.T) {
	e := echo.New()
	h := newAuthHandlerForTest(t, "handler-secret")

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Refresh(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAuthWhoami(t *testing.T) {
	e := echo.New()
	secret := "handler-secret"
	h := newAuthHandlerForTest(t, secret)

	c, rec := authedContext(t, e, secret, "user-42", "/auth/whoami")
	require.NoError(t, h.Whoami(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user-42", body["user_id"])
}
