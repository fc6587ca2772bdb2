package auth

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.GenerateAccessToken("user-1", "Bob")
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Bob", claims.UserName)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestJWTRejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other := NewJWTManager("other", time.Hour)
	expired := NewJWTManager("secret", -time.Minute)

	foreign, err := other.GenerateAccessToken("u", "")
	require.NoError(t, err)
	old, err := expired.GenerateAccessToken("u", "")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.ValidateAccessToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)
	_, err = m.ValidateAccessToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newApp(m *JWTManager, mw fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/who", mw, func(c *fiber.Ctx) error {
		id, _ := c.Locals(LocalUserID).(string)
		return c.SendString(id)
	})
	return app
}

func body(t *testing.T, app *fiber.App, target string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestMiddlewareTokenSources(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.GenerateAccessToken("u-42", "")
	require.NoError(t, err)
	app := newApp(m, AuthMiddleware(m))

	code, got := body(t, app, "/who", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, 200, code)
	assert.Equal(t, "u-42", got)

	code, got = body(t, app, "/who", map[string]string{"Cookie": "access_token=" + token})
	assert.Equal(t, 200, code)
	assert.Equal(t, "u-42", got)

	code, got = body(t, app, "/who?token="+token, nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "u-42", got)

	code, _ = body(t, app, "/who", nil)
	assert.Equal(t, 401, code)

	code, _ = body(t, app, "/who", map[string]string{"Authorization": "Token " + token})
	assert.Equal(t, 401, code)
}

func TestOptionalMiddleware(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	app := newApp(m, OptionalAuthMiddleware(m))

	code, got := body(t, app, "/who?token=bad", nil)
	assert.Equal(t, 200, code)
	assert.Empty(t, got)
}
