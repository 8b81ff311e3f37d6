package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenApp(token string) *fiber.App {
	app := fiber.New()
	app.Post("/hook", TokenAuth(TokenConfig{Token: token, Header: "X-HIC-Token", QueryParam: "token"}), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestTokenAuth(t *testing.T) {
	app := newTokenApp("s3cret")

	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{"query token", "/hook?token=s3cret", nil, fiber.StatusNoContent},
		{"header token", "/hook", map[string]string{"X-HIC-Token": "s3cret"}, fiber.StatusNoContent},
		{"bearer token", "/hook", map[string]string{"Authorization": "Bearer s3cret"}, fiber.StatusNoContent},
		{"wrong token", "/hook?token=nope", nil, fiber.StatusUnauthorized},
		{"missing token", "/hook", nil, fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodPost, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestTokenAuthWithoutConfiguredToken(t *testing.T) {
	app := newTokenApp("")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/hook?token=", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
