package middleware

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/congo_auth/internal/auth"
)

type stubVerifier map[string]*auth.Claims

func (s stubVerifier) ParseAccess(token string) (*auth.Claims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func TestBearer(t *testing.T) {
	verifier := stubVerifier{"good": {UserID: "user-1", Email: "a@x.com"}}
	app := fiber.New()
	app.Get("/me", Bearer(verifier), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid", header: "Bearer good", status: fiber.StatusOK, body: "user-1"},
		{name: "lowercase scheme", header: "bearer good", status: fiber.StatusOK, body: "user-1"},
		{name: "missing", header: "", status: fiber.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: fiber.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", status: fiber.StatusUnauthorized},
		{name: "invalid", header: "Bearer bad", status: fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(body))
			}
		})
	}
}
