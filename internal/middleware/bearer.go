package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_auth/internal/auth"
)

const (
	userIDLocal = "user_id"
	emailLocal  = "email"
)

// AccessVerifier verifies access tokens.
type AccessVerifier interface {
	ParseAccess(token string) (*auth.Claims, error)
}

// Bearer rejects requests without a valid access token and stores the
// caller's id and email in locals.
func Bearer(verifier AccessVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		scheme, token, ok := strings.Cut(authz, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		claims, err := verifier.ParseAccess(strings.TrimSpace(token))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		c.Locals(userIDLocal, claims.UserID)
		c.Locals(emailLocal, claims.Email)
		return c.Next()
	}
}

// UserID returns the authenticated user id set by Bearer.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDLocal).(string)
	return id
}
