package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zapa-ai/zapa/pkg/security"
	"github.com/zapa-ai/zapa/pkg/utils"
)

const claimsKey = "auth_claims"

// RequireUser guards user-scope routes with a bearer token check.
func RequireUser(tokens *security.TokenIssuer) fiber.Handler {
	return requireScope(tokens, "user")
}

// RequireAdmin guards the admin surface. Admin tokens come from a separate
// issuer with its own secret, so a user token never passes here.
func RequireAdmin(tokens *security.TokenIssuer) fiber.Handler {
	return requireScope(tokens, "admin")
}

func requireScope(tokens *security.TokenIssuer, label string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			logrus.Warnf("[AUTH] Missing bearer token for %s %s from %s", c.Method(), c.Path(), c.IP())
			return unauthorized(c, "missing bearer token")
		}

		claims, err := tokens.Verify(token)
		if err != nil {
			logrus.Warnf("[AUTH] Rejected %s token for %s %s from %s", label, c.Method(), c.Path(), c.IP())
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// ClaimsFrom returns the verified claims stored by RequireUser/RequireAdmin,
// or nil on unauthenticated routes.
func ClaimsFrom(c *fiber.Ctx) *security.Claims {
	claims, _ := c.Locals(claimsKey).(*security.Claims)
	return claims
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(utils.ResponseData{
		Status:  fiber.StatusUnauthorized,
		Code:    "auth",
		Message: message,
	})
}
