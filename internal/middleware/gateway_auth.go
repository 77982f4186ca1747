package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/orchestrator/pkg/response"
)

// GatewayAuthMiddleware reads the caller identity from X-User-* headers
// set by Traefik ForwardAuth.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		account := c.Get("X-User-Wallet")
		if account == "" {
			account = userID
		}
		setIdentity(c, userID, account)

		return c.Next()
	}
}
