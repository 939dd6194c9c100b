package middleware

import (
	"strings"

	"lexicard-progression/config"
	"lexicard-progression/utils"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware validates the shared-secret Bearer token the gateway
// attaches to every forwarded request. Running without a token requires the
// explicit GATEWAY_AUTH_DISABLED flag; an unset token alone is a startup error.
func GatewayAuthMiddleware() fiber.Handler {
	cfg := config.Get()

	if cfg.GatewayAuthDisabled {
		utils.Sugar.Warn("gateway authentication disabled by configuration")
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	if cfg.GatewayToken == "" {
		utils.Sugar.Fatal("PROGRESSION_SERVICE_TOKEN is not set; set GATEWAY_AUTH_DISABLED=true to run without a gateway")
	}
	expectedToken := cfg.GatewayToken

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			utils.Sugar.Warnw("missing gateway token", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token != expectedToken {
			utils.Sugar.Warnw("invalid gateway token", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}
