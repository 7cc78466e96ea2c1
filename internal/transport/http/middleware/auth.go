package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/transport/http/dto"
)

// AdminAuth guards the API with the configured admin key. With no key set the
// API is open, which is only sensible on a loopback listener.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := cfg.Auth.AdminAPIKey
		if apiKey == "" {
			return c.Next()
		}

		headerToken := c.Get("X-Admin-Token")
		if headerToken == "" {
			headerToken = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}
		// Browsers cannot set headers on a websocket upgrade.
		if headerToken == "" && c.Get(fiber.HeaderUpgrade) != "" {
			headerToken = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "unauthorized"})
		}
		return c.Next()
	}
}
