package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// TokenConfig configures a shared secret check.
type TokenConfig struct {
	// Token is the expected secret. An empty token rejects every request.
	Token string
	// Header is checked before the Authorization bearer value.
	Header string
	// QueryParam, when set, is checked first. Booking engines that cannot
	// send headers pass the token in the URL.
	QueryParam string
}

// TokenAuth rejects requests that do not present cfg.Token.
func TokenAuth(cfg TokenConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Token == "" {
			log.Warnf("[TokenAuth] No token configured for %s, rejecting request", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"ok": false, "error": "unauthorized"})
		}

		presented := extractToken(c, cfg)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.Token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"ok": false, "error": "unauthorized"})
		}
		return c.Next()
	}
}

func extractToken(c *fiber.Ctx, cfg TokenConfig) string {
	if cfg.QueryParam != "" {
		if token := strings.TrimSpace(c.Query(cfg.QueryParam)); token != "" {
			return token
		}
	}
	if cfg.Header != "" {
		if token := strings.TrimSpace(c.Get(cfg.Header)); token != "" {
			return token
		}
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
