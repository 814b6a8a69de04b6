package middleware

import (
	"strings"

	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig names the origins the browser clients are served from.
type CORSConfig struct {
	AllowedSuffix string // e.g. ".commissions.app"
	DevPassword   string // header value that admits any origin outside production
}

const (
	corsAllowHeaders  = "Content-Type, dev-password, X-Trace-Id"
	corsAllowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsExposeHeaders = "X-Trace-Id"
	corsMaxAge        = "600"
)

// CORS answers preflights and tags credentialed responses for allowed origins. Requests without an
// Origin header are not browser cross-site calls and pass through untouched.
func CORS(cfg CORSConfig) fiber.Handler {
	suffix := strings.ToLower(cfg.AllowedSuffix)
	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" {
			return c.Next()
		}
		if !originAllowed(c, cfg, suffix, origin) {
			return response.Error(c, "Origin not allowed", fiber.StatusForbidden, nil)
		}

		h := &c.Response().Header
		h.Set(fiber.HeaderAccessControlAllowOrigin, origin)
		h.Set(fiber.HeaderAccessControlAllowCredentials, "true")
		h.Set(fiber.HeaderAccessControlExposeHeaders, corsExposeHeaders)
		h.Add(fiber.HeaderVary, fiber.HeaderOrigin)
		if c.Method() != fiber.MethodOptions {
			return c.Next()
		}
		h.Set(fiber.HeaderAccessControlAllowHeaders, corsAllowHeaders)
		h.Set(fiber.HeaderAccessControlAllowMethods, corsAllowMethods)
		h.Set(fiber.HeaderAccessControlMaxAge, corsMaxAge)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func originAllowed(c *fiber.Ctx, cfg CORSConfig, suffix, origin string) bool {
	if suffix != "" && strings.HasSuffix(strings.ToLower(origin), suffix) {
		return true
	}
	if cfg.DevPassword != "" && c.Get("dev-password") == cfg.DevPassword {
		return true
	}
	// local frontends may preflight; the real request still needs the suffix or dev password
	local := strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
	return local && c.Method() == fiber.MethodOptions
}
