package middleware

import (
	"strings"

	"commissions-backend/internal/pkg/constants"
	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// AuthorizePermission lets the request through when the session role holds any of permissions.
// A permission missing from constants.PermissionRoles is a wiring bug and answers 500.
func AuthorizePermission(permissions ...string) fiber.Handler {
	for _, p := range permissions {
		if len(constants.PermissionRoles[p]) == 0 {
			return func(c *fiber.Ctx) error {
				return response.Error(c, "Permission configuration error", fiber.StatusInternalServerError, nil)
			}
		}
	}
	return func(c *fiber.Ctx) error {
		actor, ok := Actor(c)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		for _, p := range permissions {
			if constants.AllowedRole(p, actor.Role) {
				return c.Next()
			}
		}
		zerolog.Ctx(c.UserContext()).Debug().
			Str("user_id", actor.UserID.String()).
			Str("role", actor.Role).
			Str("permissions", strings.Join(permissions, ",")).
			Msg("permission denied")
		return response.Error(c, "Your role may not perform this action", fiber.StatusForbidden, nil)
	}
}
