package auth

import (
	"errors"

	authsvc "commissions-backend/internal/application/auth"
	usersvc "commissions-backend/internal/application/user"
	"commissions-backend/internal/middleware"
	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Handlers holds dependencies for auth endpoints.
type Handlers struct {
	UserFinder authsvc.UserFinder
	Users      *usersvc.Service
	Config     middleware.SessionConfig
}

// LoginRequest body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login POST /api/v1/auth/login: authenticate, rotate the session, track it, set cookie.
func (h *Handlers) Login(c *fiber.Ctx) error {
	if h.UserFinder == nil {
		return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
	}
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil || req.Email == "" || req.Password == "" {
		return response.Error(c, authsvc.ErrEmailPasswordRequired.Error(), fiber.StatusBadRequest, nil)
	}

	user, err := h.UserFinder.FindByEmailAndPassword(c.UserContext(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authsvc.ErrEmailPasswordRequired):
			return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
		case errors.Is(err, authsvc.ErrInvalidEmail), errors.Is(err, authsvc.ErrIncorrectPassword):
			return response.Error(c, err.Error(), fiber.StatusUnauthorized, nil)
		default:
			log.Error().Err(err).Msg("auth: login lookup failed")
			return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
		}
	}

	sessionID := middleware.RegenerateSessionID(c)
	middleware.SetSessionUser(c, middleware.SessionUser{
		UserID:   user.UserID.String(),
		Fullname: user.Fullname,
		Email:    user.Email,
		Role:     user.Role,
	})
	if h.Users != nil {
		if err := h.Users.TrackSession(c.UserContext(), user.UserID, sessionID); err != nil {
			log.Error().Err(err).Msg("auth: tracking session failed")
			return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
		}
	}

	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.Value = middleware.SessionCookieValue(h.Config.Secret, sessionID)
	c.Cookie(&cookie)

	return response.Success(c, "Login successful", fiber.Map{
		"user": authsvc.SessionUserShape{
			UserID:   user.UserID.String(),
			Fullname: user.Fullname,
			Email:    user.Email,
			Role:     user.Role,
		},
	}, nil)
}

// Me GET /api/v1/auth/me: return current session user in standard success format.
func (h *Handlers) Me(c *fiber.Ctx) error {
	user, err := authsvc.VerifyUser(middleware.GetUser(c))
	if err != nil {
		log.Debug().Str("path", "/auth/me").Bool("session_id_present", middleware.GetSessionID(c) != "").
			Msg("auth/me: returning 401 Not authenticated")
		return response.Error(c, "Not authenticated", fiber.StatusUnauthorized, nil)
	}
	return response.Success(c, "Authenticated", fiber.Map{"user": user}, nil)
}

// Logout DELETE /api/v1/auth/logout: forget the session in Redis and clear the cookie.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	sessionID := middleware.GetSessionID(c)
	if h.Users != nil && h.Users.Rdb != nil && sessionID != "" {
		ctx := c.UserContext()
		if actor, ok := middleware.Actor(c); ok {
			_ = h.Users.Rdb.SRem(ctx, usersvc.UserSessionsPrefix+actor.UserID.String(), sessionID).Err()
		}
		_ = h.Users.Rdb.Del(ctx, middleware.SessionRedisPrefix+sessionID).Err()
	}
	middleware.DestroySession(c)

	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.MaxAge = -1
	c.Cookie(&cookie)

	return response.Success(c, "Logged out successfully", nil, nil)
}

// LogoutAll DELETE /api/v1/auth/logout-all: destroy every session of the current user.
func (h *Handlers) LogoutAll(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	if h.Users != nil {
		h.Users.DestroySessions(c.UserContext(), actor.UserID)
	}
	middleware.DestroySession(c)
	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.MaxAge = -1
	c.Cookie(&cookie)
	return response.Success(c, "All sessions ended", fiber.Map{"user_id": actor.UserID}, nil)
}
