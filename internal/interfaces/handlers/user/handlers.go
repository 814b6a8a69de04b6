package user

import (
	"errors"

	usersvc "commissions-backend/internal/application/user"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/middleware"
	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handlers holds the user service.
type Handlers struct {
	Service *usersvc.Service
}

// Register POST /api/v1/users/register: self-registration as client or fulfiller. The caller
// logs in afterwards.
func (h *Handlers) Register(c *fiber.Ctx) error {
	var req usersvc.RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	if req.Email == "" || req.Password == "" || req.Fullname == "" || req.Role == "" {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	u, err := h.Service.Register(c.UserContext(), req)
	if err != nil {
		return userError(c, err)
	}
	return response.SuccessCreated(c, "User created successfully", fiber.Map{"user": safeUser(u)}, nil)
}

// ViewUser GET /api/v1/users/me: returns the session user's profile.
func (h *Handlers) ViewUser(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	u, err := h.Service.ViewUser(c.UserContext(), actor.UserID)
	if err != nil {
		return userError(c, err)
	}
	return response.Success(c, "User found", fiber.Map{"user": safeUser(u)}, nil)
}

// UpdateUser PUT /api/v1/users/me: updates the session user's email, password or fullname.
func (h *Handlers) UpdateUser(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body map[string]interface{}
	if err := c.BodyParser(&body); err != nil || len(body) == 0 {
		return response.Error(c, "Missing update fields", fiber.StatusBadRequest, nil)
	}
	u, err := h.Service.UpdateUser(c.UserContext(), actor.UserID, body)
	if err != nil {
		return userError(c, err)
	}
	return response.Success(c, "User updated successfully", fiber.Map{"user": safeUser(u)}, nil)
}

// UpdateRoleRequest body: user_id, role.
type UpdateRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// UpdateRole PATCH /api/v1/users/update-role: requires AssignRole (middleware applied on route).
func (h *Handlers) UpdateRole(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req UpdateRoleRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" || req.Role == "" {
		return response.Error(c, "user_id and role are required", fiber.StatusBadRequest, nil)
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		return response.Error(c, "Invalid user ID format (must be a valid UUID)", fiber.StatusBadRequest, nil)
	}
	u, err := h.Service.UpdateRole(c.UserContext(), actor, target, req.Role)
	if err != nil {
		return userError(c, err)
	}
	return response.Success(c, "User role updated successfully", fiber.Map{"user": safeUser(u)}, nil)
}

func safeUser(u *domain.User) fiber.Map {
	return fiber.Map{
		"user_id":   u.UserID.String(),
		"fullname":  u.Fullname,
		"email":     u.Email,
		"role":      u.Role,
		"createdAt": u.CreatedAt,
		"updatedAt": u.UpdatedAt,
	}
}

var userErrorStatus = []struct {
	err  error
	code int
}{
	{usersvc.ErrInvalidEmail, fiber.StatusBadRequest},
	{usersvc.ErrInvalidPassword, fiber.StatusBadRequest},
	{usersvc.ErrFullnameRequired, fiber.StatusBadRequest},
	{usersvc.ErrInvalidFullname, fiber.StatusBadRequest},
	{usersvc.ErrInvalidRole, fiber.StatusBadRequest},
	{usersvc.ErrNoUpdateFields, fiber.StatusBadRequest},
	{usersvc.ErrSelfRoleChange, fiber.StatusBadRequest},
	{usersvc.ErrEmailRegistered, fiber.StatusConflict},
	{usersvc.ErrUserNotFound, fiber.StatusNotFound},
}

func userError(c *fiber.Ctx, err error) error {
	for _, m := range userErrorStatus {
		if errors.Is(err, m.err) {
			return response.Error(c, err.Error(), m.code, nil)
		}
	}
	if response.StatusFor(err) == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("user request failed")
	}
	return response.FromError(c, err)
}
