package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"commissions-backend/internal/application/emails"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/pkg/constants"
	"commissions-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const bcryptCost = 10

// Service holds DB and Redis for user operations. Mailer is optional.
type Service struct {
	DB     *gorm.DB
	Rdb    *redis.Client
	Mailer emails.Sender
}

// RegisterInput is the self-registration body. Role is client or fulfiller.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Fullname string `json:"fullname"`
	Role     string `json:"role"`
}

// Register creates a client or fulfiller user and sends the welcome email in the background.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if !validation.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !validation.IsValidPassword(in.Password) {
		return nil, ErrInvalidPassword
	}
	fullname, err := normalizeFullname(in.Fullname)
	if err != nil {
		return nil, err
	}
	role := strings.TrimSpace(strings.ToLower(in.Role))
	if !constants.IsSelfServiceRole(role) {
		return nil, ErrInvalidRole
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&domain.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailRegistered
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		Fullname:     fullname,
		Role:         role,
	}
	if err := s.DB.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}

	if s.Mailer != nil {
		go func(to, name string) {
			if err := s.Mailer.SendWelcome(context.Background(), to, name); err != nil {
				log.Warn().Err(err).Str("email", to).Msg("welcome email failed")
			}
		}(u.Email, u.Fullname)
	}
	return u, nil
}

// ViewUser returns a user by ID.
func (s *Service) ViewUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var u domain.User
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UpdateUser updates email, password and fullname. Other keys are ignored; role changes go
// through UpdateRole.
func (s *Service) UpdateUser(ctx context.Context, userID uuid.UUID, fields map[string]interface{}) (*domain.User, error) {
	upd := make(map[string]interface{})
	if v, ok := fields["email"].(string); ok {
		email := strings.TrimSpace(strings.ToLower(v))
		if !validation.IsValidEmail(email) {
			return nil, ErrInvalidEmail
		}
		var count int64
		if err := s.DB.WithContext(ctx).Model(&domain.User{}).
			Where("email = ? AND user_id <> ?", email, userID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrEmailRegistered
		}
		upd["email"] = email
	}
	if v, ok := fields["password"].(string); ok {
		if !validation.IsValidPassword(v) {
			return nil, ErrInvalidPassword
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(v), bcryptCost)
		if err != nil {
			return nil, err
		}
		upd["password_hash"] = string(hash)
	}
	if v, ok := fields["fullname"].(string); ok {
		fullname, err := normalizeFullname(v)
		if err != nil {
			return nil, err
		}
		upd["fullname"] = fullname
	}
	if len(upd) == 0 {
		return nil, ErrNoUpdateFields
	}

	res := s.DB.WithContext(ctx).Model(&domain.User{}).Where("user_id = ?", userID).Updates(upd)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return s.ViewUser(ctx, userID)
}

// UpdateRole lets an admin provision supervisors and admins or move a user between roles. The
// target's sessions are destroyed so the new role applies on next login.
func (s *Service) UpdateRole(ctx context.Context, actor domain.Actor, targetID uuid.UUID, role string) (*domain.User, error) {
	if !constants.AllowedRole(constants.AssignRole, actor.Role) {
		return nil, fmt.Errorf("assign role: %w", domain.ErrUnauthorized)
	}
	if actor.UserID == targetID {
		return nil, ErrSelfRoleChange
	}
	if !constants.IsValidRole(role) {
		return nil, fmt.Errorf("role %q: %w", role, domain.ErrInvalidInput)
	}
	u, err := s.ViewUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(u).Update("role", role).Error; err != nil {
		return nil, err
	}
	u.Role = role
	s.DestroySessions(ctx, targetID)
	log.Info().Str("actor_id", actor.UserID.String()).Str("user_id", targetID.String()).Str("role", role).Msg("user role changed")
	return u, nil
}

func normalizeFullname(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrFullnameRequired
	}
	if !validation.IsValidFullname(trimmed) {
		return "", ErrInvalidFullname
	}
	return titleCaseAndNormalize(trimmed), nil
}

func titleCaseAndNormalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	capitalize := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !capitalize {
				b.WriteRune(' ')
				capitalize = true
			}
			continue
		}
		if capitalize {
			b.WriteRune(unicode.ToUpper(r))
			capitalize = false
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
