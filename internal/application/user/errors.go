package user

import "errors"

var (
	ErrInvalidEmail     = errors.New("Invalid email format")
	ErrInvalidPassword  = errors.New("Invalid password format")
	ErrFullnameRequired = errors.New("Full name is required and must be a non-empty string")
	ErrInvalidFullname  = errors.New("Full name contains invalid characters (only letters, spaces, hyphens, and apostrophes allowed)")
	ErrInvalidRole      = errors.New("Role must be client or fulfiller")
	ErrEmailRegistered  = errors.New("Email already registered")
	ErrNoUpdateFields   = errors.New("No valid update fields provided")
	ErrUserNotFound     = errors.New("User not found")
	ErrSelfRoleChange   = errors.New("Cannot change your own role")
)
