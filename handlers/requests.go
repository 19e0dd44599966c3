package handlers

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
)

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Username  string     `json:"username" validate:"required,username"`
	Email     string     `json:"email" validate:"required,email,max=254"`
	Password  string     `json:"password" validate:"required,max=72"`
	Name      string     `json:"name" validate:"max=128"`
	ServiceID *uuid.UUID `json:"service_id"`
}

// LoginRequest is the body of POST /auth/login. Login is a username or an email.
type LoginRequest struct {
	Login     string     `json:"login" validate:"required,max=254"`
	Password  string     `json:"password" validate:"required,max=72"`
	ServiceID *uuid.UUID `json:"service_id"`
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest is the optional body of POST /auth/logout
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenRequest carries a single-use credential
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// EmailRequest carries an email address
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the body of POST /auth/reset-password
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,max=72"`
}

// ChangePasswordRequest is the body of POST /auth/change-password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,max=72"`
}

// ProfileRequest updates the caller's own profile
type ProfileRequest struct {
	Name     *string                   `json:"name" validate:"omitempty,max=128"`
	Metadata *models.UserMetadataPatch `json:"metadata"`
}

// UpdateUserRequest is an administrator's update of a principal
type UpdateUserRequest struct {
	Status     *models.UserStatus `json:"status" validate:"omitempty,oneof=pending active suspended"`
	IsVerified *bool              `json:"is_verified"`
}

// CreateServiceRequest is the body of POST /api/v1/services
type CreateServiceRequest struct {
	Name        string                     `json:"name" validate:"required,max=128"`
	Description string                     `json:"description" validate:"max=1024"`
	Config      *models.ServiceConfigPatch `json:"config"`
}

// UpdateServiceRequest is a partial update of a service
type UpdateServiceRequest struct {
	Name        *string                    `json:"name" validate:"omitempty,max=128"`
	Description *string                    `json:"description" validate:"omitempty,max=1024"`
	IsActive    *bool                      `json:"is_active"`
	Config      *models.ServiceConfigPatch `json:"config"`
}

// IntrospectRequest is the body of POST /api/v1/service/introspect
type IntrospectRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// CreateRoleRequest is the body of POST /api/v1/roles. A missing service_id creates a global role.
type CreateRoleRequest struct {
	Name        string     `json:"name" validate:"required,max=64"`
	Description string     `json:"description" validate:"max=1024"`
	ServiceID   *uuid.UUID `json:"service_id"`
	Permissions []string   `json:"permissions" validate:"dive,permission"`
}

// UpdateRoleRequest is the body of PATCH /api/v1/roles/{id}
type UpdateRoleRequest struct {
	Name        *string    `json:"name" validate:"omitempty,max=64"`
	Description *string    `json:"description" validate:"omitempty,max=1024"`
	Permissions *[]string  `json:"permissions" validate:"omitempty,dive,permission"`
	Global      *bool      `json:"global"`
	ServiceID   *uuid.UUID `json:"service_id"`
}

// CreateGrantRequest is the body of POST /api/v1/grants. A missing service_id creates the global grant.
type CreateGrantRequest struct {
	UserID    uuid.UUID          `json:"user_id" validate:"required"`
	ServiceID *uuid.UUID         `json:"service_id"`
	RoleIDs   []uuid.UUID        `json:"role_ids"`
	Status    models.GrantStatus `json:"status" validate:"omitempty,oneof=active suspended"`
	Data      json.RawMessage    `json:"data"`
}

// UpdateGrantRequest is the body of PATCH /api/v1/grants/{id}
type UpdateGrantRequest struct {
	RoleIDs *[]uuid.UUID        `json:"role_ids"`
	Status  *models.GrantStatus `json:"status" validate:"omitempty,oneof=active suspended"`
	Data    json.RawMessage     `json:"data"`
}
