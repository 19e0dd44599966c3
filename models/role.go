package models

import (
	"time"

	"github.com/google/uuid"
)

// System role names. Both exist as global roles and are protected.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Built-in permission strings used by the administrative API
const (
	PermUsersRead      = "users:read"
	PermUsersWrite     = "users:write"
	PermUsersDelete    = "users:delete"
	PermServicesRead   = "services:read"
	PermServicesWrite  = "services:write"
	PermServicesDelete = "services:delete"
	PermRolesRead      = "roles:read"
	PermRolesWrite     = "roles:write"
	PermRolesDelete    = "roles:delete"
	PermGrantsRead     = "grants:read"
	PermGrantsWrite    = "grants:write"
	PermGrantsDelete   = "grants:delete"
	PermAuditRead      = "audit:read"
)

// Role is a named bundle of permission strings, either global or scoped to one service
type Role struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	IsGlobal    bool       `json:"is_global" db:"is_global"`
	ServiceID   *uuid.UUID `json:"service_id,omitempty" db:"service_id"` // nil iff IsGlobal
	Permissions []string   `json:"permissions" db:"permissions"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Role model
func (Role) TableName() string {
	return "roles"
}

// NewGlobalRole creates a role that applies in every scope
func NewGlobalRole(name, description string, permissions []string) *Role {
	now := time.Now().UTC()
	return &Role{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		IsGlobal:    true,
		Permissions: normalizePermissions(permissions),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewServiceRole creates a role scoped to one service
func NewServiceRole(serviceID uuid.UUID, name, description string, permissions []string) *Role {
	r := NewGlobalRole(name, description, permissions)
	r.IsGlobal = false
	r.ServiceID = &serviceID
	return r
}

// IsSystem reports whether the role is one of the protected global system roles
func (r *Role) IsSystem() bool {
	return r.IsGlobal && (r.Name == RoleAdmin || r.Name == RoleUser)
}

// AppliesTo reports whether the role may be attached to a grant for serviceID.
// A nil serviceID denotes a global grant.
func (r *Role) AppliesTo(serviceID *uuid.UUID) bool {
	if r.IsGlobal {
		return true
	}
	return serviceID != nil && r.ServiceID != nil && *r.ServiceID == *serviceID
}

// SetPermissions replaces the permission set, dropping duplicates and blanks
func (r *Role) SetPermissions(permissions []string) {
	r.Permissions = normalizePermissions(permissions)
}

func normalizePermissions(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
