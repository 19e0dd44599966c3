package authz

import (
	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services/rbac"
)

// Scope tells whether an authorization context is bound to a service
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeService Scope = "service"
)

// Method is how the caller authenticated
type Method string

const (
	MethodBearer  Method = "bearer"
	MethodService Method = "service"
)

// AuthContext is the outcome of a successful authentication. User is nil on
// the service-credential path; Service is nil in global scope.
type AuthContext struct {
	Method      Method
	User        *models.User
	Service     *models.Service
	Grant       *models.Grant
	Roles       []*models.Role
	Permissions rbac.PermissionSet
	TokenID     string
}

// Scope returns the scope of the context
func (ac *AuthContext) Scope() Scope {
	if ac.Service != nil {
		return ScopeService
	}
	return ScopeGlobal
}

// UserID returns the principal id, or nil for a service caller
func (ac *AuthContext) UserID() *uuid.UUID {
	if ac == nil || ac.User == nil {
		return nil
	}
	id := ac.User.ID
	return &id
}

// ServiceID returns the tenant id, or nil in global scope
func (ac *AuthContext) ServiceID() *uuid.UUID {
	if ac == nil || ac.Service == nil {
		return nil
	}
	id := ac.Service.ID
	return &id
}

// RoleNames lists the names of the in-scope roles
func (ac *AuthContext) RoleNames() []string {
	names := make([]string, 0, len(ac.Roles))
	for _, r := range ac.Roles {
		names = append(names, r.Name)
	}
	return names
}

// HasRole reports whether an in-scope role is named name
func (ac *AuthContext) HasRole(name string) bool {
	for _, r := range ac.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}
