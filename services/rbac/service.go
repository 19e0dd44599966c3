package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/services"
	"go.uber.org/zap"
)

// CreateRoleInput describes a new role. A nil ServiceID creates a global role.
type CreateRoleInput struct {
	Name        string
	Description string
	ServiceID   *uuid.UUID
	Permissions []string
}

// UpdateRoleInput is a partial update. Nil fields are left unchanged.
// Setting Global moves the role to global scope; setting ServiceID moves it to that service.
type UpdateRoleInput struct {
	Name        *string
	Description *string
	Permissions *[]string
	Global      *bool
	ServiceID   *uuid.UUID
}

// ReplaceRoleInput replaces every mutable field of a role
type ReplaceRoleInput struct {
	Name        string
	Description string
	ServiceID   *uuid.UUID
	Permissions []string
}

// Service manages roles and evaluates permissions
type Service struct {
	roles  repositories.RoleRepository
	logger *zap.Logger
}

// NewService creates a role service
func NewService(roles repositories.RoleRepository, logger *zap.Logger) *Service {
	return &Service{roles: roles, logger: logger}
}

// Create creates a role. Names are unique per scope.
func (s *Service) Create(ctx context.Context, in CreateRoleInput) (*models.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, services.NewInvalidInput("role name is required")
	}

	var role *models.Role
	if in.ServiceID == nil {
		role = models.NewGlobalRole(name, in.Description, in.Permissions)
	} else {
		role = models.NewServiceRole(*in.ServiceID, name, in.Description, in.Permissions)
	}

	if err := s.roles.Create(ctx, role); err != nil {
		return nil, mapRoleWriteError(err)
	}

	s.logger.Info("role created",
		zap.String("role_id", role.ID.String()),
		zap.String("name", role.Name),
		zap.Bool("global", role.IsGlobal),
	)
	return role, nil
}

// Get returns a role by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrRoleNotFound
		}
		return nil, services.WrapInternal("failed to get role", err)
	}
	return role, nil
}

// List returns roles scoped to serviceID, or global roles when globalOnly is set, or all roles
func (s *Service) List(ctx context.Context, serviceID *uuid.UUID, globalOnly bool, opts repositories.ListOptions) ([]*models.Role, error) {
	roles, err := s.roles.List(ctx, serviceID, globalOnly, opts)
	if err != nil {
		return nil, services.WrapInternal("failed to list roles", err)
	}
	return roles, nil
}

// Update applies a partial update. System roles keep their name and scope,
// and a role cannot move to a service while another scope's grant references it.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateRoleInput) (*models.Role, error) {
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	scopeChange := (in.Global != nil && *in.Global != role.IsGlobal) ||
		(in.ServiceID != nil && (role.ServiceID == nil || *role.ServiceID != *in.ServiceID))
	if role.IsSystem() {
		if scopeChange || (in.Name != nil && *in.Name != role.Name) {
			return nil, services.ErrProtectedRole
		}
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, services.NewInvalidInput("role name is required")
		}
		role.Name = name
	}
	if in.Description != nil {
		role.Description = *in.Description
	}
	if in.Permissions != nil {
		role.SetPermissions(*in.Permissions)
	}
	switch {
	case in.ServiceID != nil:
		sid := *in.ServiceID
		role.IsGlobal = false
		role.ServiceID = &sid
	case in.Global != nil && *in.Global:
		role.IsGlobal = true
		role.ServiceID = nil
	case in.Global != nil && !*in.Global && role.IsGlobal:
		return nil, services.NewInvalidInput("service_id is required for a service role")
	}

	if err := s.roles.Update(ctx, role); err != nil {
		return nil, mapRoleWriteError(err)
	}

	s.logger.Info("role updated", zap.String("role_id", role.ID.String()))
	return role, nil
}

// Replace overwrites the role. The admin role cannot be replaced and the
// user role cannot change name or scope. Scope moves follow the Update rule.
func (s *Service) Replace(ctx context.Context, id uuid.UUID, in ReplaceRoleInput) (*models.Role, error) {
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if role.IsGlobal && role.Name == models.RoleAdmin {
		return nil, services.ErrProtectedRole
	}
	if role.IsSystem() && (in.ServiceID != nil || in.Name != role.Name) {
		return nil, services.ErrProtectedRole
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, services.NewInvalidInput("role name is required")
	}

	role.Name = name
	role.Description = in.Description
	role.SetPermissions(in.Permissions)
	if in.ServiceID == nil {
		role.IsGlobal = true
		role.ServiceID = nil
	} else {
		sid := *in.ServiceID
		role.IsGlobal = false
		role.ServiceID = &sid
	}

	if err := s.roles.Update(ctx, role); err != nil {
		return nil, mapRoleWriteError(err)
	}

	s.logger.Info("role replaced", zap.String("role_id", role.ID.String()))
	return role, nil
}

// Delete removes a role. System roles and roles referenced by a grant cannot be deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem() {
		return services.ErrProtectedRole
	}

	if err := s.roles.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repositories.ErrReferenced):
			return services.ErrInUse
		case errors.Is(err, repositories.ErrNotFound):
			return services.ErrRoleNotFound
		}
		return services.WrapInternal("failed to delete role", err)
	}

	s.logger.Info("role deleted", zap.String("role_id", id.String()), zap.String("name", role.Name))
	return nil
}

// SystemRolePermissions is stored on the admin role for display. The admin
// bypass does not depend on it.
var SystemRolePermissions = []string{
	models.PermUsersRead, models.PermUsersWrite, models.PermUsersDelete,
	models.PermServicesRead, models.PermServicesWrite, models.PermServicesDelete,
	models.PermRolesRead, models.PermRolesWrite, models.PermRolesDelete,
	models.PermGrantsRead, models.PermGrantsWrite, models.PermGrantsDelete,
	models.PermAuditRead,
}

// EnsureSystemRoles creates the global admin and user roles when missing and returns them
func (s *Service) EnsureSystemRoles(ctx context.Context) (admin, user *models.Role, err error) {
	admin, err = s.ensureGlobal(ctx, models.RoleAdmin, "Full administrative access", SystemRolePermissions)
	if err != nil {
		return nil, nil, err
	}
	user, err = s.ensureGlobal(ctx, models.RoleUser, "Default role for registered users", nil)
	if err != nil {
		return nil, nil, err
	}
	return admin, user, nil
}

func (s *Service) ensureGlobal(ctx context.Context, name, description string, permissions []string) (*models.Role, error) {
	role, err := s.roles.GetGlobalByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.WrapInternal("failed to load system role", err)
	}

	role = models.NewGlobalRole(name, description, permissions)
	if err := s.roles.Create(ctx, role); err != nil {
		// another instance created it first
		if _, dup := repositories.IsDuplicate(err); dup {
			return s.roles.GetGlobalByName(ctx, name)
		}
		return nil, services.WrapInternal("failed to create system role", err)
	}

	s.logger.Info("system role created", zap.String("name", name))
	return role, nil
}

// GlobalRole returns the global role with name
func (s *Service) GlobalRole(ctx context.Context, name string) (*models.Role, error) {
	role, err := s.roles.GetGlobalByName(ctx, name)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrRoleNotFound
		}
		return nil, services.WrapInternal("failed to get role", err)
	}
	return role, nil
}

// ValidateAssignment checks that every role exists and applies to the grant's scope
func (s *Service) ValidateAssignment(ctx context.Context, roleIDs []uuid.UUID, serviceID *uuid.UUID) error {
	if len(roleIDs) == 0 {
		return nil
	}
	roles, err := s.roles.GetByIDs(ctx, roleIDs)
	if err != nil {
		return services.WrapInternal("failed to load roles", err)
	}

	found := make(map[uuid.UUID]*models.Role, len(roles))
	for _, r := range roles {
		found[r.ID] = r
	}
	for _, id := range roleIDs {
		r, ok := found[id]
		if !ok || !r.AppliesTo(serviceID) {
			return services.ErrInvalidRole.WithDetail("role_id", id.String())
		}
	}
	return nil
}

// Resolve loads the in-scope roles of grants and evaluates their permissions.
// A nil serviceID is global scope.
func (s *Service) Resolve(ctx context.Context, grants []*models.Grant, serviceID *uuid.UUID, includeScoped bool) ([]*models.Role, PermissionSet, error) {
	ids := CandidateRoleIDs(grants, serviceID, includeScoped)
	if len(ids) == 0 {
		return nil, EffectivePermissions(nil), nil
	}

	roles, err := s.roles.GetByIDs(ctx, ids)
	if err != nil {
		return nil, PermissionSet{}, services.WrapInternal("failed to load roles", err)
	}
	roles = FilterRoles(roles, serviceID)
	return roles, EffectivePermissions(roles), nil
}

func mapRoleWriteError(err error) error {
	if _, ok := repositories.IsDuplicate(err); ok {
		return services.NewConflict("name")
	}
	if errors.Is(err, repositories.ErrScopeMismatch) {
		return services.ErrInUse.WithDetail("reason", "granted outside the requested scope")
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrServiceNotFound
	}
	return services.WrapInternal("failed to save role", err)
}
