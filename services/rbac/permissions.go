// Package rbac implements the role/permission graph: role lifecycle with its
// naming and scope invariants, and effective permission evaluation.
package rbac

import (
	"sort"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
)

// PermissionSet is the union of permissions over a candidate role set.
// Membership checks are O(1).
type PermissionSet struct {
	perms map[string]struct{}
	admin bool
}

// EffectivePermissions unions the permissions of roles. Holding the global
// admin role grants every permission.
func EffectivePermissions(roles []*models.Role) PermissionSet {
	set := PermissionSet{perms: make(map[string]struct{})}
	for _, r := range roles {
		if r == nil {
			continue
		}
		if r.IsGlobal && r.Name == models.RoleAdmin {
			set.admin = true
		}
		for _, p := range r.Permissions {
			set.perms[p] = struct{}{}
		}
	}
	return set
}

// Has reports whether perm is granted
func (s PermissionSet) Has(perm string) bool {
	if s.admin {
		return true
	}
	_, ok := s.perms[perm]
	return ok
}

// IsAdmin reports whether the set came from the global admin role
func (s PermissionSet) IsAdmin() bool {
	return s.admin
}

// List returns the explicit permissions in sorted order
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CandidateRoleIDs returns the role ids that are in scope.
//
// With a non-nil serviceID only the grant for that service contributes.
// Otherwise the global grant contributes, plus every other active grant when
// includeScoped is set; in global scope only global roles are kept later by
// FilterRoles.
func CandidateRoleIDs(grants []*models.Grant, serviceID *uuid.UUID, includeScoped bool) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, g := range grants {
		if !g.IsActive() {
			continue
		}
		switch {
		case serviceID != nil:
			if g.ServiceID == nil || *g.ServiceID != *serviceID {
				continue
			}
		case !g.IsGlobal() && !includeScoped:
			continue
		}
		for _, id := range g.RoleIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// FilterRoles keeps the roles that may contribute in the given scope. A nil
// serviceID is global scope, where only global roles count.
func FilterRoles(roles []*models.Role, serviceID *uuid.UUID) []*models.Role {
	out := make([]*models.Role, 0, len(roles))
	for _, r := range roles {
		if serviceID == nil {
			if r.IsGlobal {
				out = append(out, r)
			}
			continue
		}
		if r.AppliesTo(serviceID) {
			out = append(out, r)
		}
	}
	return out
}
