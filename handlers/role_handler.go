package handlers

import (
	"net/http"
	"strconv"

	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services/rbac"
	"github.com/upb/identity-authority/utils"
)

// CreateRoleHandler creates a global or service-scoped role
func CreateRoleHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRoleRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}
		if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), req.ServiceID); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		role, err := deps.Roles.Create(r.Context(), rbac.CreateRoleInput{
			Name:        req.Name,
			Description: req.Description,
			ServiceID:   req.ServiceID,
			Permissions: req.Permissions,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, role.ServiceID)
		writeCreated(deps, w, role)
	}
}

// ListRolesHandler lists roles. ?service_id= narrows to one service and
// ?global=true to global roles.
func ListRolesHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, ok := listOptions(deps, w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		serviceID, err := utils.ParseOptionalUUID(q.Get("service_id"), "service_id")
		if err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}
		globalOnly := false
		if v := q.Get("global"); v != "" {
			if globalOnly, err = strconv.ParseBool(v); err != nil {
				HandleValidationError(w, err, deps.Logger)
				return
			}
		}

		if sid := middleware.GetServiceIDFromContext(r.Context()); sid != nil {
			serviceID, globalOnly = sid, false
		}

		roles, err := deps.Roles.List(r.Context(), serviceID, globalOnly, opts)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, roles)
	}
}

// GetRoleHandler returns one role
func GetRoleHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := loadRole(deps, w, r)
		if !ok {
			return
		}
		writeOK(deps, w, role)
	}
}

// UpdateRoleHandler applies a partial update to a role
func UpdateRoleHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, ok := loadRole(deps, w, r)
		if !ok {
			return
		}
		var req UpdateRoleRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}
		if req.ServiceID != nil || req.Global != nil {
			if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), req.ServiceID); err != nil {
				HandleServiceError(w, err, requestLogger(deps, r))
				return
			}
		}

		role, err := deps.Roles.Update(r.Context(), current.ID, rbac.UpdateRoleInput{
			Name:        req.Name,
			Description: req.Description,
			Permissions: req.Permissions,
			Global:      req.Global,
			ServiceID:   req.ServiceID,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, role.ServiceID)
		writeOK(deps, w, role)
	}
}

// ReplaceRoleHandler replaces every mutable field of a role
func ReplaceRoleHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, ok := loadRole(deps, w, r)
		if !ok {
			return
		}
		var req CreateRoleRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}
		if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), req.ServiceID); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		role, err := deps.Roles.Replace(r.Context(), current.ID, rbac.ReplaceRoleInput{
			Name:        req.Name,
			Description: req.Description,
			ServiceID:   req.ServiceID,
			Permissions: req.Permissions,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, role.ServiceID)
		writeOK(deps, w, role)
	}
}

// DeleteRoleHandler deletes a role that no grant references
func DeleteRoleHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := loadRole(deps, w, r)
		if !ok {
			return
		}

		if err := deps.Roles.Delete(r.Context(), role.ID); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, role.ServiceID)
		utils.WriteNoContent(w)
	}
}

// loadRole fetches the {id} role and checks it is within the caller's scope
func loadRole(deps *app.Dependencies, w http.ResponseWriter, r *http.Request) (*models.Role, bool) {
	id, ok := pathID(deps, w, r)
	if !ok {
		return nil, false
	}
	role, err := deps.Roles.Get(r.Context(), id)
	if err == nil {
		err = requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), role.ServiceID)
	}
	if err != nil {
		HandleServiceError(w, err, requestLogger(deps, r))
		return nil, false
	}
	return role, true
}
