package handlers

import (
	"net/http"

	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services/registry"
	"github.com/upb/identity-authority/utils"
)

// CreateGrantHandler links a user to a service, or creates the global grant
func CreateGrantHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateGrantRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}
		if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), req.ServiceID); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		grant, err := deps.Grants.Create(r.Context(), registry.CreateGrantInput{
			UserID:    req.UserID,
			ServiceID: req.ServiceID,
			RoleIDs:   req.RoleIDs,
			Status:    req.Status,
			Data:      req.Data,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, grant.ServiceID)
		writeCreated(deps, w, grant)
	}
}

// ListGrantsHandler lists the grants of ?user_id= or of ?service_id=
func ListGrantsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, ok := listOptions(deps, w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		userID, err := utils.ParseOptionalUUID(q.Get("user_id"), "user_id")
		if err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}
		serviceID, err := utils.ParseOptionalUUID(q.Get("service_id"), "service_id")
		if err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		ac := middleware.GetAuthContextFromContext(r.Context())
		if sid := ac.ServiceID(); sid != nil && serviceID == nil {
			serviceID = sid
		}
		if serviceID != nil {
			if err := requireServiceInScope(ac, serviceID); err != nil {
				HandleServiceError(w, err, requestLogger(deps, r))
				return
			}
		}

		var grants []*models.Grant
		switch {
		case userID != nil && serviceID != nil:
			var g *models.Grant
			if g, err = deps.Grants.GetForUser(r.Context(), *userID, serviceID); err == nil {
				grants = []*models.Grant{g}
			}
		case userID != nil:
			grants, err = deps.Grants.ListByUser(r.Context(), *userID)
		case serviceID != nil:
			grants, err = deps.Grants.ListByService(r.Context(), *serviceID, opts)
		default:
			HandleValidationError(w, errGrantFilterRequired, deps.Logger)
			return
		}
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, grants)
	}
}

// GetGrantHandler returns one grant
func GetGrantHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grant, ok := loadGrant(deps, w, r)
		if !ok {
			return
		}
		writeOK(deps, w, grant)
	}
}

// UpdateGrantHandler replaces a grant's roles, status or data
func UpdateGrantHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, ok := loadGrant(deps, w, r)
		if !ok {
			return
		}
		var req UpdateGrantRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		grant, err := deps.Grants.Update(r.Context(), current.ID, registry.UpdateGrantInput{
			RoleIDs: req.RoleIDs,
			Status:  req.Status,
			Data:    req.Data,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, grant.ServiceID)
		writeOK(deps, w, grant)
	}
}

// DeleteGrantHandler removes a grant
func DeleteGrantHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grant, ok := loadGrant(deps, w, r)
		if !ok {
			return
		}

		if err := deps.Grants.Delete(r.Context(), grant.ID); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, grant.ServiceID)
		utils.WriteNoContent(w)
	}
}

// loadGrant fetches the {id} grant and checks it is within the caller's scope
func loadGrant(deps *app.Dependencies, w http.ResponseWriter, r *http.Request) (*models.Grant, bool) {
	id, ok := pathID(deps, w, r)
	if !ok {
		return nil, false
	}
	grant, err := deps.Grants.Get(r.Context(), id)
	if err == nil {
		err = requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), grant.ServiceID)
	}
	if err != nil {
		HandleServiceError(w, err, requestLogger(deps, r))
		return nil, false
	}
	return grant, true
}
