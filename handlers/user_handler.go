package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/services/registry"
	"github.com/upb/identity-authority/utils"
)

var errCannotDeleteSelf = errors.New("cannot delete the authenticated user")

// ListUsersHandler lists principals
func ListUsersHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, ok := listOptions(deps, w, r)
		if !ok {
			return
		}

		users, err := deps.Users.List(r.Context(), opts)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, users)
	}
}

// GetUserHandler returns one principal
func GetUserHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}

		user, err := deps.Users.Get(r.Context(), id)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, user)
	}
}

// UpdateUserHandler changes a principal's status or verification flag
func UpdateUserHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}
		var req UpdateUserRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		user, err := deps.Users.AdminUpdate(r.Context(), id, registry.AdminUserInput{
			Status:     req.Status,
			IsVerified: req.IsVerified,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, user)
	}
}

// UpdateUserProfileHandler edits another principal's profile
func UpdateUserProfileHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}
		var req ProfileRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		user, err := deps.Users.UpdateProfile(r.Context(), id, registry.ProfileInput{
			Name:     req.Name,
			Metadata: req.Metadata,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, user)
	}
}

// DeleteUserHandler deletes a principal with its grants and credentials.
// Callers cannot delete themselves.
func DeleteUserHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}
		if caller := middleware.GetUserIDFromContext(r.Context()); caller != nil && *caller == id {
			HandleValidationError(w, errCannotDeleteSelf, deps.Logger)
			return
		}

		if err := deps.Users.Delete(r.Context(), id); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		utils.WriteNoContent(w)
	}
}
