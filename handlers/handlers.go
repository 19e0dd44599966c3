// Package handlers holds the thin HTTP layer: decode, validate, call a
// domain service, write the result.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/authz"
	"github.com/upb/identity-authority/services/credential"
	"github.com/upb/identity-authority/utils"
	"go.uber.org/zap"
)

// decodeAndValidate reads the JSON body into dst and validates it. On failure
// the response has been written and false is returned.
func decodeAndValidate(deps *app.Dependencies, w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := utils.DecodeJSON(w, r, dst); err != nil {
		HandleValidationError(w, err, deps.Logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, deps.Logger)
		return false
	}
	return true
}

// pathID parses the {id} URL parameter. On failure the response has been written.
func pathID(deps *app.Dependencies, w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, deps.Logger)
		return uuid.Nil, false
	}
	return id, true
}

// listOptions parses pagination. On failure the response has been written.
func listOptions(deps *app.Dependencies, w http.ResponseWriter, r *http.Request) (repositories.ListOptions, bool) {
	opts, err := utils.ParseListOptions(r)
	if err != nil {
		HandleValidationError(w, err, deps.Logger)
		return opts, false
	}
	return opts, true
}

// originFrom extracts the audit origin of a request
func originFrom(r *http.Request) credential.Origin {
	return credential.Origin{
		IPAddress: utils.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// requestLogger returns the logger with the request id attached
func requestLogger(deps *app.Dependencies, r *http.Request) *zap.Logger {
	return deps.Logger.With(zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
}

// requireServiceInScope rejects a service-scoped caller acting on another
// service or on global objects.
func requireServiceInScope(ac *authz.AuthContext, serviceID *uuid.UUID) error {
	if ac == nil || ac.Scope() != authz.ScopeService {
		return nil
	}
	if serviceID == nil || *serviceID != ac.Service.ID {
		return services.ErrForbidden.WithDetail("service_id", ac.Service.ID.String())
	}
	return nil
}

func writeOK(deps *app.Dependencies, w http.ResponseWriter, data interface{}) {
	if err := utils.WriteOK(w, data); err != nil {
		deps.Logger.Error("failed to write response", zap.Error(err))
	}
}

func writeCreated(deps *app.Dependencies, w http.ResponseWriter, data interface{}) {
	if err := utils.WriteCreated(w, data); err != nil {
		deps.Logger.Error("failed to write response", zap.Error(err))
	}
}

func writeMessage(deps *app.Dependencies, w http.ResponseWriter, message string) {
	if err := utils.WriteMessage(w, message); err != nil {
		deps.Logger.Error("failed to write response", zap.Error(err))
	}
}
