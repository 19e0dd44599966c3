package handlers

import (
	"net/http"

	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services/registry"
	"github.com/upb/identity-authority/utils"
)

// ServiceWithCredentials is returned when a secret is issued. The secret is shown once.
type ServiceWithCredentials struct {
	Service     *models.Service              `json:"service"`
	Credentials *registry.ServiceCredentials `json:"credentials"`
}

// CreateServiceHandler registers a tenant service and returns its credentials
func CreateServiceHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), nil); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		var req CreateServiceRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		svc, creds, err := deps.Services.Create(r.Context(), registry.CreateServiceInput{
			Name:        req.Name,
			Description: req.Description,
			Config:      req.Config,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, &svc.ID)
		writeCreated(deps, w, ServiceWithCredentials{Service: svc, Credentials: creds})
	}
}

// ListServicesHandler lists tenant services. A service-scoped caller sees only its own.
func ListServicesHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, ok := listOptions(deps, w, r)
		if !ok {
			return
		}

		if sid := middleware.GetServiceIDFromContext(r.Context()); sid != nil {
			svc, err := deps.Services.Get(r.Context(), *sid)
			if err != nil {
				HandleServiceError(w, err, requestLogger(deps, r))
				return
			}
			writeOK(deps, w, []*models.Service{svc})
			return
		}

		list, err := deps.Services.List(r.Context(), opts)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, list)
	}
}

// GetServiceHandler returns one tenant service
func GetServiceHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}
		if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), &id); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		svc, err := deps.Services.Get(r.Context(), id)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, svc)
	}
}

// UpdateServiceHandler updates a tenant service. The config patch is merged.
func UpdateServiceHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}
		if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), &id); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		var req UpdateServiceRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		svc, err := deps.Services.Update(r.Context(), id, registry.UpdateServiceInput{
			Name:        req.Name,
			Description: req.Description,
			IsActive:    req.IsActive,
			Config:      req.Config,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, &svc.ID)
		writeOK(deps, w, svc)
	}
}

// RotateServiceCredentialsHandler replaces a service's API key and secret
func RotateServiceCredentialsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}
		if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), &id); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		svc, creds, err := deps.Services.RotateCredentials(r.Context(), id)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, &svc.ID)
		writeOK(deps, w, ServiceWithCredentials{Service: svc, Credentials: creds})
	}
}

// DeleteServiceHandler deletes a service with its roles and grants
func DeleteServiceHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}
		if err := requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), nil); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		if err := deps.Services.Delete(r.Context(), id); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), nil, &id)
		utils.WriteNoContent(w)
	}
}

// IntrospectHandler resolves a user's access token within the calling service's scope
func IntrospectHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := middleware.GetAuthContextFromContext(r.Context())

		var req IntrospectRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		ac, err := deps.Resolver.Introspect(r.Context(), caller, req.AccessToken)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), ac.UserID(), nil)
		writeOK(deps, w, newMeResponse(ac))
	}
}
