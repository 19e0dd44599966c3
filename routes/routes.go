package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/handlers"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(deps.Config.Server.RequestTimeout))
	r.Use(middleware.Metrics(deps.Metrics))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			middleware.APIKeyHeader, middleware.APISecretHeader,
		},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := deps.AuthMiddleware
	audit := deps.AuditMiddleware.Audit
	auditRead := deps.AuditMiddleware.AuditRead

	// Probes
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))
	r.Method(http.MethodGet, "/metrics", handlers.MetricsHandler(deps))

	// Credential endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.Limit)

		r.With(audit(models.AuditActionUserRegistered)).Post("/register", handlers.RegisterHandler(deps))
		r.With(audit(models.AuditActionUserLogin)).Post("/login", handlers.LoginHandler(deps))
		r.With(audit(models.AuditActionTokenRefreshed)).Post("/refresh", handlers.RefreshHandler(deps))
		r.With(audit(models.AuditActionEmailVerified)).Post("/verify-email", handlers.VerifyEmailHandler(deps))
		r.Post("/resend-verification", handlers.ResendVerificationHandler(deps))
		r.Post("/forgot-password", handlers.ForgotPasswordHandler(deps))
		r.With(audit(models.AuditActionPasswordReset)).Post("/reset-password", handlers.ResetPasswordHandler(deps))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.With(audit(models.AuditActionUserLogout)).Post("/logout", handlers.LogoutHandler(deps))
			r.With(audit(models.AuditActionPasswordChanged)).Post("/change-password", handlers.ChangePasswordHandler(deps))
			r.Get("/me", handlers.MeHandler(deps))
			r.With(audit(models.AuditActionProfileUpdated)).Patch("/me", handlers.UpdateMeHandler(deps))
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Service-to-service introspection
		r.Route("/service", func(r chi.Router) {
			r.Use(auth.RequireServiceAuth)
			r.With(audit(models.AuditActionServiceIntrospect)).Post("/introspect", handlers.IntrospectHandler(deps))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Route("/users", func(r chi.Router) {
				r.With(auth.RequirePermission(models.PermUsersRead), auditRead(models.AuditActionUsersListed)).
					Get("/", handlers.ListUsersHandler(deps))
				r.With(auth.RequirePermission(models.PermUsersRead), auditRead(models.AuditActionUserViewed)).
					Get("/{id}", handlers.GetUserHandler(deps))
				r.With(auth.RequirePermission(models.PermUsersWrite), audit(models.AuditActionUserUpdated)).
					Patch("/{id}", handlers.UpdateUserHandler(deps))
				r.With(auth.RequirePermission(models.PermUsersWrite), audit(models.AuditActionProfileUpdated)).
					Patch("/{id}/profile", handlers.UpdateUserProfileHandler(deps))
				r.With(auth.RequirePermission(models.PermUsersDelete), audit(models.AuditActionUserDeleted)).
					Delete("/{id}", handlers.DeleteUserHandler(deps))
			})

			r.Route("/services", func(r chi.Router) {
				r.With(auth.RequirePermission(models.PermServicesRead), auditRead(models.AuditActionServicesListed)).
					Get("/", handlers.ListServicesHandler(deps))
				r.With(auth.RequirePermission(models.PermServicesWrite), audit(models.AuditActionServiceCreated)).
					Post("/", handlers.CreateServiceHandler(deps))
				r.With(auth.RequirePermission(models.PermServicesRead), auditRead(models.AuditActionServiceViewed)).
					Get("/{id}", handlers.GetServiceHandler(deps))
				r.With(auth.RequirePermission(models.PermServicesWrite), audit(models.AuditActionServiceUpdated)).
					Patch("/{id}", handlers.UpdateServiceHandler(deps))
				r.With(auth.RequirePermission(models.PermServicesWrite), audit(models.AuditActionServiceRotated)).
					Post("/{id}/rotate-credentials", handlers.RotateServiceCredentialsHandler(deps))
				r.With(auth.RequirePermission(models.PermServicesDelete), audit(models.AuditActionServiceDeleted)).
					Delete("/{id}", handlers.DeleteServiceHandler(deps))
			})

			r.Route("/roles", func(r chi.Router) {
				r.With(auth.RequirePermission(models.PermRolesRead), auditRead(models.AuditActionRolesListed)).
					Get("/", handlers.ListRolesHandler(deps))
				r.With(auth.RequirePermission(models.PermRolesWrite), audit(models.AuditActionRoleCreated)).
					Post("/", handlers.CreateRoleHandler(deps))
				r.With(auth.RequirePermission(models.PermRolesRead), auditRead(models.AuditActionRoleViewed)).
					Get("/{id}", handlers.GetRoleHandler(deps))
				r.With(auth.RequirePermission(models.PermRolesWrite), audit(models.AuditActionRoleUpdated)).
					Patch("/{id}", handlers.UpdateRoleHandler(deps))
				r.With(auth.RequirePermission(models.PermRolesWrite), audit(models.AuditActionRoleUpdated)).
					Put("/{id}", handlers.ReplaceRoleHandler(deps))
				r.With(auth.RequirePermission(models.PermRolesDelete), audit(models.AuditActionRoleDeleted)).
					Delete("/{id}", handlers.DeleteRoleHandler(deps))
			})

			r.Route("/grants", func(r chi.Router) {
				r.With(auth.RequirePermission(models.PermGrantsRead), auditRead(models.AuditActionGrantsListed)).
					Get("/", handlers.ListGrantsHandler(deps))
				r.With(auth.RequirePermission(models.PermGrantsWrite), audit(models.AuditActionGrantCreated)).
					Post("/", handlers.CreateGrantHandler(deps))
				r.With(auth.RequirePermission(models.PermGrantsRead), auditRead(models.AuditActionGrantViewed)).
					Get("/{id}", handlers.GetGrantHandler(deps))
				r.With(auth.RequirePermission(models.PermGrantsWrite), audit(models.AuditActionGrantUpdated)).
					Patch("/{id}", handlers.UpdateGrantHandler(deps))
				r.With(auth.RequirePermission(models.PermGrantsDelete), audit(models.AuditActionGrantDeleted)).
					Delete("/{id}", handlers.DeleteGrantHandler(deps))
			})

			r.Route("/audit", func(r chi.Router) {
				r.Use(auth.RequirePermission(models.PermAuditRead))
				r.With(auditRead(models.AuditActionAuditQueried)).Get("/logs", handlers.ListAuditLogsHandler(deps))
				r.With(auditRead(models.AuditActionAuditViewed)).Get("/logs/{id}", handlers.GetAuditLogHandler(deps))
				r.With(auditRead(models.AuditActionAuditSummarized)).Get("/summary", handlers.AuditSummaryHandler(deps))
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "", "endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
	})

	return r
}
