package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/utils"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles GET /healthz.
// Liveness only: always 200 while the process serves requests.
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessCheck handles GET /readyz
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"store": "healthy"}
		status, code := "healthy", http.StatusOK
		if err := deps.Ready(ctx); err != nil {
			deps.Logger.Warn("store health check failed", zap.Error(err))
			checks["store"] = "unhealthy"
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		_ = utils.WriteJSON(w, code, utils.SuccessResponse{Data: HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checks,
		}})
	}
}

// MetricsHandler exposes the Prometheus registry, or 404 when metrics are disabled
func MetricsHandler(deps *app.Dependencies) http.Handler {
	if deps.Metrics == nil || !deps.Config.Observability.MetricsEnabled {
		return http.NotFoundHandler()
	}
	return deps.Metrics.Handler()
}
