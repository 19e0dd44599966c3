package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/upb/identity-authority/internal/observability"
	"go.uber.org/zap"
)

func TestMetrics_UsesRoutePattern(t *testing.T) {
	metrics := observability.NewMetrics()
	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/api/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/users/"+string(rune('a'+i)), nil))
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/users/{id}", "404")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.HTTPInFlight))
}

func TestMetrics_NilIsPassthrough(t *testing.T) {
	h := okHandler(t, nil)
	assert.NotNil(t, Metrics(nil)(h))
}

func TestRequestLogger(t *testing.T) {
	handler := RequestLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
