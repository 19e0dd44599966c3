package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/authz"
	"github.com/upb/identity-authority/utils"
	"go.uber.org/zap"
)

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, bearer string) (*authz.AuthContext, error) {
	args := m.Called(ctx, bearer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authz.AuthContext), args.Error(1)
}

func (m *MockAuthenticator) AuthenticateService(ctx context.Context, apiKey, apiSecret string) (*authz.AuthContext, error) {
	args := m.Called(ctx, apiKey, apiSecret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authz.AuthContext), args.Error(1)
}

func (m *MockAuthenticator) RequirePermission(ac *authz.AuthContext, perm string) error {
	return m.Called(ac, perm).Error(0)
}

func (m *MockAuthenticator) RequireRole(ac *authz.AuthContext, role string) error {
	return m.Called(ac, role).Error(0)
}

var _ Authenticator = (*authz.Resolver)(nil)

func userContext() *authz.AuthContext {
	return &authz.AuthContext{
		Method: authz.MethodBearer,
		User:   models.NewUser("alice", "alice@example.com", "Alice", "hash"),
	}
}

func okHandler(t *testing.T, check func(r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var resp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token in Authorization header allows request", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)
		ac := userContext()
		auth.On("Authenticate", mock.Anything, "valid-token").Return(ac, nil)

		handler := m.RequireAuth(okHandler(t, func(r *http.Request) {
			got := GetAuthContextFromContext(r.Context())
			require.NotNil(t, got)
			assert.Equal(t, ac.User.ID, *GetUserIDFromContext(r.Context()))
			assert.Nil(t, GetServiceIDFromContext(r.Context()))
		}))

		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		auth.AssertExpectations(t)
	})

	t.Run("token in cookie allows request", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)
		auth.On("Authenticate", mock.Anything, "cookie-token").Return(userContext(), nil)

		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: AuthTokenCookieName, Value: "cookie-token"})
		w := httptest.NewRecorder()
		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		auth.AssertExpectations(t)
	})

	t.Run("header takes precedence over cookie", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)
		auth.On("Authenticate", mock.Anything, "header-token").Return(userContext(), nil)

		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "bearer header-token")
		req.AddCookie(&http.Cookie{Name: AuthTokenCookieName, Value: "cookie-token"})
		w := httptest.NewRecorder()
		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		auth.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)

		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		auth.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
	})

	t.Run("expired and invalid tokens look the same", func(t *testing.T) {
		for _, err := range []error{services.ErrTokenExpired, services.ErrInvalidToken} {
			auth := new(MockAuthenticator)
			m := NewAuthMiddleware(auth, logger)
			auth.On("Authenticate", mock.Anything, "tok").Return(nil, err)

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			req.Header.Set("Authorization", "Bearer tok")
			w := httptest.NewRecorder()
			m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

			resp := decodeErrorBody(t, w)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "invalid_token", resp.Code)
			assert.Equal(t, "invalid or expired token", resp.Message)
		}
	})

	t.Run("scope failures map to 403 with their code", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)
		auth.On("Authenticate", mock.Anything, "tok").Return(nil, services.ErrGrantSuspended)

		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "grant_suspended", decodeErrorBody(t, w).Code)
	})
}

func TestRequireServiceAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid key and secret", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)
		svc := models.NewService("blog", "", "ak_1", "hash")
		auth.On("AuthenticateService", mock.Anything, "ak_1", "s3cret").
			Return(&authz.AuthContext{Method: authz.MethodService, Service: svc}, nil)

		handler := m.RequireServiceAuth(okHandler(t, func(r *http.Request) {
			assert.Equal(t, svc.ID, *GetServiceIDFromContext(r.Context()))
			assert.Nil(t, GetUserIDFromContext(r.Context()))
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/service/introspect", nil)
		req.Header.Set(APIKeyHeader, "ak_1")
		req.Header.Set(APISecretHeader, "s3cret")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		auth.AssertExpectations(t)
	})

	t.Run("missing secret", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/service/introspect", nil)
		req.Header.Set(APIKeyHeader, "ak_1")
		w := httptest.NewRecorder()
		m.RequireServiceAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		auth.AssertNotCalled(t, "AuthenticateService", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("inactive service", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)
		auth.On("AuthenticateService", mock.Anything, "ak_1", "s3cret").Return(nil, services.ErrTenantInactive)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/service/introspect", nil)
		req.Header.Set(APIKeyHeader, "ak_1")
		req.Header.Set(APISecretHeader, "s3cret")
		w := httptest.NewRecorder()
		m.RequireServiceAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "tenant_inactive", decodeErrorBody(t, w).Code)
	})
}

func TestRequirePermission(t *testing.T) {
	logger := zap.NewNop()

	t.Run("allowed", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)
		ac := userContext()
		auth.On("RequirePermission", ac, "users:read").Return(nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
		req = req.WithContext(WithAuthContext(req.Context(), ac))
		w := httptest.NewRecorder()
		m.RequirePermission("users:read")(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		auth.AssertExpectations(t)
	})

	t.Run("forbidden names the permission", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)
		ac := userContext()
		auth.On("RequirePermission", ac, "roles:delete").Return(services.NewForbidden("roles:delete"))

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/roles/x", nil)
		req = req.WithContext(WithAuthContext(req.Context(), ac))
		w := httptest.NewRecorder()
		m.RequirePermission("roles:delete")(okHandler(t, nil)).ServeHTTP(w, req)

		resp := decodeErrorBody(t, w)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "roles:delete", resp.Details["permission"])
	})

	t.Run("no auth context", func(t *testing.T) {
		auth := new(MockAuthenticator)
		m := NewAuthMiddleware(auth, logger)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
		w := httptest.NewRecorder()
		m.RequirePermission("users:read")(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	auth := new(MockAuthenticator)
	m := NewAuthMiddleware(auth, zap.NewNop())
	ac := userContext()
	auth.On("RequireRole", ac, "editor").Return(services.ErrForbidden.WithDetail("role", "editor"))
	auth.On("RequireRole", ac, "user").Return(nil)

	for role, want := range map[string]int{"editor": http.StatusForbidden, "user": http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithAuthContext(req.Context(), ac))
		w := httptest.NewRecorder()
		m.RequireRole(role)(okHandler(t, nil)).ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
	auth.AssertExpectations(t)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Token abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, extractBearerToken(req), tt.header)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetAuthContextFromContext(ctx))
	assert.Nil(t, GetUserIDFromContext(ctx))
	assert.Empty(t, GetRequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", GetRequestIDFromContext(ctx))

	svcID := uuid.New()
	SetAuditSubject(ctx, nil, &svcID) // no-op outside Audit
}
