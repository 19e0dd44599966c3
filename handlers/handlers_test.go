package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/config"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/authz"
	"github.com/upb/identity-authority/services/rbac"
	"github.com/upb/identity-authority/services/registry"
	"github.com/upb/identity-authority/utils"
	"go.uber.org/zap/zaptest"
)

func newTestDeps(t *testing.T) *app.Dependencies {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		StoreDriver: config.StoreDriverMemory,
		Auth: config.AuthConfig{
			JWTSecret:               "handlers-test-secret-handlers-test",
			JWTIssuer:               "identity-authority-test",
			AccessTokenTTL:          time.Minute,
			RefreshTokenTTL:         time.Hour,
			VerificationTokenTTL:    time.Hour,
			PasswordResetTokenTTL:   time.Hour,
			CredentialRetention:     time.Hour,
			CredentialSweepSchedule: "17 3 * * *",
			BcryptCost:              4,
		},
		Audit: config.AuditConfig{BufferSize: 8, Workers: 1, ShutdownTimeout: time.Second},
	}
	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return deps
}

// newRequest builds a request carrying ac and, when id is set, the {id} route param
func newRequest(t *testing.T, method, target string, body interface{}, ac *authz.AuthContext, id string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)

	ctx := req.Context()
	if ac != nil {
		ctx = middleware.WithAuthContext(ctx, ac)
	}
	if id != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func createService(t *testing.T, deps *app.Dependencies, name string) *models.Service {
	t.Helper()
	svc, _, err := deps.Services.Create(context.Background(), registry.CreateServiceInput{Name: name})
	require.NoError(t, err)
	return svc
}

func serviceContext(svc *models.Service, perms ...string) *authz.AuthContext {
	role := models.NewServiceRole(svc.ID, "operator", "", perms)
	return &authz.AuthContext{
		Method:      authz.MethodBearer,
		User:        models.NewUser("operator", "operator@example.com", "", "hash"),
		Service:     svc,
		Roles:       []*models.Role{role},
		Permissions: rbac.EffectivePermissions([]*models.Role{role}),
	}
}

func globalContext(user *models.User) *authz.AuthContext {
	return &authz.AuthContext{
		Method:      authz.MethodBearer,
		User:        user,
		Permissions: rbac.EffectivePermissions(nil),
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestRequireServiceInScope(t *testing.T) {
	svc := &models.Service{ID: uuid.New()}
	other := uuid.New()

	tests := []struct {
		name      string
		ac        *authz.AuthContext
		serviceID *uuid.UUID
		wantErr   bool
	}{
		{"no context", nil, &other, false},
		{"global caller on any service", &authz.AuthContext{}, &other, false},
		{"global caller on global object", &authz.AuthContext{}, nil, false},
		{"scoped caller on own service", &authz.AuthContext{Service: svc}, &svc.ID, false},
		{"scoped caller on other service", &authz.AuthContext{Service: svc}, &other, true},
		{"scoped caller on global object", &authz.AuthContext{Service: svc}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireServiceInScope(tt.ac, tt.serviceID)
			if tt.wantErr {
				assert.ErrorIs(t, err, services.ErrForbidden)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseTimeParam(t *testing.T) {
	got, err := parseTimeParam("", "from")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseTimeParam("2026-01-02T03:04:05Z", "from")
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())

	_, err = parseTimeParam("2026-01-02", "to")
	assert.EqualError(t, err, "to must be an RFC 3339 timestamp")
}

func TestRoleHandlers_ServiceScope(t *testing.T) {
	deps := newTestDeps(t)
	own := createService(t, deps, "own")
	other := createService(t, deps, "other")
	ac := serviceContext(own, models.PermRolesRead, models.PermRolesWrite)

	t.Run("create in own service", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CreateRoleHandler(deps)(rec, newRequest(t, http.MethodPost, "/api/v1/roles", map[string]interface{}{
			"name": "editor", "service_id": own.ID, "permissions": []string{"posts:write"},
		}, ac, ""))
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("create in another service", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CreateRoleHandler(deps)(rec, newRequest(t, http.MethodPost, "/api/v1/roles", map[string]interface{}{
			"name": "editor", "service_id": other.ID,
		}, ac, ""))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, own.ID.String(), decodeError(t, rec).Details["service_id"])
	})

	t.Run("create global role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CreateRoleHandler(deps)(rec, newRequest(t, http.MethodPost, "/api/v1/roles", map[string]interface{}{
			"name": "auditor",
		}, ac, ""))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("list is pinned to own service", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ListRolesHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/roles?global=true&service_id="+other.ID.String(), nil, ac, ""))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data []models.Role `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, own.ID, *body.Data[0].ServiceID)
	})

	t.Run("system role is out of scope", func(t *testing.T) {
		admin, err := deps.Roles.GlobalRole(context.Background(), models.RoleAdmin)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		GetRoleHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/roles/"+admin.ID.String(), nil, ac, admin.ID.String()))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("invalid global flag", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ListRolesHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/roles?global=maybe", nil, nil, ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		GetRoleHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/roles/x", nil, nil, "not-a-uuid"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRoleHandlers_UpdateAndReplace(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	role, err := deps.Roles.Create(ctx, rbac.CreateRoleInput{Name: "support", Permissions: []string{models.PermUsersRead}})
	require.NoError(t, err)
	id := role.ID.String()

	rec := httptest.NewRecorder()
	UpdateRoleHandler(deps)(rec, newRequest(t, http.MethodPatch, "/api/v1/roles/"+id, map[string]interface{}{
		"description": "front line",
	}, nil, id))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := deps.Roles.Get(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "front line", got.Description)
	assert.Equal(t, []string{models.PermUsersRead}, got.Permissions)

	rec = httptest.NewRecorder()
	ReplaceRoleHandler(deps)(rec, newRequest(t, http.MethodPut, "/api/v1/roles/"+id, map[string]interface{}{
		"name": "support", "permissions": []string{models.PermAuditRead},
	}, nil, id))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err = deps.Roles.Get(ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Description)
	assert.Equal(t, []string{models.PermAuditRead}, got.Permissions)

	rec = httptest.NewRecorder()
	DeleteRoleHandler(deps)(rec, newRequest(t, http.MethodDelete, "/api/v1/roles/"+id, nil, nil, id))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	GetRoleHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/roles/"+id, nil, nil, id))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrantHandlers(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	svc := createService(t, deps, "blog")
	user := models.NewUser("dave", "dave@example.com", "", "hash")
	require.NoError(t, deps.Repos.Users.Create(ctx, user))

	t.Run("list requires a filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ListGrantsHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/grants", nil, nil, ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, errGrantFilterRequired.Error(), decodeError(t, rec).Message)
	})

	t.Run("create then list by user and service", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CreateGrantHandler(deps)(rec, newRequest(t, http.MethodPost, "/api/v1/grants", map[string]interface{}{
			"user_id": user.ID, "service_id": svc.ID, "data": map[string]string{"plan": "pro"},
		}, nil, ""))
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = httptest.NewRecorder()
		ListGrantsHandler(deps)(rec, newRequest(t, http.MethodGet,
			"/api/v1/grants?user_id="+user.ID.String()+"&service_id="+svc.ID.String(), nil, nil, ""))
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data []models.Grant `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Data, 1)
		assert.JSONEq(t, `{"plan":"pro"}`, string(body.Data[0].Data))
	})

	t.Run("duplicate grant conflicts", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CreateGrantHandler(deps)(rec, newRequest(t, http.MethodPost, "/api/v1/grants", map[string]interface{}{
			"user_id": user.ID, "service_id": svc.ID,
		}, nil, ""))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("scoped caller cannot list by user across services", func(t *testing.T) {
		other := createService(t, deps, "other")
		rec := httptest.NewRecorder()
		ListGrantsHandler(deps)(rec, newRequest(t, http.MethodGet,
			"/api/v1/grants?service_id="+svc.ID.String(), nil, serviceContext(other, models.PermGrantsRead), ""))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestUserHandlers(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	caller := models.NewUser("eve", "eve@example.com", "", "hash")
	require.NoError(t, deps.Repos.Users.Create(ctx, caller))
	target := models.NewUser("frank", "frank@example.com", "", "hash")
	require.NoError(t, deps.Repos.Users.Create(ctx, target))

	t.Run("cannot delete self", func(t *testing.T) {
		rec := httptest.NewRecorder()
		DeleteUserHandler(deps)(rec, newRequest(t, http.MethodDelete, "/api/v1/users/x", nil, globalContext(caller), caller.ID.String()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("suspend another user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		UpdateUserHandler(deps)(rec, newRequest(t, http.MethodPatch, "/api/v1/users/x", map[string]interface{}{
			"status": "suspended",
		}, globalContext(caller), target.ID.String()))
		require.Equal(t, http.StatusOK, rec.Code)

		got, err := deps.Users.Get(ctx, target.ID)
		require.NoError(t, err)
		assert.Equal(t, models.UserStatusSuspended, got.Status)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		UpdateUserHandler(deps)(rec, newRequest(t, http.MethodPatch, "/api/v1/users/x", map[string]interface{}{
			"status": "deleted",
		}, globalContext(caller), target.ID.String()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec).Details, "status")
	})

	t.Run("delete another user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		DeleteUserHandler(deps)(rec, newRequest(t, http.MethodDelete, "/api/v1/users/x", nil, globalContext(caller), target.ID.String()))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		GetUserHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/users/x", nil, globalContext(caller), target.ID.String()))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAuditHandlers_ScopedFilter(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	own := createService(t, deps, "own")
	other := createService(t, deps, "other")

	require.NoError(t, deps.Repos.AuditLogs.Insert(ctx, models.NewAuditLog(models.AuditActionUserLogin).WithService(own.ID)))
	require.NoError(t, deps.Repos.AuditLogs.Insert(ctx, models.NewAuditLog(models.AuditActionUserLogin).WithService(other.ID)))
	require.NoError(t, deps.Repos.AuditLogs.Insert(ctx, models.NewAuditLog(models.AuditActionUserLogout)))

	ac := serviceContext(own, models.PermAuditRead)

	rec := httptest.NewRecorder()
	ListAuditLogsHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/audit/logs", nil, ac, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []models.AuditLog `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, own.ID, *body.Data[0].ServiceID)

	rec = httptest.NewRecorder()
	ListAuditLogsHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/audit/logs?service_id="+other.ID.String(), nil, ac, ""))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	AuditSummaryHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/audit/summary?group_by=service", nil, nil, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	AuditSummaryHandler(deps)(rec, newRequest(t, http.MethodGet, "/api/v1/audit/summary?group_by=weekday", nil, nil, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandlers(t *testing.T) {
	deps := newTestDeps(t)

	rec := httptest.NewRecorder()
	ReadinessCheck(deps)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// metrics are disabled in the test config
	rec = httptest.NewRecorder()
	MetricsHandler(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
