package rbac

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/repositories/memory"
	"github.com/upb/identity-authority/services"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *repositories.Repositories) {
	t.Helper()
	repos := memory.NewStore().Repositories()
	return NewService(repos.Roles, zap.NewNop()), repos
}

func TestEffectivePermissions(t *testing.T) {
	editor := models.NewGlobalRole("editor", "", []string{"posts:write", "posts:read"})
	reader := models.NewGlobalRole("reader", "", []string{"posts:read"})

	set := EffectivePermissions([]*models.Role{editor, reader, nil})

	assert.True(t, set.Has("posts:write"))
	assert.True(t, set.Has("posts:read"))
	assert.False(t, set.Has("posts:delete"))
	assert.False(t, set.IsAdmin())
	assert.Equal(t, []string{"posts:read", "posts:write"}, set.List())
}

func TestEffectivePermissions_AdminBypass(t *testing.T) {
	admin := models.NewGlobalRole(models.RoleAdmin, "", nil)

	set := EffectivePermissions([]*models.Role{admin})

	assert.True(t, set.IsAdmin())
	assert.True(t, set.Has("anything:at-all"))
	assert.Empty(t, set.List())
}

func TestEffectivePermissions_ScopedAdminNameIsNotBypass(t *testing.T) {
	scopedAdmin := models.NewServiceRole(uuid.New(), models.RoleAdmin, "", []string{"billing:read"})

	set := EffectivePermissions([]*models.Role{scopedAdmin})

	assert.False(t, set.IsAdmin())
	assert.False(t, set.Has("billing:write"))
}

func TestEffectivePermissions_Empty(t *testing.T) {
	set := EffectivePermissions(nil)
	assert.False(t, set.Has("users:read"))
	assert.Empty(t, set.List())
}

func TestCandidateRoleIDs(t *testing.T) {
	userID := uuid.New()
	svc := uuid.New()
	other := uuid.New()
	r1, r2, r3, r4 := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	global := models.NewGrant(userID, nil, []uuid.UUID{r1})
	scoped := models.NewGrant(userID, &svc, []uuid.UUID{r2, r1})
	suspended := models.NewGrant(userID, &other, []uuid.UUID{r3})
	suspended.Status = models.GrantStatusSuspended
	otherActive := models.NewGrant(userID, &other, []uuid.UUID{r4})
	grants := []*models.Grant{global, scoped, suspended}

	tests := []struct {
		name          string
		grants        []*models.Grant
		serviceID     *uuid.UUID
		includeScoped bool
		want          []uuid.UUID
	}{
		{"service scope uses only that grant", grants, &svc, false, []uuid.UUID{r2, r1}},
		{"global scope uses only the global grant", grants, nil, false, []uuid.UUID{r1}},
		{"global scope including service grants", grants, nil, true, []uuid.UUID{r1, r2}},
		{"suspended grants never contribute", grants, &other, false, nil},
		{"active grant for other service", []*models.Grant{otherActive}, &other, false, []uuid.UUID{r4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidateRoleIDs(tt.grants, tt.serviceID, tt.includeScoped))
		})
	}
}

func TestFilterRoles(t *testing.T) {
	svc := uuid.New()
	global := models.NewGlobalRole("g", "", nil)
	mine := models.NewServiceRole(svc, "mine", "", nil)
	theirs := models.NewServiceRole(uuid.New(), "theirs", "", nil)
	all := []*models.Role{global, mine, theirs}

	assert.Equal(t, []*models.Role{global}, FilterRoles(all, nil))
	assert.Equal(t, []*models.Role{global, mine}, FilterRoles(all, &svc))
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t)

	role, err := svc.Create(ctx, CreateRoleInput{Name: " auditor ", Permissions: []string{"audit:read", "audit:read"}})
	require.NoError(t, err)
	assert.Equal(t, "auditor", role.Name)
	assert.True(t, role.IsGlobal)
	assert.Equal(t, []string{"audit:read"}, role.Permissions)

	_, err = svc.Create(ctx, CreateRoleInput{Name: "auditor"})
	assert.ErrorIs(t, err, services.ErrConflict)
	assert.Equal(t, "name", services.GetErrorDetails(err)["field"])

	_, err = svc.Create(ctx, CreateRoleInput{Name: ""})
	assert.True(t, services.IsValidationError(err))

	missing := uuid.New()
	_, err = svc.Create(ctx, CreateRoleInput{Name: "x", ServiceID: &missing})
	assert.ErrorIs(t, err, services.ErrServiceNotFound)

	tenant := models.NewService("blog", "", "key", "h")
	require.NoError(t, repos.Services.Create(ctx, tenant))
	scoped, err := svc.Create(ctx, CreateRoleInput{Name: "auditor", ServiceID: &tenant.ID})
	require.NoError(t, err)
	assert.False(t, scoped.IsGlobal)
}

func TestService_EnsureSystemRolesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	admin, user, err := svc.EnsureSystemRoles(ctx)
	require.NoError(t, err)
	assert.True(t, admin.IsSystem())
	assert.True(t, user.IsSystem())
	assert.Empty(t, user.Permissions)

	admin2, user2, err := svc.EnsureSystemRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, admin2.ID)
	assert.Equal(t, user.ID, user2.ID)
}

func TestService_SystemRoleProtection(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t)
	admin, user, err := svc.EnsureSystemRoles(ctx)
	require.NoError(t, err)

	tenant := models.NewService("blog", "", "key", "h")
	require.NoError(t, repos.Services.Create(ctx, tenant))

	t.Run("scope update rejected", func(t *testing.T) {
		_, err := svc.Update(ctx, user.ID, UpdateRoleInput{ServiceID: &tenant.ID})
		assert.ErrorIs(t, err, services.ErrProtectedRole)

		global := false
		_, err = svc.Update(ctx, admin.ID, UpdateRoleInput{Global: &global})
		assert.ErrorIs(t, err, services.ErrProtectedRole)
	})

	t.Run("rename rejected", func(t *testing.T) {
		name := "member"
		_, err := svc.Update(ctx, user.ID, UpdateRoleInput{Name: &name})
		assert.ErrorIs(t, err, services.ErrProtectedRole)
	})

	t.Run("permissions update allowed", func(t *testing.T) {
		perms := []string{"profile:read"}
		got, err := svc.Update(ctx, user.ID, UpdateRoleInput{Permissions: &perms})
		require.NoError(t, err)
		assert.Equal(t, perms, got.Permissions)
	})

	t.Run("admin replace rejected", func(t *testing.T) {
		_, err := svc.Replace(ctx, admin.ID, ReplaceRoleInput{Name: models.RoleAdmin})
		assert.ErrorIs(t, err, services.ErrProtectedRole)
	})

	t.Run("user replace keeps scope", func(t *testing.T) {
		_, err := svc.Replace(ctx, user.ID, ReplaceRoleInput{Name: models.RoleUser, ServiceID: &tenant.ID})
		assert.ErrorIs(t, err, services.ErrProtectedRole)

		got, err := svc.Replace(ctx, user.ID, ReplaceRoleInput{Name: models.RoleUser, Description: "members"})
		require.NoError(t, err)
		assert.Equal(t, "members", got.Description)
		assert.Empty(t, got.Permissions)
	})

	t.Run("delete rejected", func(t *testing.T) {
		assert.ErrorIs(t, svc.Delete(ctx, admin.ID), services.ErrProtectedRole)
		assert.ErrorIs(t, svc.Delete(ctx, user.ID), services.ErrProtectedRole)
	})
}

func TestService_UpdateScope(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t)
	tenant := models.NewService("blog", "", "key", "h")
	require.NoError(t, repos.Services.Create(ctx, tenant))

	role, err := svc.Create(ctx, CreateRoleInput{Name: "editor"})
	require.NoError(t, err)

	moved, err := svc.Update(ctx, role.ID, UpdateRoleInput{ServiceID: &tenant.ID})
	require.NoError(t, err)
	assert.False(t, moved.IsGlobal)
	assert.Equal(t, tenant.ID, *moved.ServiceID)

	global := true
	back, err := svc.Update(ctx, role.ID, UpdateRoleInput{Global: &global})
	require.NoError(t, err)
	assert.True(t, back.IsGlobal)
	assert.Nil(t, back.ServiceID)

	notGlobal := false
	_, err = svc.Update(ctx, role.ID, UpdateRoleInput{Global: &notGlobal})
	assert.True(t, services.IsValidationError(err))
}

func TestService_ScopeMoveKeepsGrantsValid(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t)
	blog := models.NewService("blog", "", "k1", "h")
	shop := models.NewService("shop", "", "k2", "h")
	require.NoError(t, repos.Services.Create(ctx, blog))
	require.NoError(t, repos.Services.Create(ctx, shop))
	user := models.NewUser("alice", "alice@example.com", "", "h")
	require.NoError(t, repos.Users.Create(ctx, user))

	role, err := svc.Create(ctx, CreateRoleInput{Name: "editor"})
	require.NoError(t, err)
	require.NoError(t, repos.Grants.Create(ctx, models.NewGrant(user.ID, &blog.ID, []uuid.UUID{role.ID})))

	_, err = svc.Update(ctx, role.ID, UpdateRoleInput{ServiceID: &shop.ID})
	assert.ErrorIs(t, err, services.ErrInUse)
	_, err = svc.Replace(ctx, role.ID, ReplaceRoleInput{Name: "editor", ServiceID: &shop.ID})
	assert.ErrorIs(t, err, services.ErrInUse)

	stored, err := svc.Get(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsGlobal)

	// the grant's own service is still a valid target
	moved, err := svc.Update(ctx, role.ID, UpdateRoleInput{ServiceID: &blog.ID})
	require.NoError(t, err)
	assert.Equal(t, blog.ID, *moved.ServiceID)

	// a global grant rules out every service scope
	global, err := svc.Create(ctx, CreateRoleInput{Name: "viewer"})
	require.NoError(t, err)
	require.NoError(t, repos.Grants.Create(ctx, models.NewGrant(user.ID, nil, []uuid.UUID{global.ID})))
	_, err = svc.Update(ctx, global.ID, UpdateRoleInput{ServiceID: &blog.ID})
	assert.ErrorIs(t, err, services.ErrInUse)
}

func TestService_DeleteInUse(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t)

	user := models.NewUser("alice", "alice@example.com", "", "h")
	require.NoError(t, repos.Users.Create(ctx, user))
	role, err := svc.Create(ctx, CreateRoleInput{Name: "editor"})
	require.NoError(t, err)
	grant := models.NewGrant(user.ID, nil, []uuid.UUID{role.ID})
	require.NoError(t, repos.Grants.Create(ctx, grant))

	assert.ErrorIs(t, svc.Delete(ctx, role.ID), services.ErrInUse)

	require.NoError(t, repos.Grants.Delete(ctx, grant.ID))
	assert.NoError(t, svc.Delete(ctx, role.ID))
	assert.ErrorIs(t, svc.Delete(ctx, role.ID), services.ErrRoleNotFound)
}

func TestService_ValidateAssignment(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t)
	blog := models.NewService("blog", "", "k1", "h")
	shop := models.NewService("shop", "", "k2", "h")
	require.NoError(t, repos.Services.Create(ctx, blog))
	require.NoError(t, repos.Services.Create(ctx, shop))

	global, err := svc.Create(ctx, CreateRoleInput{Name: "viewer"})
	require.NoError(t, err)
	blogRole, err := svc.Create(ctx, CreateRoleInput{Name: "writer", ServiceID: &blog.ID})
	require.NoError(t, err)

	assert.NoError(t, svc.ValidateAssignment(ctx, []uuid.UUID{global.ID, blogRole.ID}, &blog.ID))
	assert.NoError(t, svc.ValidateAssignment(ctx, nil, nil))
	assert.ErrorIs(t, svc.ValidateAssignment(ctx, []uuid.UUID{blogRole.ID}, &shop.ID), services.ErrInvalidRole)
	assert.ErrorIs(t, svc.ValidateAssignment(ctx, []uuid.UUID{blogRole.ID}, nil), services.ErrInvalidRole)
	assert.ErrorIs(t, svc.ValidateAssignment(ctx, []uuid.UUID{uuid.New()}, nil), services.ErrInvalidRole)
}

func TestService_Resolve(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t)
	blog := models.NewService("blog", "", "k1", "h")
	require.NoError(t, repos.Services.Create(ctx, blog))

	viewer, err := svc.Create(ctx, CreateRoleInput{Name: "viewer", Permissions: []string{"users:read"}})
	require.NoError(t, err)
	writer, err := svc.Create(ctx, CreateRoleInput{Name: "writer", ServiceID: &blog.ID, Permissions: []string{"posts:write"}})
	require.NoError(t, err)

	userID := uuid.New()
	grants := []*models.Grant{
		models.NewGrant(userID, &blog.ID, []uuid.UUID{viewer.ID, writer.ID}),
	}

	_, tenantPerms, err := svc.Resolve(ctx, grants, &blog.ID, false)
	require.NoError(t, err)
	assert.True(t, tenantPerms.Has("posts:write"))
	assert.True(t, tenantPerms.Has("users:read"))

	_, globalPerms, err := svc.Resolve(ctx, grants, nil, false)
	require.NoError(t, err)
	assert.False(t, globalPerms.Has("users:read"))

	roles, widened, err := svc.Resolve(ctx, grants, nil, true)
	require.NoError(t, err)
	assert.True(t, widened.Has("users:read"))
	assert.False(t, widened.Has("posts:write"))
	assert.Len(t, roles, 1)
}
