package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return WrapDB(sqlDB, zap.NewNop()), mock
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	err := repo.Create(context.Background(), models.NewUser("alice", "alice@x.com", "Alice", "hash"))

	field, ok := repositories.IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, "email", field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), id)

	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByLogin(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	id := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "name", "is_verified", "status",
		"last_login_at", "metadata", "created_at", "updated_at",
	}).AddRow(id.String(), "alice", "alice@x.com", "hash", "Alice", true, "active",
		nil, []byte(`{"locale":"en"}`), now, now)

	mock.ExpectQuery("FROM users").WithArgs("alice").WillReturnRows(rows)

	user, err := repo.GetByLogin(context.Background(), "alice")

	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, models.UserStatusActive, user.Status)
	assert.Equal(t, "en", user.Metadata.Locale)
	assert.NotNil(t, user.Metadata.Preferences)
	assert.Nil(t, user.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Update_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), models.NewUser("a", "a@x.com", "", "h"))
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestTokenRepository_Consume(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	id := uuid.New()
	userID := uuid.New()
	now := time.Now()
	mock.ExpectQuery("DELETE FROM tokens (.+) RETURNING").
		WithArgs("hash", models.TokenKindRefresh).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "value_hash", "kind", "expires_at", "metadata", "created_at"}).
			AddRow(id.String(), userID.String(), "hash", "refresh", now.Add(time.Hour), []byte(`{"ip_address":"10.0.0.1"}`), now))

	token, err := repo.Consume(context.Background(), "hash", models.TokenKindRefresh)

	require.NoError(t, err)
	assert.Equal(t, id, token.ID)
	assert.Equal(t, userID, token.UserID)
	assert.Equal(t, "10.0.0.1", token.Metadata.IPAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_Consume_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	mock.ExpectQuery("DELETE FROM tokens").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Consume(context.Background(), "hash", models.TokenKindVerification)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestTokenRepository_DeleteByUserAndKind(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	userID := uuid.New()
	mock.ExpectExec("DELETE FROM tokens WHERE user_id = \\$1 AND kind = \\$2").
		WithArgs(userID, models.TokenKindRefresh).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteByUserAndKind(context.Background(), userID, models.TokenKindRefresh)

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepository_Delete(t *testing.T) {
	tests := []struct {
		name       string
		exists     bool
		referenced bool
		wantErr    error
	}{
		{"deleted", true, false, nil},
		{"still referenced", true, true, repositories.ErrReferenced},
		{"missing", false, false, repositories.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewRoleRepository(db, zap.NewNop())
			id := uuid.New()

			mock.ExpectBegin()
			lock := mock.ExpectQuery("SELECT id FROM roles WHERE id = \\$1 FOR UPDATE").WithArgs(id)
			if !tt.exists {
				lock.WillReturnRows(sqlmock.NewRows([]string{"id"}))
				mock.ExpectRollback()
			} else {
				lock.WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs(id).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.referenced))
				if tt.referenced {
					mock.ExpectRollback()
				} else {
					mock.ExpectExec("DELETE FROM roles WHERE id = \\$1").
						WithArgs(id).
						WillReturnResult(sqlmock.NewResult(0, 1))
					mock.ExpectCommit()
				}
			}

			err := repo.Delete(context.Background(), id)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRoleRepository_Update_Scope(t *testing.T) {
	t.Run("service role referenced by another scope", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRoleRepository(db, zap.NewNop())
		role := models.NewServiceRole(uuid.New(), "editor", "", nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM roles WHERE id = \\$1 FOR UPDATE").
			WithArgs(role.ID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(role.ID.String()))
		mock.ExpectQuery("service_id IS DISTINCT FROM").
			WithArgs(role.ID, *role.ServiceID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := repo.Update(context.Background(), role)

		assert.ErrorIs(t, err, repositories.ErrScopeMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("global role skips the reference check", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRoleRepository(db, zap.NewNop())
		role := models.NewGlobalRole("auditor", "", []string{models.PermAuditRead})

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM roles WHERE id = \\$1 FOR UPDATE").
			WithArgs(role.ID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(role.ID.String()))
		mock.ExpectExec("UPDATE roles").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Update(context.Background(), role))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing role", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRoleRepository(db, zap.NewNop())
		role := models.NewGlobalRole("ghost", "", nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM roles WHERE id = \\$1 FOR UPDATE").
			WithArgs(role.ID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.Update(context.Background(), role), repositories.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRoleRepository_Create_DuplicateScopedName(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRoleRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO roles").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "roles_service_name_key"})

	err := repo.Create(context.Background(), models.NewServiceRole(uuid.New(), "editor", "", nil))

	field, ok := repositories.IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, "name", field)
}

func TestRoleRepository_GetByIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRoleRepository(db, zap.NewNop())

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("FROM roles WHERE id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "is_global", "service_id", "permissions", "created_at", "updated_at"}).
			AddRow(id.String(), "admin", "", true, nil, []byte(`{users:read,users:write}`), now, now))

	roles, err := repo.GetByIDs(context.Background(), []uuid.UUID{id})

	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Nil(t, roles[0].ServiceID)
	assert.Equal(t, []string{"users:read", "users:write"}, roles[0].Permissions)

	empty, err := repo.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRepository_Create_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGrantRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO user_services").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "user_services_global_key"})

	err := repo.Create(context.Background(), models.NewGrant(uuid.New(), nil, nil))

	field, ok := repositories.IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, "grant", field)
}

func TestGrantRepository_Create_MissingReference(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGrantRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO user_services").
		WillReturnError(&pq.Error{Code: "23503", Constraint: "user_services_user_id_fkey"})

	err := repo.Create(context.Background(), models.NewGrant(uuid.New(), nil, nil))
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestGrantRepository_GetForUser_Global(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGrantRepository(db, zap.NewNop())

	userID := uuid.New()
	roleID := uuid.New()
	now := time.Now()
	mock.ExpectQuery("WHERE user_id = \\$1 AND service_id IS NULL").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "service_id", "role_ids", "status", "data", "created_at", "updated_at"}).
			AddRow(uuid.New().String(), userID.String(), nil, []byte("{"+roleID.String()+"}"), "active", nil, now, now))

	grant, err := repo.GetForUser(context.Background(), userID, nil)

	require.NoError(t, err)
	assert.True(t, grant.IsGlobal())
	assert.Equal(t, []uuid.UUID{roleID}, grant.RoleIDs)
	assert.Nil(t, grant.Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildAuditWhere(t *testing.T) {
	userID := uuid.New()
	from := time.Now().Add(-time.Hour)

	where, args := buildAuditWhere(models.AuditFilter{
		UserID: &userID,
		Action: models.AuditActionRoleCreated,
		From:   &from,
	})

	assert.Equal(t, "WHERE user_id = $1 AND action = $2 AND timestamp >= $3", where)
	assert.Equal(t, []interface{}{userID, models.AuditActionRoleCreated, from}, args)

	where, args = buildAuditWhere(models.AuditFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestAuditRepository_Query(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	serviceID := uuid.New()
	now := time.Now()
	mock.ExpectQuery("FROM audit_logs\\s+WHERE service_id = \\$1\\s+ORDER BY timestamp DESC\\s+LIMIT \\$2 OFFSET \\$3").
		WithArgs(serviceID, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "service_id", "action", "details", "ip_address", "user_agent", "request_id", "status_code", "timestamp"}).
			AddRow(uuid.New().String(), nil, serviceID.String(), "role.created", []byte(`{"name":"x"}`), "10.0.0.1", nil, "req-1", 201, now))

	logs, err := repo.Query(context.Background(), models.AuditFilter{ServiceID: &serviceID})

	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].UserID)
	assert.Equal(t, serviceID, *logs[0].ServiceID)
	assert.Equal(t, 201, *logs[0].StatusCode)
	assert.Empty(t, logs[0].UserAgent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_Summary(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT action AS key, COUNT\\(\\*\\) AS count").
		WillReturnRows(sqlmock.NewRows([]string{"key", "count"}).
			AddRow("user.login", 7).
			AddRow("role.created", 2))

	buckets, err := repo.Summary(context.Background(), models.AuditFilter{}, models.AuditGroupByAction)

	require.NoError(t, err)
	assert.Equal(t, []models.AuditSummaryBucket{{Key: "user.login", Count: 7}, {Key: "role.created", Count: 2}}, buckets)

	_, err = repo.Summary(context.Background(), models.AuditFilter{}, "weekday")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_InTransaction(t *testing.T) {
	t.Run("commits on success and repositories join the tx", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		tokens := NewTokenRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM tokens WHERE user_id").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			_, err := tokens.DeleteByUserAndKind(ctx, uuid.New(), models.TokenKindRefresh)
			return err
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := tm.InTransaction(context.Background(), func(ctx context.Context, outer repositories.Transaction) error {
			return tm.InTransaction(ctx, func(ctx context.Context, inner repositories.Transaction) error {
				assert.Same(t, outer, inner)
				return nil
			})
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := WrapDB(sqlDB, zap.NewNop())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
