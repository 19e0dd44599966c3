package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"go.uber.org/zap"
)

const roleColumns = `id, name, description, is_global, service_id, permissions, created_at, updated_at`

// RoleRepository implements the repositories.RoleRepository interface
type RoleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB, logger *zap.Logger) repositories.RoleRepository {
	return &RoleRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	query := `
		INSERT INTO roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.IsGlobal,
		role.ServiceID,
		pq.StringArray(role.Permissions),
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("failed to create role", err)
	}

	r.logger.Debug("role created", zap.String("id", role.ID.String()), zap.String("name", role.Name))
	return nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	return r.getOne(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

// GetGlobalByName retrieves a global role by name
func (r *RoleRepository) GetGlobalByName(ctx context.Context, name string) (*models.Role, error) {
	return r.getOne(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1 AND service_id IS NULL`, name)
}

// GetByIDs retrieves every existing role among ids. Inside a transaction the
// rows are share-locked so a concurrent delete waits for the caller to finish.
func (r *RoleRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Role, error) {
	if len(ids) == 0 {
		return []*models.Role{}, nil
	}

	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = ANY($1::uuid[])`
	if _, inTx := GetTransactionFromContext(ctx); inTx {
		query += ` FOR SHARE`
	}

	return r.queryRoles(ctx, query, uuidsToStrings(ids))
}

// List retrieves roles by scope
func (r *RoleRepository) List(ctx context.Context, serviceID *uuid.UUID, globalOnly bool, opts repositories.ListOptions) ([]*models.Role, error) {
	limit := limitOrDefault(opts.Limit)

	switch {
	case serviceID != nil:
		query := `
			SELECT ` + roleColumns + `
			FROM roles
			WHERE service_id = $1
			ORDER BY name ASC
			LIMIT $2 OFFSET $3
		`
		return r.queryRoles(ctx, query, *serviceID, limit, opts.Offset)
	case globalOnly:
		query := `
			SELECT ` + roleColumns + `
			FROM roles
			WHERE service_id IS NULL
			ORDER BY name ASC
			LIMIT $1 OFFSET $2
		`
		return r.queryRoles(ctx, query, limit, opts.Offset)
	default:
		query := `
			SELECT ` + roleColumns + `
			FROM roles
			ORDER BY is_global DESC, name ASC
			LIMIT $1 OFFSET $2
		`
		return r.queryRoles(ctx, query, limit, opts.Offset)
	}
}

// Update persists every mutable field of the role. A service-scoped role
// may only be referenced by grants of that service.
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	query := `
		UPDATE roles
		SET name = $2, description = $3, is_global = $4, service_id = $5, permissions = $6, updated_at = $7
		WHERE id = $1
	`

	role.UpdatedAt = time.Now().UTC()

	err := r.withRoleLock(ctx, role.ID, func(executor Executor) error {
		if role.ServiceID != nil {
			var foreign bool
			err := executor.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM user_services
					WHERE $1 = ANY(role_ids) AND service_id IS DISTINCT FROM $2
				)`, role.ID, *role.ServiceID).Scan(&foreign)
			if err != nil {
				return fmt.Errorf("failed to check role references: %w", err)
			}
			if foreign {
				return repositories.ErrScopeMismatch
			}
		}

		_, err := executor.ExecContext(ctx, query,
			role.ID,
			role.Name,
			role.Description,
			role.IsGlobal,
			role.ServiceID,
			pq.StringArray(role.Permissions),
			role.UpdatedAt,
		)
		if err != nil {
			return mapWriteError("failed to update role", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("role updated", zap.String("id", role.ID.String()))
	return nil
}

// Delete removes a role unless a grant references it.
func (r *RoleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.withRoleLock(ctx, id, func(executor Executor) error {
		var referenced bool
		err := executor.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_services WHERE $1 = ANY(role_ids))`, id).Scan(&referenced)
		if err != nil {
			return fmt.Errorf("failed to check role references: %w", err)
		}
		if referenced {
			return repositories.ErrReferenced
		}

		if _, err := executor.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("role deleted", zap.String("id", id.String()))
	return nil
}

// withRoleLock runs fn while holding the role row FOR UPDATE, opening a
// transaction when ctx carries none. Grant writers share-lock the roles they
// reference (GetByIDs), so once the lock is granted every such grant is
// committed, and the READ COMMITTED statements fn runs afterwards see it.
func (r *RoleRepository) withRoleLock(ctx context.Context, id uuid.UUID, fn func(Executor) error) error {
	run := func(executor Executor) error {
		var locked uuid.UUID
		err := executor.QueryRowContext(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.ErrNotFound
			}
			return fmt.Errorf("failed to lock role: %w", err)
		}
		return fn(executor)
	}

	if tx, ok := GetTransactionFromContext(ctx); ok && tx.db == r.db {
		return run(tx.tx)
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := run(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *RoleRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Role, error) {
	executor := GetExecutor(ctx, r.db)
	role, err := scanRole(executor.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

func (r *RoleRepository) queryRoles(ctx context.Context, query string, args ...interface{}) ([]*models.Role, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	roles := []*models.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role rows: %w", err)
	}

	return roles, nil
}

func scanRole(row rowScanner) (*models.Role, error) {
	role := &models.Role{}
	var permissions pq.StringArray
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.IsGlobal,
		&role.ServiceID,
		&permissions,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	role.Permissions = []string(permissions)
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return role, nil
}
