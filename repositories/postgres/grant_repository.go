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

const grantColumns = `id, user_id, service_id, role_ids, status, data, created_at, updated_at`

// GrantRepository implements the repositories.GrantRepository interface
type GrantRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *DB, logger *zap.Logger) repositories.GrantRepository {
	return &GrantRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new grant. Uniqueness of (user, service) is enforced by the
// partial unique indexes, not by a prior read.
func (r *GrantRepository) Create(ctx context.Context, grant *models.Grant) error {
	query := `
		INSERT INTO user_services (` + grantColumns + `)
		VALUES ($1, $2, $3, $4::uuid[], $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		grant.ID,
		grant.UserID,
		grant.ServiceID,
		uuidsToStrings(grant.RoleIDs),
		grant.Status,
		nullableJSON(grant.Data),
		grant.CreatedAt,
		grant.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("failed to create grant", err)
	}

	r.logger.Debug("grant created",
		zap.String("id", grant.ID.String()),
		zap.String("user_id", grant.UserID.String()),
	)
	return nil
}

// GetByID retrieves a grant by ID
func (r *GrantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Grant, error) {
	return r.getOne(ctx, `SELECT `+grantColumns+` FROM user_services WHERE id = $1`, id)
}

// GetForUser retrieves the grant for (userID, serviceID)
func (r *GrantRepository) GetForUser(ctx context.Context, userID uuid.UUID, serviceID *uuid.UUID) (*models.Grant, error) {
	if serviceID == nil {
		return r.getOne(ctx, `SELECT `+grantColumns+` FROM user_services WHERE user_id = $1 AND service_id IS NULL`, userID)
	}
	return r.getOne(ctx, `SELECT `+grantColumns+` FROM user_services WHERE user_id = $1 AND service_id = $2`, userID, *serviceID)
}

// ListByUser retrieves every grant held by a user
func (r *GrantRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Grant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM user_services
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	return r.queryGrants(ctx, query, userID)
}

// ListByService retrieves grants for a service with pagination
func (r *GrantRepository) ListByService(ctx context.Context, serviceID uuid.UUID, opts repositories.ListOptions) ([]*models.Grant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM user_services
		WHERE service_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	return r.queryGrants(ctx, query, serviceID, limitOrDefault(opts.Limit), opts.Offset)
}

// Update persists roles, status and data
func (r *GrantRepository) Update(ctx context.Context, grant *models.Grant) error {
	query := `
		UPDATE user_services
		SET role_ids = $2::uuid[], status = $3, data = $4, updated_at = $5
		WHERE id = $1
	`

	grant.UpdatedAt = time.Now().UTC()

	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, query,
		grant.ID,
		uuidsToStrings(grant.RoleIDs),
		grant.Status,
		nullableJSON(grant.Data),
		grant.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("failed to update grant", err)
	}
	if err := requireAffected(res, "failed to update grant"); err != nil {
		return err
	}

	r.logger.Debug("grant updated", zap.String("id", grant.ID.String()))
	return nil
}

// Delete deletes a grant
func (r *GrantRepository) Delete(ctx context.Context, id uuid.UUID) error {
	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, `DELETE FROM user_services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if err := requireAffected(res, "failed to delete grant"); err != nil {
		return err
	}

	r.logger.Debug("grant deleted", zap.String("id", id.String()))
	return nil
}

func (r *GrantRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Grant, error) {
	executor := GetExecutor(ctx, r.db)
	grant, err := scanGrant(executor.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return grant, nil
}

func (r *GrantRepository) queryGrants(ctx context.Context, query string, args ...interface{}) ([]*models.Grant, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	grants := []*models.Grant{}
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grant rows: %w", err)
	}

	return grants, nil
}

func scanGrant(row rowScanner) (*models.Grant, error) {
	grant := &models.Grant{}
	var roleIDs pq.StringArray
	var data []byte
	err := row.Scan(
		&grant.ID,
		&grant.UserID,
		&grant.ServiceID,
		&roleIDs,
		&grant.Status,
		&data,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	grant.RoleIDs, err = stringsToUUIDs(roleIDs)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		grant.Data = data
	}
	return grant, nil
}
