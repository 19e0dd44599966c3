package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"go.uber.org/zap"
)

const serviceColumns = `id, name, description, api_key, api_secret_hash, is_active, config, created_at, updated_at`

// ServiceRepository implements the repositories.ServiceRepository interface
type ServiceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewServiceRepository creates a new service repository
func NewServiceRepository(db *DB, logger *zap.Logger) repositories.ServiceRepository {
	return &ServiceRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new service
func (r *ServiceRepository) Create(ctx context.Context, service *models.Service) error {
	query := `
		INSERT INTO services (` + serviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		service.ID,
		service.Name,
		service.Description,
		service.APIKey,
		service.APISecretHash,
		service.IsActive,
		service.Config,
		service.CreatedAt,
		service.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("failed to create service", err)
	}

	r.logger.Debug("service created", zap.String("id", service.ID.String()), zap.String("name", service.Name))
	return nil
}

// GetByID retrieves a service by ID
func (r *ServiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	return r.getOne(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
}

// GetByAPIKey retrieves a service by its public API key
func (r *ServiceRepository) GetByAPIKey(ctx context.Context, apiKey string) (*models.Service, error) {
	return r.getOne(ctx, `SELECT `+serviceColumns+` FROM services WHERE api_key = $1`, apiKey)
}

// List retrieves services with pagination
func (r *ServiceRepository) List(ctx context.Context, opts repositories.ListOptions) ([]*models.Service, error) {
	query := `
		SELECT ` + serviceColumns + `
		FROM services
		ORDER BY name ASC
		LIMIT $1 OFFSET $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, limitOrDefault(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, service)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating service rows: %w", err)
	}

	return services, nil
}

// Update persists name, description, active flag and config
func (r *ServiceRepository) Update(ctx context.Context, service *models.Service) error {
	query := `
		UPDATE services
		SET name = $2, description = $3, is_active = $4, config = $5, updated_at = $6
		WHERE id = $1
	`

	service.UpdatedAt = time.Now().UTC()

	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, query,
		service.ID,
		service.Name,
		service.Description,
		service.IsActive,
		service.Config,
		service.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("failed to update service", err)
	}
	if err := requireAffected(res, "failed to update service"); err != nil {
		return err
	}

	r.logger.Debug("service updated", zap.String("id", service.ID.String()))
	return nil
}

// RotateCredentials replaces the key/secret pair in one statement so the old
// pair stops matching at the same instant the new one starts
func (r *ServiceRepository) RotateCredentials(ctx context.Context, id uuid.UUID, apiKey, apiSecretHash string) error {
	query := `
		UPDATE services
		SET api_key = $2, api_secret_hash = $3, updated_at = $4
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, query, id, apiKey, apiSecretHash, time.Now().UTC())
	if err != nil {
		return mapWriteError("failed to rotate service credentials", err)
	}
	if err := requireAffected(res, "failed to rotate service credentials"); err != nil {
		return err
	}

	r.logger.Debug("service credentials rotated", zap.String("id", id.String()))
	return nil
}

// Delete deletes a service; scoped roles and grants go with it by cascade
func (r *ServiceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if err := requireAffected(res, "failed to delete service"); err != nil {
		return err
	}

	r.logger.Debug("service deleted", zap.String("id", id.String()))
	return nil
}

func (r *ServiceRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Service, error) {
	executor := GetExecutor(ctx, r.db)
	service, err := scanService(executor.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return service, nil
}

func scanService(row rowScanner) (*models.Service, error) {
	service := &models.Service{}
	err := row.Scan(
		&service.ID,
		&service.Name,
		&service.Description,
		&service.APIKey,
		&service.APISecretHash,
		&service.IsActive,
		&service.Config,
		&service.CreatedAt,
		&service.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return service, nil
}
