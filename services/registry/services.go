package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/internal/security"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/services"
	"go.uber.org/zap"
)

const apiKeyPrefix = "ak_"

// CreateServiceInput describes a new tenant service
type CreateServiceInput struct {
	Name        string
	Description string
	Config      *models.ServiceConfigPatch
}

// UpdateServiceInput is a partial update of a service. Config is merged into the current config.
type UpdateServiceInput struct {
	Name        *string
	Description *string
	IsActive    *bool
	Config      *models.ServiceConfigPatch
}

// ServiceCredentials is the key pair returned once on creation and rotation
type ServiceCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// ServiceRegistry manages tenant services
type ServiceRegistry struct {
	repo   repositories.ServiceRepository
	logger *zap.Logger
}

// NewServiceRegistry creates a service registry
func NewServiceRegistry(repo repositories.ServiceRepository, logger *zap.Logger) *ServiceRegistry {
	return &ServiceRegistry{repo: repo, logger: logger}
}

// Create registers a service and returns its credentials. The secret is not retrievable later.
func (r *ServiceRegistry) Create(ctx context.Context, in CreateServiceInput) (*models.Service, *ServiceCredentials, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, services.NewInvalidInput("service name is required")
	}

	creds, err := newServiceCredentials()
	if err != nil {
		return nil, nil, err
	}

	svc := models.NewService(name, in.Description, creds.APIKey, security.SHA256Hex(creds.APISecret))
	if in.Config != nil {
		svc.Config = models.MergeServiceConfig(svc.Config, *in.Config)
	}
	if err := validateServiceConfig(svc.Config); err != nil {
		return nil, nil, err
	}

	if err := r.repo.Create(ctx, svc); err != nil {
		return nil, nil, mapServiceWriteError(err)
	}

	r.logger.Info("service created", zap.String("service_id", svc.ID.String()), zap.String("name", svc.Name))
	return svc, creds, nil
}

// Get returns a service by id
func (r *ServiceRegistry) Get(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	svc, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrServiceNotFound
		}
		return nil, services.WrapInternal("failed to get service", err)
	}
	return svc, nil
}

// List returns a page of services
func (r *ServiceRegistry) List(ctx context.Context, opts repositories.ListOptions) ([]*models.Service, error) {
	list, err := r.repo.List(ctx, opts)
	if err != nil {
		return nil, services.WrapInternal("failed to list services", err)
	}
	return list, nil
}

// Update applies a partial update
func (r *ServiceRegistry) Update(ctx context.Context, id uuid.UUID, in UpdateServiceInput) (*models.Service, error) {
	svc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, services.NewInvalidInput("service name is required")
		}
		svc.Name = name
	}
	if in.Description != nil {
		svc.Description = *in.Description
	}
	if in.IsActive != nil {
		svc.IsActive = *in.IsActive
	}
	if in.Config != nil {
		svc.Config = models.MergeServiceConfig(svc.Config, *in.Config)
		if err := validateServiceConfig(svc.Config); err != nil {
			return nil, err
		}
	}

	if err := r.repo.Update(ctx, svc); err != nil {
		return nil, mapServiceWriteError(err)
	}

	r.logger.Info("service updated", zap.String("service_id", svc.ID.String()))
	return svc, nil
}

// RotateCredentials replaces the key pair. The previous pair stops working immediately.
func (r *ServiceRegistry) RotateCredentials(ctx context.Context, id uuid.UUID) (*models.Service, *ServiceCredentials, error) {
	creds, err := newServiceCredentials()
	if err != nil {
		return nil, nil, err
	}

	if err := r.repo.RotateCredentials(ctx, id, creds.APIKey, security.SHA256Hex(creds.APISecret)); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, services.ErrServiceNotFound
		}
		return nil, nil, mapServiceWriteError(err)
	}

	svc, err := r.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	r.logger.Info("service credentials rotated", zap.String("service_id", id.String()))
	return svc, creds, nil
}

// Delete removes a service with its scoped roles and grants
func (r *ServiceRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrServiceNotFound
		}
		return services.WrapInternal("failed to delete service", err)
	}
	r.logger.Info("service deleted", zap.String("service_id", id.String()))
	return nil
}

func newServiceCredentials() (*ServiceCredentials, error) {
	key, err := security.RandomHex(16)
	if err != nil {
		return nil, services.WrapInternal("failed to generate api key", err)
	}
	secret, err := security.RandomToken(security.MinTokenBytes)
	if err != nil {
		return nil, services.WrapInternal("failed to generate api secret", err)
	}
	return &ServiceCredentials{APIKey: apiKeyPrefix + key, APISecret: secret}, nil
}

func validateServiceConfig(cfg models.ServiceConfig) error {
	if cfg.PasswordPolicy.MinLength < 1 {
		return services.NewInvalidInput("password_policy.min_length must be positive")
	}
	if cfg.PasswordPolicy.MinLength > maxPasswordBytes {
		return services.NewInvalidInput("password_policy.min_length exceeds the maximum password length")
	}
	return nil
}

func mapServiceWriteError(err error) error {
	if field, ok := repositories.IsDuplicate(err); ok {
		return services.NewConflict(field)
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrServiceNotFound
	}
	return services.WrapInternal("failed to save service", err)
}
