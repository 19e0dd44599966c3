package registry

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/rbac"
	"go.uber.org/zap"
)

// CreateGrantInput describes a new grant. A nil ServiceID creates the global grant.
type CreateGrantInput struct {
	UserID    uuid.UUID
	ServiceID *uuid.UUID
	RoleIDs   []uuid.UUID
	Status    models.GrantStatus
	Data      json.RawMessage
}

// UpdateGrantInput is a partial update of a grant
type UpdateGrantInput struct {
	RoleIDs *[]uuid.UUID
	Status  *models.GrantStatus
	Data    json.RawMessage
}

// GrantRegistry manages user-service grants
type GrantRegistry struct {
	repos  *repositories.Repositories
	txMgr  repositories.TransactionManager
	roles  *rbac.Service
	logger *zap.Logger
}

// NewGrantRegistry creates a grant registry
func NewGrantRegistry(repos *repositories.Repositories, txMgr repositories.TransactionManager, roles *rbac.Service, logger *zap.Logger) *GrantRegistry {
	return &GrantRegistry{repos: repos, txMgr: txMgr, roles: roles, logger: logger}
}

// Create creates a grant. It fails with NotFound when the user or service is
// missing, InvalidRole when a role does not apply to the scope, and Conflict
// when the pair already has a grant.
func (r *GrantRegistry) Create(ctx context.Context, in CreateGrantInput) (*models.Grant, error) {
	status := in.Status
	if status == "" {
		status = models.GrantStatusActive
	}
	if !status.Valid() {
		return nil, services.NewInvalidInput("invalid grant status")
	}
	if err := validateData(in.Data); err != nil {
		return nil, err
	}

	grant := models.NewGrant(in.UserID, in.ServiceID, uniqueIDs(in.RoleIDs))
	grant.Status = status
	grant.Data = in.Data

	err := r.txMgr.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		if _, err := r.repos.Users.GetByID(ctx, in.UserID); err != nil {
			return notFoundOr(err, services.ErrUserNotFound, "failed to get user")
		}
		if in.ServiceID != nil {
			if _, err := r.repos.Services.GetByID(ctx, *in.ServiceID); err != nil {
				return notFoundOr(err, services.ErrServiceNotFound, "failed to get service")
			}
		}
		if err := r.roles.ValidateAssignment(ctx, grant.RoleIDs, grant.ServiceID); err != nil {
			return err
		}
		if err := r.repos.Grants.Create(ctx, grant); err != nil {
			return mapGrantWriteError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("grant created",
		zap.String("grant_id", grant.ID.String()),
		zap.String("user_id", grant.UserID.String()),
		zap.Bool("global", grant.IsGlobal()),
	)
	return grant, nil
}

// Get returns a grant by id
func (r *GrantRegistry) Get(ctx context.Context, id uuid.UUID) (*models.Grant, error) {
	grant, err := r.repos.Grants.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, services.ErrGrantNotFound, "failed to get grant")
	}
	return grant, nil
}

// GetForUser returns the user's grant for serviceID, or the global grant when serviceID is nil
func (r *GrantRegistry) GetForUser(ctx context.Context, userID uuid.UUID, serviceID *uuid.UUID) (*models.Grant, error) {
	grant, err := r.repos.Grants.GetForUser(ctx, userID, serviceID)
	if err != nil {
		return nil, notFoundOr(err, services.ErrGrantNotFound, "failed to get grant")
	}
	return grant, nil
}

// ListByUser returns every grant of a user
func (r *GrantRegistry) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Grant, error) {
	grants, err := r.repos.Grants.ListByUser(ctx, userID)
	if err != nil {
		return nil, services.WrapInternal("failed to list grants", err)
	}
	return grants, nil
}

// ListByService returns a page of grants for a service
func (r *GrantRegistry) ListByService(ctx context.Context, serviceID uuid.UUID, opts repositories.ListOptions) ([]*models.Grant, error) {
	grants, err := r.repos.Grants.ListByService(ctx, serviceID, opts)
	if err != nil {
		return nil, services.WrapInternal("failed to list grants", err)
	}
	return grants, nil
}

// Update changes roles, status or data of a grant
func (r *GrantRegistry) Update(ctx context.Context, id uuid.UUID, in UpdateGrantInput) (*models.Grant, error) {
	if err := validateData(in.Data); err != nil {
		return nil, err
	}

	var grant *models.Grant
	err := r.txMgr.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		var err error
		grant, err = r.Get(ctx, id)
		if err != nil {
			return err
		}

		if in.RoleIDs != nil {
			ids := uniqueIDs(*in.RoleIDs)
			if err := r.roles.ValidateAssignment(ctx, ids, grant.ServiceID); err != nil {
				return err
			}
			grant.RoleIDs = ids
		}
		if in.Status != nil {
			if !in.Status.Valid() {
				return services.NewInvalidInput("invalid grant status")
			}
			grant.Status = *in.Status
		}
		if in.Data != nil {
			grant.Data = in.Data
		}

		if err := r.repos.Grants.Update(ctx, grant); err != nil {
			return mapGrantWriteError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("grant updated", zap.String("grant_id", id.String()), zap.String("status", string(grant.Status)))
	return grant, nil
}

// Delete removes a grant
func (r *GrantRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.repos.Grants.Delete(ctx, id); err != nil {
		return notFoundOr(err, services.ErrGrantNotFound, "failed to delete grant")
	}
	r.logger.Info("grant deleted", zap.String("grant_id", id.String()))
	return nil
}

func validateData(data json.RawMessage) error {
	if len(data) > 0 && !json.Valid(data) {
		return services.NewInvalidInput("grant data must be valid JSON")
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func notFoundOr(err error, notFound *services.DomainError, message string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return notFound
	}
	return services.WrapInternal(message, err)
}

func mapGrantWriteError(err error) error {
	if _, ok := repositories.IsDuplicate(err); ok {
		return services.NewConflict("grant")
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrNotFound
	}
	return services.WrapInternal("failed to save grant", err)
}
