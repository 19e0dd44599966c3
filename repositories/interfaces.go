package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
)

// TransactionManager manages store transactions. The transaction is carried
// in the context passed to fn, so repository calls made with that context
// join it.
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a store transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// ListOptions is the pagination shared by list queries
type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository handles principal data operations
type UserRepository interface {
	// Create inserts a user. Returns *DuplicateError on username or email collision.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByLogin retrieves a user by username or email
	GetByLogin(ctx context.Context, login string) (*models.User, error)

	// List retrieves users with pagination
	List(ctx context.Context, opts ListOptions) ([]*models.User, error)

	// Update persists mutable fields (name, status, verification, metadata)
	Update(ctx context.Context, user *models.User) error

	// UpdatePassword replaces the stored password hash
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	// TouchLastLogin sets the last-authenticated timestamp
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	// Delete deletes a user and, by cascade, its grants and tokens
	Delete(ctx context.Context, id uuid.UUID) error
}

// ServiceRepository handles tenant data operations
type ServiceRepository interface {
	// Create inserts a service. Returns *DuplicateError on name or api key collision.
	Create(ctx context.Context, service *models.Service) error

	// GetByID retrieves a service by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Service, error)

	// GetByAPIKey retrieves a service by its public API key
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Service, error)

	// List retrieves services with pagination
	List(ctx context.Context, opts ListOptions) ([]*models.Service, error)

	// Update persists name, description, active flag and config
	Update(ctx context.Context, service *models.Service) error

	// RotateCredentials replaces the key/secret pair in a single write
	RotateCredentials(ctx context.Context, id uuid.UUID, apiKey, apiSecretHash string) error

	// Delete deletes a service, its scoped roles and its grants
	Delete(ctx context.Context, id uuid.UUID) error
}

// RoleRepository handles role data operations
type RoleRepository interface {
	// Create inserts a role. Returns *DuplicateError when (name, service) exists.
	Create(ctx context.Context, role *models.Role) error

	// GetByID retrieves a role by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error)

	// GetGlobalByName retrieves a global role by name
	GetGlobalByName(ctx context.Context, name string) (*models.Role, error)

	// GetByIDs retrieves every existing role among ids. Missing ids are skipped.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Role, error)

	// List retrieves roles. A nil serviceID with globalOnly lists only global roles;
	// a non-nil serviceID lists roles scoped to that service.
	List(ctx context.Context, serviceID *uuid.UUID, globalOnly bool, opts ListOptions) ([]*models.Role, error)

	// Update persists every mutable field of the role
	Update(ctx context.Context, role *models.Role) error

	// Delete removes a role. Returns ErrReferenced if any grant still holds it.
	Delete(ctx context.Context, id uuid.UUID) error
}

// GrantRepository handles user/service grant data operations
type GrantRepository interface {
	// Create inserts a grant. Returns *DuplicateError when the (user, service) pair exists.
	Create(ctx context.Context, grant *models.Grant) error

	// GetByID retrieves a grant by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Grant, error)

	// GetForUser retrieves the grant for (userID, serviceID); a nil serviceID selects the global grant
	GetForUser(ctx context.Context, userID uuid.UUID, serviceID *uuid.UUID) (*models.Grant, error)

	// ListByUser retrieves every grant held by a user
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Grant, error)

	// ListByService retrieves grants for a service with pagination
	ListByService(ctx context.Context, serviceID uuid.UUID, opts ListOptions) ([]*models.Grant, error)

	// Update persists roles, status and data
	Update(ctx context.Context, grant *models.Grant) error

	// Delete deletes a grant
	Delete(ctx context.Context, id uuid.UUID) error
}

// TokenRepository handles stored credential operations
type TokenRepository interface {
	// Create persists a credential
	Create(ctx context.Context, token *models.Token) error

	// Consume atomically deletes and returns the credential matching (valueHash, kind).
	// At most one concurrent caller observes the record; the rest get ErrNotFound.
	Consume(ctx context.Context, valueHash string, kind models.TokenKind) (*models.Token, error)

	// DeleteByUserAndKind deletes every credential of kind for the user
	DeleteByUserAndKind(ctx context.Context, userID uuid.UUID, kind models.TokenKind) (int64, error)

	// DeleteCreatedBefore deletes every credential created before cutoff
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRepository handles audit log data operations. Records are append-only.
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// Query retrieves audit logs matching the filter, newest first
	Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLog, error)

	// Summary counts audit logs matching the filter grouped by the given dimension
	Summary(ctx context.Context, filter models.AuditFilter, groupBy models.AuditGroupBy) ([]models.AuditSummaryBucket, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users     UserRepository
	Services  ServiceRepository
	Roles     RoleRepository
	Grants    GrantRepository
	Tokens    TokenRepository
	AuditLogs AuditRepository
}
