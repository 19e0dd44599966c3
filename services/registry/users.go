// Package registry is the source of truth for principals, tenant services and grants.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/internal/security"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/credential"
	"go.uber.org/zap"
)

// RegisterInput describes a self-registration
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	Name      string
	ServiceID *uuid.UUID // selects the password policy
}

// ProfileInput is an owner's profile update
type ProfileInput struct {
	Name     *string
	Metadata *models.UserMetadataPatch
}

// AdminUserInput is an administrator's update of status and verification
type AdminUserInput struct {
	Status     *models.UserStatus
	IsVerified *bool
}

// UserRegistry manages principals
type UserRegistry struct {
	repos       *repositories.Repositories
	txMgr       repositories.TransactionManager
	credentials *credential.Store
	hasher      security.Hasher
	notifier    Notifier
	logger      *zap.Logger
}

// NewUserRegistry creates a user registry
func NewUserRegistry(
	repos *repositories.Repositories,
	txMgr repositories.TransactionManager,
	credentials *credential.Store,
	hasher security.Hasher,
	notifier Notifier,
	logger *zap.Logger,
) *UserRegistry {
	return &UserRegistry{
		repos:       repos,
		txMgr:       txMgr,
		credentials: credentials,
		hasher:      hasher,
		notifier:    notifier,
		logger:      logger,
	}
}

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a pending principal with a global grant holding the user
// role, and sends a verification credential.
func (r *UserRegistry) Register(ctx context.Context, in RegisterInput, origin credential.Origin) (*models.User, error) {
	policy, err := r.passwordPolicy(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(policy, in.Password); err != nil {
		return nil, err
	}

	hash, err := r.hasher.Hash(in.Password)
	if err != nil {
		return nil, services.WrapInternal("failed to hash password", err)
	}

	user := models.NewUser(strings.TrimSpace(in.Username), NormalizeEmail(in.Email), strings.TrimSpace(in.Name), hash)

	type registered struct {
		user  *models.User
		token string
	}
	res, err := services.WithTransactionResult(ctx, r.txMgr, func(ctx context.Context, tx repositories.Transaction) (registered, error) {
		if err := r.repos.Users.Create(ctx, user); err != nil {
			return registered{}, mapUserWriteError(err)
		}

		roleIDs := []uuid.UUID{}
		userRole, err := r.repos.Roles.GetGlobalByName(ctx, models.RoleUser)
		switch {
		case err == nil:
			roleIDs = append(roleIDs, userRole.ID)
		case !errors.Is(err, repositories.ErrNotFound):
			return registered{}, services.WrapInternal("failed to load user role", err)
		}
		if err := r.repos.Grants.Create(ctx, models.NewGrant(user.ID, nil, roleIDs)); err != nil {
			return registered{}, services.WrapInternal("failed to create global grant", err)
		}

		token, _, err := r.credentials.Issue(ctx, models.TokenKindVerification, user.ID, in.ServiceID, origin)
		if err != nil {
			return registered{}, err
		}
		return registered{user: user, token: token}, nil
	})
	if err != nil {
		return nil, err
	}

	if err := r.notifier.SendVerification(ctx, res.user, res.token); err != nil {
		r.logger.Error("failed to send verification", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	r.logger.Info("user registered", zap.String("user_id", user.ID.String()), zap.String("username", user.Username))
	return res.user, nil
}

// VerifyEmail consumes a verification credential and activates a pending principal.
// Consumption is not rolled back when the update fails.
func (r *UserRegistry) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	cred, err := r.credentials.Consume(ctx, token, models.TokenKindVerification)
	if err != nil {
		return nil, err
	}

	user, err := r.Get(ctx, cred.UserID)
	if err != nil {
		return nil, err
	}
	user.Verify()
	if err := r.repos.Users.Update(ctx, user); err != nil {
		return nil, mapUserWriteError(err)
	}

	r.logger.Info("email verified", zap.String("user_id", user.ID.String()))
	return user, nil
}

// ResendVerification replaces outstanding verification credentials with a new one.
// Unknown or already verified addresses are ignored without error.
func (r *UserRegistry) ResendVerification(ctx context.Context, email string, origin credential.Origin) error {
	user, err := r.repos.Users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return services.WrapInternal("failed to get user", err)
	}
	if user.IsVerified {
		return nil
	}

	token, err := r.reissue(ctx, user.ID, models.TokenKindVerification, origin)
	if err != nil {
		return err
	}
	if err := r.notifier.SendVerification(ctx, user, token); err != nil {
		r.logger.Error("failed to send verification", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	return nil
}

// RequestPasswordReset issues a password reset credential. It never reveals
// whether the address is registered.
func (r *UserRegistry) RequestPasswordReset(ctx context.Context, email string, origin credential.Origin) error {
	user, err := r.repos.Users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			r.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return services.WrapInternal("failed to get user", err)
	}

	token, err := r.reissue(ctx, user.ID, models.TokenKindPasswordReset, origin)
	if err != nil {
		return err
	}
	if err := r.notifier.SendPasswordReset(ctx, user, token); err != nil {
		r.logger.Error("failed to send password reset", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	return nil
}

func (r *UserRegistry) reissue(ctx context.Context, userID uuid.UUID, kind models.TokenKind, origin credential.Origin) (string, error) {
	var token string
	err := r.txMgr.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		if _, err := r.credentials.RevokeAll(ctx, userID, kind); err != nil {
			return err
		}
		var err error
		token, _, err = r.credentials.Issue(ctx, kind, userID, nil, origin)
		return err
	})
	return token, err
}

// ResetPassword consumes a reset credential, sets the new password and
// revokes every refresh credential of the principal.
func (r *UserRegistry) ResetPassword(ctx context.Context, token, newPassword string) (*models.User, error) {
	if err := ValidatePassword(models.DefaultPasswordPolicy(), newPassword); err != nil {
		return nil, err
	}

	cred, err := r.credentials.Consume(ctx, token, models.TokenKindPasswordReset)
	if err != nil {
		return nil, err
	}
	user, err := r.Get(ctx, cred.UserID)
	if err != nil {
		return nil, err
	}

	err = r.txMgr.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		return r.setPassword(ctx, user, newPassword)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("password reset", zap.String("user_id", user.ID.String()))
	return user, nil
}

// ChangePassword verifies the current password, sets the new one and revokes
// every refresh credential of the principal.
func (r *UserRegistry) ChangePassword(ctx context.Context, userID uuid.UUID, current, newPassword string) error {
	user, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !r.hasher.Matches(user.PasswordHash, current) {
		return services.ErrInvalidCredentials
	}
	if err := ValidatePassword(models.DefaultPasswordPolicy(), newPassword); err != nil {
		return err
	}

	err = r.txMgr.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		return r.setPassword(ctx, user, newPassword)
	})
	if err != nil {
		return err
	}

	r.logger.Info("password changed", zap.String("user_id", userID.String()))
	return nil
}

func (r *UserRegistry) setPassword(ctx context.Context, user *models.User, password string) error {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return services.WrapInternal("failed to hash password", err)
	}
	if err := r.repos.Users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return mapUserWriteError(err)
	}
	user.PasswordHash = hash
	_, err = r.credentials.RevokeAll(ctx, user.ID, models.TokenKindRefresh)
	return err
}

// VerifyCredentials checks a login (username or email) and password. Unknown
// logins and wrong passwords are indistinguishable.
func (r *UserRegistry) VerifyCredentials(ctx context.Context, login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		login = NormalizeEmail(login)
	}

	user, err := r.repos.Users.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidCredentials
		}
		return nil, services.WrapInternal("failed to get user", err)
	}
	if !r.hasher.Matches(user.PasswordHash, password) {
		return nil, services.ErrInvalidCredentials
	}
	return user, nil
}

// Get returns a principal by id
func (r *UserRegistry) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := r.repos.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("failed to get user", err)
	}
	return user, nil
}

// List returns a page of principals
func (r *UserRegistry) List(ctx context.Context, opts repositories.ListOptions) ([]*models.User, error) {
	users, err := r.repos.Users.List(ctx, opts)
	if err != nil {
		return nil, services.WrapInternal("failed to list users", err)
	}
	return users, nil
}

// UpdateProfile applies an owner's profile changes
func (r *UserRegistry) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*models.User, error) {
	user, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		user.Name = strings.TrimSpace(*in.Name)
	}
	if in.Metadata != nil {
		user.Metadata = models.MergeUserMetadata(user.Metadata, *in.Metadata)
	}
	if err := r.repos.Users.Update(ctx, user); err != nil {
		return nil, mapUserWriteError(err)
	}
	return user, nil
}

// AdminUpdate changes status or verification. Verifying a pending principal activates it.
func (r *UserRegistry) AdminUpdate(ctx context.Context, id uuid.UUID, in AdminUserInput) (*models.User, error) {
	user, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.IsVerified != nil {
		if *in.IsVerified {
			user.Verify()
		} else {
			user.IsVerified = false
		}
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, services.NewInvalidInput("invalid user status")
		}
		user.Status = *in.Status
	}
	user.UpdatedAt = time.Now().UTC()

	if err := r.repos.Users.Update(ctx, user); err != nil {
		return nil, mapUserWriteError(err)
	}

	r.logger.Info("user updated by administrator",
		zap.String("user_id", user.ID.String()),
		zap.String("status", string(user.Status)),
	)
	return user, nil
}

// Delete removes a principal together with its grants and credentials
func (r *UserRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.repos.Users.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrUserNotFound
		}
		return services.WrapInternal("failed to delete user", err)
	}
	r.logger.Info("user deleted", zap.String("user_id", id.String()))
	return nil
}

// TouchLastLogin records a successful authentication
func (r *UserRegistry) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	if err := r.repos.Users.TouchLastLogin(ctx, id, time.Now().UTC()); err != nil {
		return services.WrapInternal("failed to update last login", err)
	}
	return nil
}

func (r *UserRegistry) passwordPolicy(ctx context.Context, serviceID *uuid.UUID) (models.PasswordPolicy, error) {
	if serviceID == nil {
		return models.DefaultPasswordPolicy(), nil
	}
	svc, err := r.repos.Services.GetByID(ctx, *serviceID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.PasswordPolicy{}, services.ErrServiceNotFound
		}
		return models.PasswordPolicy{}, services.WrapInternal("failed to get service", err)
	}
	if !svc.IsActive {
		return models.PasswordPolicy{}, services.ErrTenantInactive
	}
	return svc.Config.PasswordPolicy, nil
}

func mapUserWriteError(err error) error {
	if field, ok := repositories.IsDuplicate(err); ok {
		return services.NewConflict(field)
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrUserNotFound
	}
	return services.WrapInternal("failed to save user", err)
}
