// Package authz resolves bearer and service credentials into an authorization
// context and gates operations on it.
package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/config"
	"github.com/upb/identity-authority/internal/observability"
	"github.com/upb/identity-authority/internal/security"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/rbac"
	"go.uber.org/zap"
)

// AccessToken is a signed access token with its expiry
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	TTL       time.Duration
}

// Resolver maps presented credentials to an AuthContext. It holds no
// per-request state.
type Resolver struct {
	repos         *repositories.Repositories
	roles         *rbac.Service
	signer        *TokenSigner
	accessTTL     time.Duration
	includeScoped bool
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewResolver creates a resolver
func NewResolver(
	repos *repositories.Repositories,
	roles *rbac.Service,
	signer *TokenSigner,
	cfg config.AuthConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		repos:         repos,
		roles:         roles,
		signer:        signer,
		accessTTL:     cfg.AccessTokenTTL,
		includeScoped: cfg.GlobalScopeIncludeScoped,
		metrics:       metrics,
		logger:        logger,
	}
}

// Authenticate verifies an access token and resolves the principal, scope and permissions
func (r *Resolver) Authenticate(ctx context.Context, bearer string) (*AuthContext, error) {
	ac, err := r.authenticate(ctx, bearer)
	r.observe(err)
	return ac, err
}

func (r *Resolver) authenticate(ctx context.Context, bearer string) (*AuthContext, error) {
	claims, err := r.signer.Parse(bearer)
	if err != nil {
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	serviceID, err := claims.Scope()
	if err != nil {
		return nil, services.ErrInvalidToken.Wrap(err)
	}

	user, err := r.loadPrincipal(ctx, userID)
	if err != nil {
		return nil, err
	}

	ac, err := r.ResolveScope(ctx, user, serviceID)
	if err != nil {
		return nil, err
	}
	ac.TokenID = claims.ID
	return ac, nil
}

// ResolveScope builds the context of an already authenticated, active
// principal. A nil serviceID is global scope.
func (r *Resolver) ResolveScope(ctx context.Context, user *models.User, serviceID *uuid.UUID) (*AuthContext, error) {
	ac := &AuthContext{Method: MethodBearer, User: user}

	if serviceID == nil {
		grants, err := r.repos.Grants.ListByUser(ctx, user.ID)
		if err != nil {
			return nil, services.WrapInternal("failed to load grants", err)
		}
		ac.Roles, ac.Permissions, err = r.roles.Resolve(ctx, grants, nil, r.includeScoped)
		if err != nil {
			return nil, err
		}
		return ac, nil
	}

	svc, err := r.repos.Services.GetByID(ctx, *serviceID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrTenantInactive
		}
		return nil, services.WrapInternal("failed to load service", err)
	}
	if !svc.IsActive {
		return nil, services.ErrTenantInactive
	}

	grant, err := r.repos.Grants.GetForUser(ctx, user.ID, serviceID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrNoAccess
		}
		return nil, services.WrapInternal("failed to load grant", err)
	}
	if !grant.IsActive() {
		return nil, services.ErrGrantSuspended
	}

	ac.Service = svc
	ac.Grant = grant
	ac.Roles, ac.Permissions, err = r.roles.Resolve(ctx, []*models.Grant{grant}, serviceID, false)
	if err != nil {
		return nil, err
	}
	return ac, nil
}

// AuthenticateService verifies a service's API key and secret
func (r *Resolver) AuthenticateService(ctx context.Context, apiKey, apiSecret string) (*AuthContext, error) {
	ac, err := r.authenticateService(ctx, apiKey, apiSecret)
	r.observe(err)
	return ac, err
}

func (r *Resolver) authenticateService(ctx context.Context, apiKey, apiSecret string) (*AuthContext, error) {
	if apiKey == "" {
		return nil, services.ErrInvalidAPIKey
	}
	svc, err := r.repos.Services.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidAPIKey
		}
		return nil, services.WrapInternal("failed to load service", err)
	}
	if apiSecret == "" || !security.ConstantTimeEqual(security.SHA256Hex(apiSecret), svc.APISecretHash) {
		return nil, services.ErrInvalidAPISecret
	}
	if !svc.IsActive {
		return nil, services.ErrTenantInactive
	}
	return &AuthContext{
		Method:      MethodService,
		Service:     svc,
		Permissions: rbac.EffectivePermissions(nil),
	}, nil
}

// Introspect resolves a user's access token within the calling service's
// scope, whatever scope the token itself carries.
func (r *Resolver) Introspect(ctx context.Context, caller *AuthContext, bearer string) (*AuthContext, error) {
	if caller == nil || caller.Method != MethodService || caller.Service == nil {
		return nil, services.ErrForbidden
	}

	claims, err := r.signer.Parse(bearer)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	user, err := r.loadPrincipal(ctx, userID)
	if err != nil {
		return nil, err
	}

	serviceID := caller.Service.ID
	ac, err := r.ResolveScope(ctx, user, &serviceID)
	if err != nil {
		return nil, err
	}
	ac.TokenID = claims.ID
	return ac, nil
}

// RequirePermission allows the call when the context grants perm
func (r *Resolver) RequirePermission(ac *AuthContext, perm string) error {
	if ac == nil || !ac.Permissions.Has(perm) {
		r.metrics.ObserveDecision("denied")
		return services.NewForbidden(perm)
	}
	r.metrics.ObserveDecision("allowed")
	return nil
}

// RequireRole allows the call when the context holds the named role. The
// global admin role satisfies every role requirement.
func (r *Resolver) RequireRole(ac *AuthContext, role string) error {
	if ac == nil || !(ac.HasRole(role) || ac.Permissions.IsAdmin()) {
		r.metrics.ObserveDecision("denied")
		return services.ErrForbidden.WithDetail("role", role)
	}
	r.metrics.ObserveDecision("allowed")
	return nil
}

// IssueAccessToken signs an access token for user, scoped to svc when non-nil.
// A token lifetime in the service config overrides the default lifetime.
func (r *Resolver) IssueAccessToken(user *models.User, svc *models.Service) (*AccessToken, error) {
	ttl := r.accessTTL
	var serviceID *uuid.UUID
	if svc != nil {
		id := svc.ID
		serviceID = &id
		if lifetime := svc.Config.TokenLifetime.Std(); lifetime > 0 {
			ttl = lifetime
		}
	}

	token, expiresAt, err := r.signer.Sign(user.ID, serviceID, ttl)
	if err != nil {
		return nil, services.WrapInternal("failed to sign access token", err)
	}
	return &AccessToken{Token: token, ExpiresAt: expiresAt, TTL: ttl}, nil
}

func (r *Resolver) loadPrincipal(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := r.repos.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrPrincipalNotFound
		}
		return nil, services.WrapInternal("failed to load principal", err)
	}
	if !user.IsActive() {
		return nil, services.ErrPrincipalInactive
	}
	return user, nil
}

func (r *Resolver) observe(err error) {
	if err == nil {
		r.metrics.ObserveDecision("authenticated")
		return
	}
	code := services.GetErrorCode(err)
	if code == "" {
		code = services.CodeInternal
	}
	r.metrics.ObserveDecision(string(code))
	r.logger.Debug("authentication rejected", zap.String("code", string(code)), zap.Error(err))
}
