package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/credential"
	"github.com/upb/identity-authority/services/registry"
	"go.uber.org/zap"
)

// TokenPair is returned by login and refresh
type TokenPair struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	Scope        Scope      `json:"scope"`
	ServiceID    *uuid.UUID `json:"service_id,omitempty"`
}

// LoginInput is a password login, optionally scoped to a service
type LoginInput struct {
	Login     string
	Password  string
	ServiceID *uuid.UUID
}

// Sessions runs the login, refresh rotation and logout flows
type Sessions struct {
	resolver    *Resolver
	users       *registry.UserRegistry
	credentials *credential.Store
	logger      *zap.Logger
}

// NewSessions creates the session flows
func NewSessions(resolver *Resolver, users *registry.UserRegistry, credentials *credential.Store, logger *zap.Logger) *Sessions {
	return &Sessions{
		resolver:    resolver,
		users:       users,
		credentials: credentials,
		logger:      logger,
	}
}

// Login checks the password, runs the scope checks and issues an access
// token with a refresh credential.
func (s *Sessions) Login(ctx context.Context, in LoginInput, origin credential.Origin) (*TokenPair, *AuthContext, error) {
	user, err := s.users.VerifyCredentials(ctx, in.Login, in.Password)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive() {
		return nil, nil, services.ErrPrincipalInactive
	}

	ac, err := s.resolver.ResolveScope(ctx, user, in.ServiceID)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issue(ctx, ac, origin)
	if err != nil {
		return nil, nil, err
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to record last login", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	s.logger.Info("user logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("scope", string(ac.Scope())),
	)
	return pair, ac, nil
}

// Refresh consumes a refresh credential and issues a new pair for the same
// scope. The principal and, when scoped, the grant are checked again.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string, origin credential.Origin) (*TokenPair, *AuthContext, error) {
	cred, err := s.credentials.Consume(ctx, refreshToken, models.TokenKindRefresh)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrExpired):
			return nil, nil, services.ErrTokenExpired
		case errors.Is(err, services.ErrNotFound):
			return nil, nil, services.ErrInvalidToken
		}
		return nil, nil, err
	}

	user, err := s.resolver.loadPrincipal(ctx, cred.UserID)
	if err != nil {
		return nil, nil, err
	}

	ac, err := s.resolver.ResolveScope(ctx, user, cred.Metadata.ServiceID)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issue(ctx, ac, origin)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Debug("refresh token rotated", zap.String("user_id", user.ID.String()))
	return pair, ac, nil
}

// Logout revokes refresh credentials. With a refresh token only that one is
// consumed; otherwise every refresh credential of the user is revoked.
func (s *Sessions) Logout(ctx context.Context, userID uuid.UUID, refreshToken string) (int64, error) {
	if refreshToken != "" {
		cred, err := s.credentials.Consume(ctx, refreshToken, models.TokenKindRefresh)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrExpired) {
				return 0, nil
			}
			return 0, err
		}
		if cred.UserID != userID {
			return 0, services.ErrInvalidToken
		}
		return 1, nil
	}

	n, err := s.credentials.RevokeAll(ctx, userID, models.TokenKindRefresh)
	if err != nil {
		return 0, err
	}
	s.logger.Info("user logged out", zap.String("user_id", userID.String()), zap.Int64("revoked", n))
	return n, nil
}

func (s *Sessions) issue(ctx context.Context, ac *AuthContext, origin credential.Origin) (*TokenPair, error) {
	access, err := s.resolver.IssueAccessToken(ac.User, ac.Service)
	if err != nil {
		return nil, err
	}

	serviceID := ac.ServiceID()
	refresh, _, err := s.credentials.Issue(ctx, models.TokenKindRefresh, ac.User.ID, serviceID, origin)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(access.TTL.Seconds()),
		ExpiresAt:    access.ExpiresAt,
		RefreshToken: refresh,
		Scope:        ac.Scope(),
		ServiceID:    serviceID,
	}, nil
}
