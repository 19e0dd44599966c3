// Package credential issues, consumes and retires single-use opaque credentials.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/config"
	"github.com/upb/identity-authority/internal/observability"
	"github.com/upb/identity-authority/internal/security"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/services"
	"go.uber.org/zap"
)

// Origin describes where a credential request came from
type Origin struct {
	IPAddress string
	UserAgent string
}

// Store owns the credential lifecycle. Only SHA-256 digests are persisted.
type Store struct {
	tokens    repositories.TokenRepository
	ttls      map[models.TokenKind]time.Duration
	retention time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore creates a credential store with the kind TTLs from cfg
func NewStore(tokens repositories.TokenRepository, cfg config.AuthConfig, metrics *observability.Metrics, logger *zap.Logger) *Store {
	return &Store{
		tokens: tokens,
		ttls: map[models.TokenKind]time.Duration{
			models.TokenKindRefresh:       cfg.RefreshTokenTTL,
			models.TokenKindVerification:  cfg.VerificationTokenTTL,
			models.TokenKindPasswordReset: cfg.PasswordResetTokenTTL,
		},
		retention: cfg.CredentialRetention,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// TTL returns the lifetime of credentials of kind
func (s *Store) TTL(kind models.TokenKind) time.Duration {
	return s.ttls[kind]
}

// Issue generates a new credential and returns its plaintext value, which is
// never stored and cannot be recovered later.
func (s *Store) Issue(ctx context.Context, kind models.TokenKind, userID uuid.UUID, serviceID *uuid.UUID, origin Origin) (string, *models.Token, error) {
	ttl, ok := s.ttls[kind]
	if !ok || ttl <= 0 {
		return "", nil, services.NewInvalidInput(fmt.Sprintf("unsupported credential kind %q", kind))
	}

	value, err := security.RandomToken(security.MinTokenBytes)
	if err != nil {
		return "", nil, services.WrapInternal("failed to generate credential", err)
	}

	token := models.NewToken(userID, kind, security.SHA256Hex(value), ttl, models.TokenMetadata{
		ServiceID: serviceID,
		IPAddress: origin.IPAddress,
		UserAgent: origin.UserAgent,
	})
	token.CreatedAt = s.now()
	token.ExpiresAt = token.CreatedAt.Add(ttl)

	if err := s.tokens.Create(ctx, token); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", nil, services.ErrUserNotFound
		}
		return "", nil, services.WrapInternal("failed to store credential", err)
	}

	s.metrics.ObserveIssued(string(kind))
	s.logger.Debug("credential issued",
		zap.String("kind", string(kind)),
		zap.String("user_id", userID.String()),
	)
	return value, token, nil
}

// Consume atomically removes the credential matching value and kind.
// An expired credential is removed as well and reported as ErrExpired.
// Of several concurrent callers at most one succeeds; the rest get ErrNotFound.
func (s *Store) Consume(ctx context.Context, value string, kind models.TokenKind) (*models.Token, error) {
	if value == "" {
		return nil, services.ErrNotFound
	}

	token, err := s.tokens.Consume(ctx, security.SHA256Hex(value), kind)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrNotFound
		}
		return nil, services.WrapInternal("failed to consume credential", err)
	}

	if token.IsExpired(s.now()) {
		s.logger.Debug("expired credential presented",
			zap.String("kind", string(kind)),
			zap.String("user_id", token.UserID.String()),
		)
		return nil, services.ErrExpired
	}

	return token, nil
}

// RevokeAll deletes every credential of kind held by the user
func (s *Store) RevokeAll(ctx context.Context, userID uuid.UUID, kind models.TokenKind) (int64, error) {
	n, err := s.tokens.DeleteByUserAndKind(ctx, userID, kind)
	if err != nil {
		return 0, services.WrapInternal("failed to revoke credentials", err)
	}
	if n > 0 {
		s.logger.Info("credentials revoked",
			zap.String("kind", string(kind)),
			zap.String("user_id", userID.String()),
			zap.Int64("count", n),
		)
	}
	return n, nil
}

// Sweep deletes every credential older than the retention window, whatever its kind or expiry
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.tokens.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, services.WrapInternal("failed to sweep credentials", err)
	}
	s.metrics.ObserveSwept(n)
	return n, nil
}
