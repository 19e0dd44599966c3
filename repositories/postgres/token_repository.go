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

// TokenRepository implements the repositories.TokenRepository interface
type TokenRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB, logger *zap.Logger) repositories.TokenRepository {
	return &TokenRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a credential
func (r *TokenRepository) Create(ctx context.Context, token *models.Token) error {
	query := `
		INSERT INTO tokens (id, user_id, value_hash, kind, expires_at, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.ValueHash,
		token.Kind,
		token.ExpiresAt,
		token.Metadata,
		token.CreatedAt,
	)
	if err != nil {
		return mapWriteError("failed to create token", err)
	}

	r.logger.Debug("token created",
		zap.String("id", token.ID.String()),
		zap.String("kind", string(token.Kind)),
	)
	return nil
}

// Consume deletes and returns the matching credential in one statement. Postgres
// row locking guarantees that of several concurrent callers only one gets a row back.
func (r *TokenRepository) Consume(ctx context.Context, valueHash string, kind models.TokenKind) (*models.Token, error) {
	query := `
		DELETE FROM tokens
		WHERE value_hash = $1 AND kind = $2
		RETURNING id, user_id, value_hash, kind, expires_at, metadata, created_at
	`

	executor := GetExecutor(ctx, r.db)
	token := &models.Token{}
	err := executor.QueryRowContext(ctx, query, valueHash, kind).Scan(
		&token.ID,
		&token.UserID,
		&token.ValueHash,
		&token.Kind,
		&token.ExpiresAt,
		&token.Metadata,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}

	r.logger.Debug("token consumed", zap.String("id", token.ID.String()), zap.String("kind", string(kind)))
	return token, nil
}

// DeleteByUserAndKind deletes every credential of kind for the user
func (r *TokenRepository) DeleteByUserAndKind(ctx context.Context, userID uuid.UUID, kind models.TokenKind) (int64, error) {
	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, `DELETE FROM tokens WHERE user_id = $1 AND kind = $2`, userID, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}

	r.logger.Debug("tokens revoked",
		zap.String("user_id", userID.String()),
		zap.String("kind", string(kind)),
		zap.Int64("count", n),
	)
	return n, nil
}

// DeleteCreatedBefore deletes every credential created before cutoff
func (r *TokenRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, `DELETE FROM tokens WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tokens: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tokens: %w", err)
	}
	return n, nil
}
