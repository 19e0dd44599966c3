package registry

import (
	"context"

	"github.com/upb/identity-authority/models"
	"go.uber.org/zap"
)

// Notifier delivers credentials to their owners out of band
type Notifier interface {
	SendVerification(ctx context.Context, user *models.User, token string) error
	SendPasswordReset(ctx context.Context, user *models.User, token string) error
}

// LogNotifier writes deliveries to the log. Token values are only logged at debug level.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendVerification logs a verification delivery
func (n *LogNotifier) SendVerification(ctx context.Context, user *models.User, token string) error {
	n.logger.Info("verification email queued", zap.String("user_id", user.ID.String()), zap.String("email", user.Email))
	n.logger.Debug("verification token", zap.String("user_id", user.ID.String()), zap.String("token", token))
	return nil
}

// SendPasswordReset logs a password reset delivery
func (n *LogNotifier) SendPasswordReset(ctx context.Context, user *models.User, token string) error {
	n.logger.Info("password reset email queued", zap.String("user_id", user.ID.String()), zap.String("email", user.Email))
	n.logger.Debug("password reset token", zap.String("user_id", user.ID.String()), zap.String("token", token))
	return nil
}
