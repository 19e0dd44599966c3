package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/authz"
	"github.com/upb/identity-authority/utils"
	"go.uber.org/zap"
)

// Authenticator resolves callers and evaluates gates. *authz.Resolver implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*authz.AuthContext, error)
	AuthenticateService(ctx context.Context, apiKey, apiSecret string) (*authz.AuthContext, error)
	RequirePermission(ac *authz.AuthContext, perm string) error
	RequireRole(ac *authz.AuthContext, role string) error
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	authenticator Authenticator
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(authenticator Authenticator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		logger:        logger,
	}
}

// AuthTokenCookieName is the cookie consulted when no Authorization header is sent
const AuthTokenCookieName = "auth_token"

// Service credential headers
const (
	APIKeyHeader    = "X-API-Key"
	APISecretHeader = "X-API-Secret"
)

// RequireAuth is a middleware that requires a valid access token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteError(w, http.StatusUnauthorized, string(services.CodeInvalidToken), "Missing or invalid authorization", nil)
			return
		}

		ac, err := m.authenticator.Authenticate(ctx, token)
		if err != nil {
			m.logger.Warn("authentication failed",
				zap.String("request_id", requestID),
				zap.String("code", string(services.GetErrorCode(err))),
				zap.Error(err))
			_ = utils.WriteDomainError(w, err)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.Stringer("user_id", ac.User.ID),
			zap.String("scope", string(ac.Scope())))

		next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, ac)))
	})
}

// RequireServiceAuth is a middleware that requires a service API key and secret
func (m *AuthMiddleware) RequireServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		apiSecret := strings.TrimSpace(r.Header.Get(APISecretHeader))
		if apiKey == "" || apiSecret == "" {
			m.logger.Warn("missing service credentials",
				zap.String("request_id", requestID))
			_ = utils.WriteError(w, http.StatusUnauthorized, string(services.CodeInvalidAPIKey), "Missing service credentials", nil)
			return
		}

		ac, err := m.authenticator.AuthenticateService(ctx, apiKey, apiSecret)
		if err != nil {
			m.logger.Warn("service authentication failed",
				zap.String("request_id", requestID),
				zap.String("code", string(services.GetErrorCode(err))))
			_ = utils.WriteDomainError(w, err)
			return
		}

		m.logger.Debug("service authenticated",
			zap.String("request_id", requestID),
			zap.Stringer("service_id", ac.Service.ID))

		next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, ac)))
	})
}

// RequirePermission is a middleware that requires a permission in the
// caller's effective set. It must run after RequireAuth.
func (m *AuthMiddleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return m.gate(func(ac *authz.AuthContext) error {
		return m.authenticator.RequirePermission(ac, perm)
	}, zap.String("required_permission", perm))
}

// RequireRole is a middleware that requires a role by name. It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.gate(func(ac *authz.AuthContext) error {
		return m.authenticator.RequireRole(ac, role)
	}, zap.String("required_role", role))
}

func (m *AuthMiddleware) gate(check func(*authz.AuthContext) error, field zap.Field) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			ac := GetAuthContextFromContext(ctx)
			if ac == nil {
				m.logger.Error("auth context not found",
					zap.String("request_id", requestID))
				_ = utils.WriteError(w, http.StatusUnauthorized, "", "Authentication required", nil)
				return
			}

			if err := check(ac); err != nil {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					field,
					zap.Strings("roles", ac.RoleNames()))
				_ = utils.WriteDomainError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken extracts the JWT from the Authorization header ("Bearer TOKEN")
// or the auth_token cookie. The header takes precedence.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(AuthTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
