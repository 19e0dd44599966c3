package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/identity-authority/services/authz"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// AuthContextKey is the context key for the resolved authorization context
	AuthContextKey contextKey = "auth_context"

	// auditSubjectKey holds the mutable subject filled in by unauthenticated handlers
	auditSubjectKey contextKey = "audit_subject"
)

// GetRequestIDFromContext retrieves the request ID from context. It falls
// back to the ID set by chi's RequestID middleware.
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetAuthContextFromContext retrieves the authorization context
func GetAuthContextFromContext(ctx context.Context) *authz.AuthContext {
	if val := ctx.Value(AuthContextKey); val != nil {
		if ac, ok := val.(*authz.AuthContext); ok {
			return ac
		}
	}
	return nil
}

// WithAuthContext adds the authorization context to the context
func WithAuthContext(ctx context.Context, ac *authz.AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}

// GetUserIDFromContext returns the authenticated user's ID, or nil
func GetUserIDFromContext(ctx context.Context) *uuid.UUID {
	return GetAuthContextFromContext(ctx).UserID()
}

// GetServiceIDFromContext returns the scoped service's ID, or nil
func GetServiceIDFromContext(ctx context.Context) *uuid.UUID {
	return GetAuthContextFromContext(ctx).ServiceID()
}

type auditSubject struct {
	userID    *uuid.UUID
	serviceID *uuid.UUID
}

// SetAuditSubject names the principal and service an audited request acted
// on when the request itself was unauthenticated (login, registration).
// It is a no-op outside an Audit-wrapped handler.
func SetAuditSubject(ctx context.Context, userID, serviceID *uuid.UUID) {
	s, ok := ctx.Value(auditSubjectKey).(*auditSubject)
	if !ok {
		return
	}
	if userID != nil {
		s.userID = userID
	}
	if serviceID != nil {
		s.serviceID = serviceID
	}
}
