package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionUserRegistered    AuditAction = "user.registered"
	AuditActionUserLogin         AuditAction = "user.login"
	AuditActionUserLogout        AuditAction = "user.logout"
	AuditActionTokenRefreshed    AuditAction = "token.refreshed"
	AuditActionEmailVerified     AuditAction = "user.email_verified"
	AuditActionPasswordChanged   AuditAction = "user.password_changed"
	AuditActionPasswordReset     AuditAction = "user.password_reset"
	AuditActionProfileUpdated    AuditAction = "user.profile_updated"
	AuditActionUserUpdated       AuditAction = "user.updated"
	AuditActionUserDeleted       AuditAction = "user.deleted"
	AuditActionServiceCreated    AuditAction = "service.created"
	AuditActionServiceUpdated    AuditAction = "service.updated"
	AuditActionServiceRotated    AuditAction = "service.credentials_rotated"
	AuditActionServiceDeleted    AuditAction = "service.deleted"
	AuditActionServiceIntrospect AuditAction = "service.introspect"
	AuditActionRoleCreated       AuditAction = "role.created"
	AuditActionRoleUpdated       AuditAction = "role.updated"
	AuditActionRoleDeleted       AuditAction = "role.deleted"
	AuditActionGrantCreated      AuditAction = "grant.created"
	AuditActionGrantUpdated      AuditAction = "grant.updated"
	AuditActionGrantDeleted      AuditAction = "grant.deleted"

	// Permission-gated reads
	AuditActionUsersListed     AuditAction = "user.listed"
	AuditActionUserViewed      AuditAction = "user.viewed"
	AuditActionServicesListed  AuditAction = "service.listed"
	AuditActionServiceViewed   AuditAction = "service.viewed"
	AuditActionRolesListed     AuditAction = "role.listed"
	AuditActionRoleViewed      AuditAction = "role.viewed"
	AuditActionGrantsListed    AuditAction = "grant.listed"
	AuditActionGrantViewed     AuditAction = "grant.viewed"
	AuditActionAuditQueried    AuditAction = "audit.queried"
	AuditActionAuditViewed     AuditAction = "audit.viewed"
	AuditActionAuditSummarized AuditAction = "audit.summarized"
)

// AuditLog is an immutable record of a security-relevant action
type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	ServiceID  *uuid.UUID      `json:"service_id,omitempty" db:"service_id"`
	Action     AuditAction     `json:"action" db:"action"`
	Details    json.RawMessage `json:"details" db:"details"` // JSONB, redacted
	IPAddress  string          `json:"ip_address" db:"ip_address"`
	UserAgent  string          `json:"user_agent" db:"user_agent"`
	RequestID  string          `json:"request_id" db:"request_id"`
	StatusCode *int            `json:"status_code,omitempty" db:"status_code"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

// WithService sets the service ID
func (a *AuditLog) WithService(serviceID uuid.UUID) *AuditLog {
	a.ServiceID = &serviceID
	return a
}

// WithUser sets the user ID
func (a *AuditLog) WithUser(userID uuid.UUID) *AuditLog {
	a.UserID = &userID
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// WithStatus sets the response status code
func (a *AuditLog) WithStatus(statusCode int) *AuditLog {
	a.StatusCode = &statusCode
	return a
}

// AuditFilter narrows audit queries. Zero values are ignored.
type AuditFilter struct {
	UserID    *uuid.UUID
	ServiceID *uuid.UUID
	Action    AuditAction
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// AuditGroupBy selects the dimension of an audit summary
type AuditGroupBy string

const (
	AuditGroupByAction  AuditGroupBy = "action"
	AuditGroupByService AuditGroupBy = "service"
	AuditGroupByUser    AuditGroupBy = "user"
	AuditGroupByDay     AuditGroupBy = "day"
)

// Valid reports whether g is a supported grouping
func (g AuditGroupBy) Valid() bool {
	switch g {
	case AuditGroupByAction, AuditGroupByService, AuditGroupByUser, AuditGroupByDay:
		return true
	}
	return false
}

// AuditSummaryBucket is one row of an audit summary
type AuditSummaryBucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}
