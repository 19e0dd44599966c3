package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error. It decides the HTTP class.
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
)

// ErrorCode is the fine-grained failure reason within a type
type ErrorCode string

const (
	CodeInvalidToken       ErrorCode = "invalid_token"
	CodeTokenExpired       ErrorCode = "token_expired"
	CodePrincipalNotFound  ErrorCode = "principal_not_found"
	CodePrincipalInactive  ErrorCode = "principal_inactive"
	CodeTenantInactive     ErrorCode = "tenant_inactive"
	CodeNoAccess           ErrorCode = "no_access"
	CodeGrantSuspended     ErrorCode = "grant_suspended"
	CodeForbidden          ErrorCode = "forbidden"
	CodeInvalidAPIKey      ErrorCode = "invalid_api_key"
	CodeInvalidAPISecret   ErrorCode = "invalid_api_secret"
	CodeConflict           ErrorCode = "conflict"
	CodeInvalidRole        ErrorCode = "invalid_role"
	CodeInUse              ErrorCode = "in_use"
	CodeNotFound           ErrorCode = "not_found"
	CodeExpired            ErrorCode = "expired"
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	CodeProtectedRole      ErrorCode = "protected_role"
	CodeWeakPassword       ErrorCode = "weak_password"
	CodeInvalidInput       ErrorCode = "invalid_input"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeInternal           ErrorCode = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. A target with a Code matches on Code, otherwise on Type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Type == t.Type
}

// WithDetail returns a copy of the error carrying the extra detail.
// Sentinels are shared, so they are never mutated in place.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// Wrap returns a copy of the error with err as its cause
func (e *DomainError) Wrap(err error) *DomainError {
	out := *e
	out.Err = err
	return &out
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

func newCoded(errType ErrorType, code ErrorCode, message string) *DomainError {
	e := NewDomainError(errType, message, nil)
	e.Code = code
	return e
}

// Domain error variables

var (
	// Authentication
	ErrInvalidToken       = newCoded(ErrorTypeUnauthorized, CodeInvalidToken, "invalid authentication token")
	ErrTokenExpired       = newCoded(ErrorTypeUnauthorized, CodeTokenExpired, "authentication token expired")
	ErrPrincipalNotFound  = newCoded(ErrorTypeUnauthorized, CodePrincipalNotFound, "principal not found")
	ErrInvalidAPIKey      = newCoded(ErrorTypeUnauthorized, CodeInvalidAPIKey, "invalid API key")
	ErrInvalidAPISecret   = newCoded(ErrorTypeUnauthorized, CodeInvalidAPISecret, "invalid API secret")
	ErrInvalidCredentials = newCoded(ErrorTypeUnauthorized, CodeInvalidCredentials, "invalid credentials")

	// Authorization
	ErrPrincipalInactive = newCoded(ErrorTypeForbidden, CodePrincipalInactive, "principal is not active")
	ErrTenantInactive    = newCoded(ErrorTypeForbidden, CodeTenantInactive, "service is not active")
	ErrNoAccess          = newCoded(ErrorTypeForbidden, CodeNoAccess, "no access to service")
	ErrGrantSuspended    = newCoded(ErrorTypeForbidden, CodeGrantSuspended, "access to service is suspended")
	ErrForbidden         = newCoded(ErrorTypeForbidden, CodeForbidden, "access forbidden")
	ErrProtectedRole     = newCoded(ErrorTypeForbidden, CodeProtectedRole, "system role cannot be changed this way")

	// Lookup
	ErrNotFound         = newCoded(ErrorTypeNotFound, CodeNotFound, "resource not found")
	ErrUserNotFound     = newCoded(ErrorTypeNotFound, CodeNotFound, "user not found")
	ErrServiceNotFound  = newCoded(ErrorTypeNotFound, CodeNotFound, "service not found")
	ErrRoleNotFound     = newCoded(ErrorTypeNotFound, CodeNotFound, "role not found")
	ErrGrantNotFound    = newCoded(ErrorTypeNotFound, CodeNotFound, "grant not found")
	ErrAuditLogNotFound = newCoded(ErrorTypeNotFound, CodeNotFound, "audit log not found")

	// Validation
	ErrInvalidInput = newCoded(ErrorTypeValidation, CodeInvalidInput, "invalid input")
	ErrInvalidRole  = newCoded(ErrorTypeValidation, CodeInvalidRole, "role does not apply to this scope")
	ErrWeakPassword = newCoded(ErrorTypeValidation, CodeWeakPassword, "password does not satisfy policy")
	ErrExpired      = newCoded(ErrorTypeValidation, CodeExpired, "credential expired")

	// Conflict
	ErrConflict = newCoded(ErrorTypeConflict, CodeConflict, "resource already exists")
	ErrInUse    = newCoded(ErrorTypeConflict, CodeInUse, "resource is still referenced")

	// Rate limit
	ErrRateLimitExceeded = newCoded(ErrorTypeRateLimit, CodeRateLimited, "rate limit exceeded")

	// Internal
	ErrInternal = newCoded(ErrorTypeInternal, CodeInternal, "internal server error")
)

// NewForbidden names the permission the caller is missing
func NewForbidden(permission string) *DomainError {
	e := newCoded(ErrorTypeForbidden, CodeForbidden, fmt.Sprintf("missing permission %q", permission))
	e.Details["permission"] = permission
	return e
}

// NewConflict names the field whose uniqueness was violated
func NewConflict(field string) *DomainError {
	e := newCoded(ErrorTypeConflict, CodeConflict, fmt.Sprintf("%s already exists", field))
	e.Details["field"] = field
	return e
}

// NewInvalidInput reports a validation failure with a specific message
func NewInvalidInput(message string) *DomainError {
	return newCoded(ErrorTypeValidation, CodeInvalidInput, message)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the ErrorCode of a domain error, or empty string if not a domain error
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	e := NewDomainError(ErrorTypeInternal, message, err)
	e.Code = CodeInternal
	return e
}
