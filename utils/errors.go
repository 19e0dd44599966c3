package utils

import (
	"errors"
	"net/http"

	"github.com/upb/identity-authority/services"
)

// tokenErrorMessage is shown for both invalid and expired tokens
const tokenErrorMessage = "invalid or expired token"

// StatusForError maps a domain error type to an HTTP status
func StatusForError(err error) int {
	switch services.GetErrorType(err) {
	case services.ErrorTypeNotFound:
		return http.StatusNotFound
	case services.ErrorTypeValidation:
		return http.StatusBadRequest
	case services.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorTypeForbidden:
		return http.StatusForbidden
	case services.ErrorTypeConflict:
		return http.StatusConflict
	case services.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError renders err. Internal errors get a generic message, and
// invalid and expired tokens render identically.
func WriteDomainError(w http.ResponseWriter, err error) error {
	status := StatusForError(err)

	var domainErr *services.DomainError
	if status == http.StatusInternalServerError || !errors.As(err, &domainErr) {
		return WriteError(w, http.StatusInternalServerError, string(services.CodeInternal), "An internal error occurred", nil)
	}

	code := string(domainErr.Code)
	message := domainErr.Message
	if errors.Is(err, services.ErrTokenExpired) || errors.Is(err, services.ErrInvalidToken) {
		code = string(services.CodeInvalidToken)
		message = tokenErrorMessage
	}

	var details map[string]interface{}
	if len(domainErr.Details) > 0 {
		details = domainErr.Details
	}
	return WriteError(w, status, code, message, details)
}
