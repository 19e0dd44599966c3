package handlers

import (
	"net/http"

	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. The error code is
// always logged, including for token failures that render identically.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	switch {
	case services.IsInternalError(err), services.GetErrorType(err) == "":
		logger.Error("internal server error", zap.Error(err))
	case services.IsUnauthorizedError(err), services.IsForbiddenError(err):
		logger.Info("request denied",
			zap.String("code", string(services.GetErrorCode(err))),
			zap.Error(err))
	case services.IsRateLimitError(err):
		logger.Warn("request throttled", zap.Error(err))
	case services.IsNotFoundError(err), services.IsConflictError(err):
		logger.Info("request rejected",
			zap.String("type", string(services.GetErrorType(err))),
			zap.String("code", string(services.GetErrorCode(err))),
			zap.Any("details", services.GetErrorDetails(err)))
	default:
		logger.Debug("handled service error",
			zap.String("type", string(services.GetErrorType(err))),
			zap.String("code", string(services.GetErrorCode(err))),
			zap.Any("details", services.GetErrorDetails(err)))
	}

	if err := utils.WriteDomainError(w, err); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
