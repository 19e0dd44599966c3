package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/services"
	"go.uber.org/zap"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// Entry describes one audited action. Request and Response are redacted before storage.
type Entry struct {
	Action     models.AuditAction
	UserID     *uuid.UUID
	ServiceID  *uuid.UUID
	Request    interface{}
	Response   interface{}
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
}

// Recorder appends audit events and serves audit queries. Recording is best
// effort: failures are logged and never returned.
type Recorder struct {
	service *AuditService
	repo    repositories.AuditRepository
	logger  *zap.Logger
}

// NewRecorder creates a recorder. A nil service writes synchronously.
func NewRecorder(service *AuditService, repo repositories.AuditRepository, logger *zap.Logger) *Recorder {
	return &Recorder{service: service, repo: repo, logger: logger}
}

// Record redacts and appends one event
func (r *Recorder) Record(ctx context.Context, e Entry) {
	log := models.NewAuditLog(e.Action).
		WithRequest(e.RequestID, e.IPAddress, e.UserAgent).
		WithDetails(map[string]interface{}{
			"request":  Redact(e.Request),
			"response": Redact(e.Response),
		})
	if e.UserID != nil {
		log.WithUser(*e.UserID)
	}
	if e.ServiceID != nil {
		log.WithService(*e.ServiceID)
	}
	if e.StatusCode != 0 {
		log.WithStatus(e.StatusCode)
	}

	if r.service != nil {
		err := r.service.LogEvent(&AuditEvent{Log: log})
		if err == nil {
			return
		}
		r.logger.Warn("audit queue unavailable, writing synchronously",
			zap.String("action", string(e.Action)), zap.Error(err))
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.repo.Insert(writeCtx, log); err != nil {
		r.logger.Error("failed to record audit event",
			zap.String("action", string(e.Action)),
			zap.String("request_id", e.RequestID),
			zap.Error(err))
	}
}

// Get returns one audit event
func (r *Recorder) Get(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	log, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrAuditLogNotFound
		}
		return nil, services.WrapInternal("failed to get audit log", err)
	}
	return log, nil
}

// Query returns events matching filter, newest first
func (r *Recorder) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLog, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	logs, err := r.repo.Query(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to query audit logs", err)
	}
	return logs, nil
}

// Summary counts events matching filter grouped by action, service, user or day
func (r *Recorder) Summary(ctx context.Context, filter models.AuditFilter, groupBy models.AuditGroupBy) ([]models.AuditSummaryBucket, error) {
	if !groupBy.Valid() {
		return nil, services.NewInvalidInput("group_by must be one of action, service, user, day")
	}
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	buckets, err := r.repo.Summary(ctx, filter, groupBy)
	if err != nil {
		return nil, services.WrapInternal("failed to summarize audit logs", err)
	}
	return buckets, nil
}

func normalizeFilter(f models.AuditFilter) (models.AuditFilter, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, services.NewInvalidInput("to must not be before from")
	}
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f, nil
}
