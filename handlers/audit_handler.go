package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/utils"
)

var errGrantFilterRequired = errors.New("user_id or service_id is required")

// ListAuditLogsHandler queries the audit log. Filters: user_id, service_id,
// action, from, to (RFC 3339), limit, offset.
func ListAuditLogsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, ok := auditFilter(deps, w, r)
		if !ok {
			return
		}

		logs, err := deps.Audit.Query(r.Context(), filter)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, logs)
	}
}

// GetAuditLogHandler returns one audit record
func GetAuditLogHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(deps, w, r)
		if !ok {
			return
		}

		log, err := deps.Audit.Get(r.Context(), id)
		if err == nil {
			err = requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), log.ServiceID)
		}
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, log)
	}
}

// AuditSummaryHandler counts audit records grouped by ?group_by= (action, service, user, day)
func AuditSummaryHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, ok := auditFilter(deps, w, r)
		if !ok {
			return
		}
		groupBy := models.AuditGroupBy(r.URL.Query().Get("group_by"))
		if groupBy == "" {
			groupBy = models.AuditGroupByAction
		}

		buckets, err := deps.Audit.Summary(r.Context(), filter, groupBy)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, buckets)
	}
}

// auditFilter parses the audit query parameters. A service-scoped caller is
// pinned to its own service. On failure the response has been written.
func auditFilter(deps *app.Dependencies, w http.ResponseWriter, r *http.Request) (models.AuditFilter, bool) {
	var filter models.AuditFilter
	q := r.URL.Query()

	opts, err := utils.ParseListOptions(r)
	if err == nil {
		filter.Limit, filter.Offset = opts.Limit, opts.Offset
		filter.UserID, err = utils.ParseOptionalUUID(q.Get("user_id"), "user_id")
	}
	if err == nil {
		filter.ServiceID, err = utils.ParseOptionalUUID(q.Get("service_id"), "service_id")
	}
	if err == nil {
		filter.From, err = parseTimeParam(q.Get("from"), "from")
	}
	if err == nil {
		filter.To, err = parseTimeParam(q.Get("to"), "to")
	}
	if err != nil {
		HandleValidationError(w, err, deps.Logger)
		return filter, false
	}
	filter.Action = models.AuditAction(q.Get("action"))

	if sid := middleware.GetServiceIDFromContext(r.Context()); sid != nil {
		if filter.ServiceID != nil && *filter.ServiceID != *sid {
			HandleServiceError(w, requireServiceInScope(middleware.GetAuthContextFromContext(r.Context()), filter.ServiceID), deps.Logger)
			return filter, false
		}
		filter.ServiceID = sid
	}
	return filter, true
}

func parseTimeParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}
