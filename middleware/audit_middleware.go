package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services/audit"
	"github.com/upb/identity-authority/utils"
	"go.uber.org/zap"
)

const (
	maxAuditRequestBytes  = 64 << 10
	maxAuditResponseBytes = 64 << 10
)

// AuditRecorder appends audit events. *audit.Recorder implements it.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// AuditMiddleware records successful permission-gated requests
type AuditMiddleware struct {
	recorder AuditRecorder
	logger   *zap.Logger
}

// NewAuditMiddleware creates a new AuditMiddleware
func NewAuditMiddleware(recorder AuditRecorder, logger *zap.Logger) *AuditMiddleware {
	return &AuditMiddleware{recorder: recorder, logger: logger}
}

// Audit records action after the wrapped handler answers with a 2xx status.
// Request and response bodies are captured up to 64 KiB and redacted by the recorder.
func (m *AuditMiddleware) Audit(action models.AuditAction) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var reqBody []byte
			if r.Body != nil && r.Body != http.NoBody {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxAuditRequestBytes+1))
				if err != nil {
					m.logger.Warn("failed to read request body for audit",
						zap.String("request_id", GetRequestIDFromContext(r.Context())),
						zap.Error(err))
				}
				reqBody = body
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
			}

			subject := &auditSubject{}
			ctx := context.WithValue(r.Context(), auditSubjectKey, subject)
			cw := &captureWriter{statusWriter: statusWriter{ResponseWriter: w, code: http.StatusOK}}

			next.ServeHTTP(cw, r.WithContext(ctx))

			if cw.code < 200 || cw.code >= 300 {
				return
			}

			entry := m.entry(ctx, r, action, cw.code, subject)
			if len(reqBody) <= maxAuditRequestBytes {
				entry.Request = audit.RedactJSON(reqBody)
			}
			if !cw.truncated {
				entry.Response = audit.RedactJSON(cw.body.Bytes())
			}

			m.recorder.Record(ctx, entry)
		})
	}
}

// AuditRead records action after a gated read answers with a 2xx status.
// Bodies are not kept; the request detail is the path and query string.
func (m *AuditMiddleware) AuditRead(action models.AuditAction) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := &auditSubject{}
			ctx := context.WithValue(r.Context(), auditSubjectKey, subject)
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

			next.ServeHTTP(sw, r.WithContext(ctx))

			if sw.code < 200 || sw.code >= 300 {
				return
			}

			entry := m.entry(ctx, r, action, sw.code, subject)
			entry.Request = audit.RedactValue(map[string]interface{}{
				"path":  r.URL.Path,
				"query": r.URL.Query(),
			})
			m.recorder.Record(ctx, entry)
		})
	}
}

func (m *AuditMiddleware) entry(ctx context.Context, r *http.Request, action models.AuditAction, code int, subject *auditSubject) audit.Entry {
	ac := GetAuthContextFromContext(ctx)
	entry := audit.Entry{
		Action:     action,
		UserID:     ac.UserID(),
		ServiceID:  ac.ServiceID(),
		IPAddress:  utils.ClientIP(r),
		UserAgent:  r.UserAgent(),
		RequestID:  GetRequestIDFromContext(ctx),
		StatusCode: code,
	}
	if subject.userID != nil {
		entry.UserID = subject.userID
	}
	if subject.serviceID != nil {
		entry.ServiceID = subject.serviceID
	}
	return entry
}

// statusWriter records the response status code
type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// captureWriter also keeps a bounded copy of the response body
type captureWriter struct {
	statusWriter
	body      bytes.Buffer
	truncated bool
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.truncated {
		if w.body.Len()+len(b) > maxAuditResponseBytes {
			w.truncated = true
			w.body.Reset()
		} else {
			w.body.Write(b)
		}
	}
	return w.statusWriter.Write(b)
}
