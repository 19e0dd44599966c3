package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"text debug", "debug", "text", false},
		{"upper case level", "WARN", "json", false},
		{"invalid level", "verbose", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.ObserveDecision("allowed")
	m.ObserveDecision("allowed")
	m.ObserveIssued("refresh")
	m.ObserveSwept(3)
	m.ObserveSwept(0)
	m.ObserveAudit("written")
	m.SetAuditQueueDepth(7)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthDecisions.WithLabelValues("allowed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CredentialsIssued.WithLabelValues("refresh")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CredentialsSwept))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuditEventsTotal.WithLabelValues("written")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.AuditQueueDepth))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("denied")
		m.ObserveIssued("refresh")
		m.ObserveSwept(1)
		m.ObserveAudit("dropped")
		m.SetAuditQueueDepth(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision("allowed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authz_decisions_total")
}
