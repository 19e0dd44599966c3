package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/identity-authority/internal/observability"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/repositories/memory"
	"github.com/upb/identity-authority/services"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)
	m.mu.Lock()
	defer m.mu.Unlock()
	if args.Error(0) == nil {
		m.insertedLogs = append(m.insertedLogs, log)
	}
	return args.Error(0)
}

func (m *MockAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	args := m.Called(ctx, id)
	if log := args.Get(0); log != nil {
		return log.(*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLog, error) {
	args := m.Called(ctx, filter)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) Summary(ctx context.Context, filter models.AuditFilter, groupBy models.AuditGroupBy) ([]models.AuditSummaryBucket, error) {
	args := m.Called(ctx, filter, groupBy)
	if buckets := args.Get(0); buckets != nil {
		return buckets.([]models.AuditSummaryBucket), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.insertedLogs...)
}

var _ repositories.AuditRepository = (*MockAuditRepository)(nil)

func newService(repo repositories.AuditRepository, config Config) *AuditService {
	return NewAuditService(repo, observability.NewMetrics(), zap.NewNop(), config)
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := newService(mockRepo, Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.Error(t, service.Stop(time.Second))

	err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog(models.AuditActionUserLogin)})
	assert.Error(t, err)
}

func TestAuditService_LogEventNotStarted(t *testing.T) {
	service := newService(new(MockAuditRepository), DefaultConfig())

	err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog(models.AuditActionUserLogin)})
	assert.Error(t, err)
}

func TestAuditService_StopDrainsQueue(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := newService(mockRepo, Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, service.Start())

	eventCount := 50
	for i := 0; i < eventCount; i++ {
		require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(models.AuditActionUserLogin)}))
	}

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), eventCount)
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := newService(mockRepo, Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, service.Start())

	goroutineCount := 10
	eventsPerGoroutine := 10
	var wg sync.WaitGroup
	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = service.LogEventBlocking(context.Background(), &AuditEvent{Log: models.NewAuditLog(models.AuditActionGrantCreated)})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), goroutineCount*eventsPerGoroutine)
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := newService(mockRepo, Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, service.Start())

	var failures int
	for i := 0; i < 10; i++ {
		if err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog(models.AuditActionUserLogin)}); err != nil {
			failures++
		}
	}
	assert.Greater(t, failures, 0)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestAuditService_InsertFailureIsLogged(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("database down"))

	service := newService(mockRepo, Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(models.AuditActionUserLogin)}))
	require.NoError(t, service.Stop(5*time.Second))

	mockRepo.AssertNumberOfCalls(t, "Insert", 1)
	assert.Empty(t, mockRepo.GetInsertedLogs())
}

func TestRedact(t *testing.T) {
	in := map[string]interface{}{
		"username": "alice",
		"password": "hunter2",
		"nested": map[string]interface{}{
			"refresh_token": "abc",
			"API_KEY":       "ak_1",
			"keep":          1.0,
		},
		"list": []interface{}{
			map[string]interface{}{"api_secret": "s", "name": "blog"},
		},
	}

	out := Redact(in).(map[string]interface{})

	assert.Equal(t, "alice", out["username"])
	assert.Equal(t, Redacted, out["password"])
	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, Redacted, nested["refresh_token"])
	assert.Equal(t, Redacted, nested["API_KEY"])
	assert.Equal(t, 1.0, nested["keep"])
	item := out["list"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, Redacted, item["api_secret"])
	assert.Equal(t, "blog", item["name"])

	// input is not mutated
	assert.Equal(t, "hunter2", in["password"])
}

func TestRedactJSON(t *testing.T) {
	out := RedactJSON([]byte(`{"access_token":"x","scope":"global"}`)).(map[string]interface{})
	assert.Equal(t, Redacted, out["access_token"])
	assert.Equal(t, "global", out["scope"])

	assert.Nil(t, RedactJSON([]byte("not json")))
	assert.Nil(t, RedactJSON(nil))
}

func TestRedactValue(t *testing.T) {
	type loginResponse struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}

	out := RedactValue(loginResponse{AccessToken: "x", Scope: "service"}).(map[string]interface{})
	assert.Equal(t, Redacted, out["access_token"])
	assert.Equal(t, "service", out["scope"])
}

func TestRecorder_RecordSynchronous(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	recorder := NewRecorder(nil, repos.AuditLogs, zap.NewNop())
	userID := uuid.New()
	serviceID := uuid.New()

	recorder.Record(ctx, Entry{
		Action:     models.AuditActionServiceCreated,
		UserID:     &userID,
		ServiceID:  &serviceID,
		Request:    map[string]interface{}{"name": "blog"},
		Response:   map[string]interface{}{"api_key": "ak_1", "api_secret": "s"},
		IPAddress:  "10.0.0.1",
		UserAgent:  "curl",
		RequestID:  "req-1",
		StatusCode: 201,
	})

	logs, err := recorder.Query(ctx, models.AuditFilter{UserID: &userID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionServiceCreated, logs[0].Action)
	assert.Equal(t, serviceID, *logs[0].ServiceID)
	assert.Equal(t, 201, *logs[0].StatusCode)
	assert.Equal(t, "req-1", logs[0].RequestID)
	assert.Contains(t, string(logs[0].Details), Redacted)
	assert.NotContains(t, string(logs[0].Details), "ak_1")

	got, err := recorder.Get(ctx, logs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, logs[0].ID, got.ID)

	_, err = recorder.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, services.ErrAuditLogNotFound)
}

func TestRecorder_RecordThroughWorkers(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := newService(mockRepo, Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	recorder := NewRecorder(service, mockRepo, zap.NewNop())

	recorder.Record(context.Background(), Entry{Action: models.AuditActionUserLogin})
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionUserLogin, logs[0].Action)
}

func TestRecorder_RecordSwallowsErrors(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("database down"))
	recorder := NewRecorder(nil, mockRepo, zap.NewNop())

	assert.NotPanics(t, func() {
		recorder.Record(context.Background(), Entry{Action: models.AuditActionUserLogin})
	})
	mockRepo.AssertExpectations(t)
}

func TestRecorder_Summary(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockAuditRepository)
	recorder := NewRecorder(nil, mockRepo, zap.NewNop())

	buckets := []models.AuditSummaryBucket{{Key: "user.login", Count: 3}}
	mockRepo.On("Summary", mock.Anything, mock.MatchedBy(func(f models.AuditFilter) bool {
		return f.Limit == defaultQueryLimit
	}), models.AuditGroupByAction).Return(buckets, nil)

	got, err := recorder.Summary(ctx, models.AuditFilter{}, models.AuditGroupByAction)
	require.NoError(t, err)
	assert.Equal(t, buckets, got)

	_, err = recorder.Summary(ctx, models.AuditFilter{}, models.AuditGroupBy("weekday"))
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestRecorder_QueryValidatesRange(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	recorder := NewRecorder(nil, mockRepo, zap.NewNop())

	from := time.Now()
	to := from.Add(-time.Hour)
	_, err := recorder.Query(context.Background(), models.AuditFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, services.ErrInvalidInput)

	mockRepo.On("Query", mock.Anything, mock.MatchedBy(func(f models.AuditFilter) bool {
		return f.Limit == maxQueryLimit
	})).Return([]*models.AuditLog{}, nil)
	_, err = recorder.Query(context.Background(), models.AuditFilter{Limit: 10000})
	assert.NoError(t, err)
}
