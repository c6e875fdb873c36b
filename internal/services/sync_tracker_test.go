package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"catalog-override-service/internal/events"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
)

// MockDispatcher is a mock implementation of Dispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) EnqueueSyncJob(ctx context.Context, req SyncRequest) (uuid.UUID, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockDispatcher) PollJobStatus(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error) {
	args := m.Called(ctx, jobID)
	if job := args.Get(0); job != nil {
		return job.(*models.SyncJob), args.Error(1)
	}
	return nil, args.Error(1)
}

var _ Dispatcher = (*MockDispatcher)(nil)

// MockPuller is a mock implementation of Puller
type MockPuller struct {
	mock.Mock
}

func (m *MockPuller) Pull(ctx context.Context, productID, shopID int64) (*PullResult, error) {
	args := m.Called(ctx, productID, shopID)
	if r := args.Get(0); r != nil {
		return r.(*PullResult), args.Error(1)
	}
	return nil, args.Error(1)
}

var _ Puller = (*MockPuller)(nil)

func newTestTracker(t *testing.T) (*SyncStateTracker, *gorm.DB, *MockDispatcher, *eventRecorder) {
	t.Helper()
	db := newTestDB(t)
	dispatcher := new(MockDispatcher)
	rec := &eventRecorder{}
	tracker := NewSyncStateTracker(repository.NewShopDataRepository(db), dispatcher, rec, SyncTrackerOptions{JobTimeout: time.Hour})
	return tracker, db, dispatcher, rec
}

func loadShopData(t *testing.T, db *gorm.DB, productID, shopID int64) models.ProductShopData {
	t.Helper()
	var data models.ProductShopData
	require.NoError(t, db.Where("product_id = ? AND shop_id = ?", productID, shopID).First(&data).Error)
	return data
}

func TestMarkPending_EnqueuesJob(t *testing.T) {
	tracker, db, dispatcher, rec := newTestTracker(t)
	jobID := uuid.New()
	dispatcher.On("EnqueueSyncJob", mock.Anything, mock.MatchedBy(func(req SyncRequest) bool {
		return req.ProductID == 1 && req.ShopID == 2 && req.TriggeredBy == models.TriggerUserSave
	})).Return(jobID, nil).Once()

	marked, err := tracker.MarkPending(context.Background(), 1, 2, PendingChange{Fields: []string{"tax_rate", "name", "name"}})
	require.NoError(t, err)
	assert.True(t, marked)

	data := loadShopData(t, db, 1, 2)
	assert.Equal(t, models.SyncStatusPending, data.SyncStatus)
	assert.Equal(t, []string{"name", "tax_rate"}, []string(data.PendingFields))
	require.NotNil(t, data.SyncJobID)
	assert.Equal(t, jobID, *data.SyncJobID)
	assert.Equal(t, []string{events.SyncMarkedPending}, rec.Types())
	dispatcher.AssertExpectations(t)
}

func TestMarkPending_DispatchFailureIsError(t *testing.T) {
	tracker, db, dispatcher, _ := newTestTracker(t)
	dispatcher.On("EnqueueSyncJob", mock.Anything, mock.Anything).Return(uuid.Nil, errors.New("nats down"))

	_, err := tracker.MarkPending(context.Background(), 1, 2, PendingChange{Fields: []string{"name"}})
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)

	data := loadShopData(t, db, 1, 2)
	assert.Equal(t, models.SyncStatusError, data.SyncStatus)
	assert.Contains(t, data.SyncError, "nats down")
	assert.Nil(t, data.SyncJobID)
}

func TestMarkPending_SkipsUnchangedPayload(t *testing.T) {
	tracker, db, dispatcher, _ := newTestTracker(t)
	require.NoError(t, db.Create(&models.ProductShopData{
		ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusSynced, LastSyncHash: "abc",
	}).Error)

	marked, err := tracker.MarkPending(context.Background(), 1, 2, PendingChange{Fields: []string{"name"}, Hash: "abc"})
	require.NoError(t, err)
	assert.False(t, marked)
	dispatcher.AssertNotCalled(t, "EnqueueSyncJob", mock.Anything, mock.Anything)
}

func TestOnJobResult_SuccessPullsExactlyOnce(t *testing.T) {
	tracker, db, dispatcher, rec := newTestTracker(t)
	puller := new(MockPuller)
	tracker.SetPuller(puller)

	jobID := uuid.New()
	externalID := int64(900)
	require.NoError(t, db.Create(&models.ProductShopData{
		ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusProcessing, SyncJobID: &jobID,
		PendingFields: []string{"name"},
	}).Error)
	dispatcher.On("PollJobStatus", mock.Anything, jobID).
		Return(&models.SyncJob{ID: jobID, Status: models.JobStatusCompleted, Fields: models.JSONB{"hash": "h1"}}, nil)
	puller.On("Pull", mock.Anything, int64(1), int64(2)).Return(&PullResult{}, nil).Once()

	err := tracker.OnJobResult(context.Background(), 1, 2, models.JobResult{JobID: jobID, Success: true, ExternalID: &externalID})
	require.NoError(t, err)

	data := loadShopData(t, db, 1, 2)
	assert.Equal(t, models.SyncStatusSynced, data.SyncStatus)
	assert.Empty(t, data.PendingFields)
	assert.Nil(t, data.SyncJobID)
	assert.Equal(t, "h1", data.LastSyncHash)
	require.NotNil(t, data.ExternalID)
	assert.Equal(t, externalID, *data.ExternalID)
	assert.NotNil(t, data.LastSyncAt)
	assert.Contains(t, rec.Types(), events.SyncSucceeded)
	puller.AssertNumberOfCalls(t, "Pull", 1)
}

func TestOnJobResult_FailureWaitsForManualRetry(t *testing.T) {
	tracker, db, dispatcher, _ := newTestTracker(t)
	puller := new(MockPuller)
	tracker.SetPuller(puller)

	jobID := uuid.New()
	require.NoError(t, db.Create(&models.ProductShopData{
		ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusPending, SyncJobID: &jobID,
		PendingFields: []string{"ean"},
	}).Error)

	err := tracker.OnJobResult(context.Background(), 1, 2, models.JobResult{JobID: jobID, Success: false, Message: "422 invalid ean"})
	require.NoError(t, err)

	data := loadShopData(t, db, 1, 2)
	assert.Equal(t, models.SyncStatusError, data.SyncStatus)
	assert.Equal(t, "422 invalid ean", data.SyncError)
	assert.Equal(t, []string{"ean"}, []string(data.PendingFields))
	puller.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything, mock.Anything)

	retryJob := uuid.New()
	dispatcher.On("EnqueueSyncJob", mock.Anything, mock.MatchedBy(func(req SyncRequest) bool {
		return req.TriggeredBy == models.TriggerManualRetry && len(req.Fields) == 1 && req.Fields[0] == "ean"
	})).Return(retryJob, nil).Once()

	require.NoError(t, tracker.Retry(context.Background(), 1, 2))
	data = loadShopData(t, db, 1, 2)
	assert.Equal(t, models.SyncStatusPending, data.SyncStatus)
	assert.Empty(t, data.SyncError)
	assert.Equal(t, retryJob, *data.SyncJobID)
	dispatcher.AssertExpectations(t)
}

func TestOnJobResult_IgnoresStaleJob(t *testing.T) {
	tracker, db, _, _ := newTestTracker(t)
	current := uuid.New()
	require.NoError(t, db.Create(&models.ProductShopData{
		ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusPending, SyncJobID: &current,
	}).Error)

	err := tracker.OnJobResult(context.Background(), 1, 2, models.JobResult{JobID: uuid.New(), Success: false, Message: "old"})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, loadShopData(t, db, 1, 2).SyncStatus)
}

func TestRetry_OnlyFromErrorOrConflict(t *testing.T) {
	tracker, db, _, _ := newTestTracker(t)
	require.NoError(t, db.Create(&models.ProductShopData{
		ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusSynced,
	}).Error)

	err := tracker.Retry(context.Background(), 1, 2)
	var transErr *models.TransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, models.SyncStatusSynced, transErr.From)
}

func TestMarkProcessing_RejectsFromSynced(t *testing.T) {
	tracker, db, _, _ := newTestTracker(t)
	require.NoError(t, db.Create(&models.ProductShopData{
		ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusSynced,
	}).Error)

	err := tracker.MarkProcessing(context.Background(), 1, 2)
	var transErr *models.TransitionError
	assert.ErrorAs(t, err, &transErr)
}

func TestPollActive(t *testing.T) {
	tracker, db, dispatcher, _ := newTestTracker(t)
	running := uuid.New()
	done := uuid.New()
	failed := uuid.New()
	require.NoError(t, db.Create(&models.ProductShopData{ProductID: 1, ShopID: 1, SyncStatus: models.SyncStatusPending, SyncJobID: &running}).Error)
	require.NoError(t, db.Create(&models.ProductShopData{ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusProcessing, SyncJobID: &done}).Error)
	require.NoError(t, db.Create(&models.ProductShopData{ProductID: 1, ShopID: 3, SyncStatus: models.SyncStatusPending, SyncJobID: &failed}).Error)

	now := time.Now()
	dispatcher.On("PollJobStatus", mock.Anything, running).Return(&models.SyncJob{ID: running, Status: models.JobStatusRunning, CreatedAt: now}, nil)
	dispatcher.On("PollJobStatus", mock.Anything, done).Return(&models.SyncJob{ID: done, Status: models.JobStatusCompleted, CreatedAt: now}, nil)
	dispatcher.On("PollJobStatus", mock.Anything, failed).Return(&models.SyncJob{ID: failed, Status: models.JobStatusFailed, ErrorMessage: "boom", CreatedAt: now}, nil)

	changed, err := tracker.PollActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	assert.Equal(t, models.SyncStatusProcessing, loadShopData(t, db, 1, 1).SyncStatus)
	assert.Equal(t, models.SyncStatusSynced, loadShopData(t, db, 1, 2).SyncStatus)
	assert.Equal(t, models.SyncStatusError, loadShopData(t, db, 1, 3).SyncStatus)
}

func TestPollActive_TimesOutStuckJobs(t *testing.T) {
	tracker, db, dispatcher, _ := newTestTracker(t)
	stuck := uuid.New()
	require.NoError(t, db.Create(&models.ProductShopData{ProductID: 1, ShopID: 1, SyncStatus: models.SyncStatusPending, SyncJobID: &stuck}).Error)
	dispatcher.On("PollJobStatus", mock.Anything, stuck).
		Return(&models.SyncJob{ID: stuck, Status: models.JobStatusQueued, CreatedAt: time.Now().Add(-2 * time.Hour)}, nil)

	changed, err := tracker.PollActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	data := loadShopData(t, db, 1, 1)
	assert.Equal(t, models.SyncStatusError, data.SyncStatus)
	assert.Contains(t, data.SyncError, "timed out")
}

func TestIsEditingBlocked(t *testing.T) {
	assert.True(t, IsEditingBlocked(models.SyncStatusProcessing))
	for _, s := range []models.SyncStatus{
		models.SyncStatusNotLinked, models.SyncStatusPending, models.SyncStatusSynced,
		models.SyncStatusError, models.SyncStatusConflict,
	} {
		assert.False(t, IsEditingBlocked(s), s)
	}
}

func TestSyncHash_IgnoresFormatting(t *testing.T) {
	a := models.NewFormState()
	a.Set(models.FieldTaxRate, "23")
	a.Categories = models.CategorySelection{Selected: []int64{5, 2}, Primary: ptr(int64(5))}
	b := models.NewFormState()
	b.Set(models.FieldTaxRate, "23.00")
	b.Categories = models.CategorySelection{Selected: []int64{2, 5}, Primary: ptr(int64(5))}

	assert.Equal(t, SyncHash(a), SyncHash(b))
	b.Set(models.FieldName, "x")
	assert.NotEqual(t, SyncHash(a), SyncHash(b))
}

func TestMarkPending_WhileProcessingQueuesBehindPush(t *testing.T) {
	tracker, db, dispatcher, rec := newTestTracker(t)
	puller := new(MockPuller)
	tracker.SetPuller(puller)
	ctx := context.Background()

	running := uuid.New()
	require.NoError(t, db.Create(&models.ProductShopData{
		ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusProcessing, SyncJobID: &running,
		PendingFields: []string{"ean"},
	}).Error)

	marked, err := tracker.MarkPending(ctx, 1, 2, PendingChange{
		Fields: []string{"name"}, Hash: "h2", Trigger: models.TriggerInherited,
	})
	require.NoError(t, err)
	assert.False(t, marked)

	data := loadShopData(t, db, 1, 2)
	assert.Equal(t, models.SyncStatusProcessing, data.SyncStatus)
	assert.Equal(t, running, *data.SyncJobID)
	assert.Equal(t, []string{"name"}, []string(data.QueuedFields))
	assert.Contains(t, rec.Types(), events.SyncQueued)

	next := uuid.New()
	dispatcher.On("PollJobStatus", mock.Anything, running).
		Return(&models.SyncJob{ID: running, Status: models.JobStatusCompleted, Fields: models.JSONB{"hash": "h1"}}, nil)
	dispatcher.On("EnqueueSyncJob", mock.Anything, mock.MatchedBy(func(req SyncRequest) bool {
		return req.Hash == "h2" && req.TriggeredBy == models.TriggerInherited &&
			len(req.Fields) == 1 && req.Fields[0] == "name"
	})).Return(next, nil).Once()

	require.NoError(t, tracker.OnJobResult(ctx, 1, 2, models.JobResult{JobID: running, Success: true}))

	data = loadShopData(t, db, 1, 2)
	assert.Equal(t, models.SyncStatusPending, data.SyncStatus)
	assert.Equal(t, next, *data.SyncJobID)
	assert.Equal(t, "h1", data.LastSyncHash)
	assert.Empty(t, data.QueuedFields)
	puller.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything, mock.Anything)
	dispatcher.AssertExpectations(t)
}

func TestOnJobResult_FailureKeepsQueuedFieldsForRetry(t *testing.T) {
	tracker, db, _, _ := newTestTracker(t)
	running := uuid.New()
	require.NoError(t, db.Create(&models.ProductShopData{
		ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusProcessing, SyncJobID: &running,
		PendingFields: []string{"ean"}, QueuedFields: []string{"name"}, QueuedHash: "h2",
	}).Error)

	require.NoError(t, tracker.OnJobResult(context.Background(), 1, 2, models.JobResult{
		JobID: running, Success: false, Message: "timeout",
	}))

	data := loadShopData(t, db, 1, 2)
	assert.Equal(t, models.SyncStatusError, data.SyncStatus)
	assert.Equal(t, []string{"ean", "name"}, []string(data.PendingFields))
	assert.Empty(t, data.QueuedFields)
	assert.Empty(t, data.QueuedHash)
}
