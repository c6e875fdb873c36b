package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalog-override-service/internal/config"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
	"catalog-override-service/internal/services"
)

var dbSeq int

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:jobs_%d?mode=memory&cache=shared", dbSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, config.Migrate(db))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakePublisher struct {
	published []SyncJobMessage
	err       error
}

func (p *fakePublisher) PublishJob(_ context.Context, msg SyncJobMessage) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func TestDispatcher_EnqueuePublishesJob(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	d := NewDispatcher(repository.NewSyncRepository(db), pub, quietLogger())
	ctx := context.Background()

	id, err := d.EnqueueSyncJob(ctx, services.SyncRequest{
		ProductID: 1, ShopID: 2, TriggeredBy: models.TriggerUserSave,
		Fields: []string{"name"}, Hash: "abc",
	})
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Equal(t, id, pub.published[0].JobID)
	assert.Equal(t, []string{"name"}, pub.published[0].Fields)

	job, err := d.PollJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "abc", job.Fields["hash"])
	assert.Equal(t, "1:2:abc", job.IdempotencyKey)

	logs, err := repository.NewSyncRepository(db).GetJobLogs(ctx, id)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestDispatcher_ReusesUnfinishedJobForSamePayload(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	d := NewDispatcher(repository.NewSyncRepository(db), pub, quietLogger())
	ctx := context.Background()
	req := services.SyncRequest{ProductID: 1, ShopID: 2, Hash: "abc"}

	first, err := d.EnqueueSyncJob(ctx, req)
	require.NoError(t, err)
	second, err := d.EnqueueSyncJob(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, pub.published, 1)

	_, err = d.ReportResult(ctx, models.JobResult{JobID: first, Success: true})
	require.NoError(t, err)
	third, err := d.EnqueueSyncJob(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestDispatcher_PublishFailureFailsJob(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(repository.NewSyncRepository(db), &fakePublisher{err: errors.New("no responders")}, quietLogger())

	_, err := d.EnqueueSyncJob(context.Background(), services.SyncRequest{ProductID: 1, ShopID: 2})
	require.Error(t, err)

	var job models.SyncJob
	require.NoError(t, db.First(&job).Error)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "no responders")
}

func TestDispatcher_ReportResult(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(repository.NewSyncRepository(db), nil, quietLogger())
	ctx := context.Background()

	id, err := d.EnqueueSyncJob(ctx, services.SyncRequest{ProductID: 1, ShopID: 2})
	require.NoError(t, err)

	running, err := d.MarkRunning(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, running.Status)
	assert.NotNil(t, running.StartedAt)

	externalID := int64(77)
	done, err := d.ReportResult(ctx, models.JobResult{JobID: id, Success: false, Message: "timeout", ExternalID: &externalID})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, "timeout", done.ErrorMessage)
	assert.NotNil(t, done.CompletedAt)

	again, err := d.ReportResult(ctx, models.JobResult{JobID: id, Success: true})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, again.Status, "terminal jobs are not reopened")

	_, err = d.ReportResult(ctx, models.JobResult{JobID: uuid.New(), Success: true})
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}
