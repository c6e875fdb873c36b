package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
	"catalog-override-service/internal/services"
)

// SyncJobSubject is where queued sync jobs are published for the workers
const SyncJobSubject = "catalog.jobs.sync"

// SyncJobMessage is the payload a worker receives for one push
type SyncJobMessage struct {
	JobID       uuid.UUID          `json:"jobId"`
	ProductID   int64              `json:"productId"`
	ShopID      int64              `json:"shopId"`
	TriggeredBy models.TriggerType `json:"triggeredBy"`
	Fields      []string           `json:"fields"`
	Hash        string             `json:"hash,omitempty"`
	QueuedAt    time.Time          `json:"queuedAt"`
}

// JobPublisher hands a queued job to the workers
type JobPublisher interface {
	PublishJob(ctx context.Context, msg SyncJobMessage) error
}

// JetStreamPublisher publishes jobs on the catalog stream
type JetStreamPublisher struct {
	js jetstream.JetStream
}

// NewJetStreamPublisher creates a job publisher
func NewJetStreamPublisher(js jetstream.JetStream) *JetStreamPublisher {
	return &JetStreamPublisher{js: js}
}

func (p *JetStreamPublisher) PublishJob(ctx context.Context, msg SyncJobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(ctx, SyncJobSubject, data, jetstream.WithMsgID(msg.JobID.String()))
	return err
}

// Dispatcher records sync jobs in the database and publishes them to the workers.
// It implements services.Dispatcher.
type Dispatcher struct {
	repo      *repository.SyncRepository
	publisher JobPublisher
	logger    *logrus.Entry
}

// NewDispatcher creates a dispatcher. A nil publisher leaves jobs in the database for
// workers that poll it.
func NewDispatcher(repo *repository.SyncRepository, publisher JobPublisher, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		logger:    logger.WithField("component", "jobs.dispatcher"),
	}
}

var _ services.Dispatcher = (*Dispatcher)(nil)

func idempotencyKey(req services.SyncRequest) string {
	if req.Hash == "" {
		return ""
	}
	return fmt.Sprintf("%d:%d:%s", req.ProductID, req.ShopID, req.Hash)
}

// EnqueueSyncJob creates a queued job. An unfinished job for the same payload is reused.
func (d *Dispatcher) EnqueueSyncJob(ctx context.Context, req services.SyncRequest) (uuid.UUID, error) {
	key := idempotencyKey(req)
	if key != "" {
		existing, err := d.repo.GetJobByIdempotencyKey(ctx, key)
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, repository.ErrJobNotFound) {
			return uuid.Nil, err
		}
	}

	job := &models.SyncJob{
		ProductID:      req.ProductID,
		ShopID:         req.ShopID,
		Status:         models.JobStatusQueued,
		Fields:         models.JSONB{"fields": req.Fields, "hash": req.Hash},
		IdempotencyKey: key,
		TriggeredBy:    req.TriggeredBy,
	}
	if err := d.repo.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create sync job: %w", err)
	}
	d.log(ctx, job.ID, models.LogLevelInfo, "Job queued", models.JSONB{"triggered_by": string(req.TriggeredBy)})

	if d.publisher != nil {
		err := d.publisher.PublishJob(ctx, SyncJobMessage{
			JobID:       job.ID,
			ProductID:   req.ProductID,
			ShopID:      req.ShopID,
			TriggeredBy: req.TriggeredBy,
			Fields:      req.Fields,
			Hash:        req.Hash,
			QueuedAt:    job.CreatedAt,
		})
		if err != nil {
			msg := fmt.Sprintf("failed to publish job: %v", err)
			if updErr := d.repo.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, msg, nil); updErr != nil {
				d.logger.WithError(updErr).WithField("job_id", job.ID).Error("Failed to mark unpublished job")
			}
			return uuid.Nil, errors.New(msg)
		}
	}

	d.logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"product_id": req.ProductID,
		"shop_id":    req.ShopID,
	}).Debug("Sync job queued")
	return job.ID, nil
}

// PollJobStatus returns the current job record
func (d *Dispatcher) PollJobStatus(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error) {
	return d.repo.GetJobByID(ctx, jobID)
}

// MarkRunning records that a worker picked the job up
func (d *Dispatcher) MarkRunning(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error) {
	if err := d.repo.UpdateJobStatus(ctx, jobID, models.JobStatusRunning, "", nil); err != nil {
		return nil, err
	}
	d.log(ctx, jobID, models.LogLevelInfo, "Job started", nil)
	return d.repo.GetJobByID(ctx, jobID)
}

// ReportResult stores a worker's outcome and returns the updated job
func (d *Dispatcher) ReportResult(ctx context.Context, result models.JobResult) (*models.SyncJob, error) {
	job, err := d.repo.GetJobByID(ctx, result.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	status := models.JobStatusCompleted
	level := models.LogLevelInfo
	message := "Job completed"
	if !result.Success {
		status = models.JobStatusFailed
		level = models.LogLevelError
		message = result.Message
	}
	if err := d.repo.UpdateJobStatus(ctx, job.ID, status, result.Message, result.ExternalID); err != nil {
		return nil, err
	}
	d.log(ctx, job.ID, level, message, nil)
	return d.repo.GetJobByID(ctx, job.ID)
}

func (d *Dispatcher) log(ctx context.Context, jobID uuid.UUID, level models.LogLevel, message string, data models.JSONB) {
	if message == "" {
		message = "Job failed"
	}
	entry := &models.SyncLog{SyncJobID: jobID, Level: level, Message: message, Data: data}
	if err := d.repo.CreateLog(ctx, entry); err != nil {
		d.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to write sync log")
	}
}
