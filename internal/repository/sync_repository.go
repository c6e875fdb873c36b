package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"catalog-override-service/internal/models"
)

var ErrJobNotFound = errors.New("sync job not found")

// SyncRepository handles database operations for sync jobs
type SyncRepository struct {
	db *gorm.DB
}

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db *gorm.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// CreateJob creates a new sync job
func (r *SyncRepository) CreateJob(ctx context.Context, job *models.SyncJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetJobByID retrieves a sync job by ID
func (r *SyncRepository) GetJobByID(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobByIdempotencyKey returns the unfinished job with the given key
func (r *SyncRepository) GetJobByIdempotencyKey(ctx context.Context, key string) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND status IN ?", key, []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJobStatus updates the job status, stamping start and completion times
func (r *SyncRepository) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errorMessage string, externalID *int64) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    now,
	}
	if status == models.JobStatusRunning {
		updates["started_at"] = &now
	}
	if status.IsTerminal() {
		updates["completed_at"] = &now
	}
	if externalID != nil {
		updates["external_id"] = *externalID
	}
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListJobsForProduct returns the most recent jobs of a product
func (r *SyncRepository) ListJobsForProduct(ctx context.Context, productID int64, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	query := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&jobs).Error
	return jobs, err
}

// CreateLog creates a new sync log entry
func (r *SyncRepository) CreateLog(ctx context.Context, log *models.SyncLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// GetJobLogs retrieves logs for a sync job
func (r *SyncRepository) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]models.SyncLog, error) {
	var logs []models.SyncLog
	err := r.db.WithContext(ctx).
		Where("sync_job_id = ?", jobID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
