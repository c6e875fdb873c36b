package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncStatus is the synchronization state of one product in one shop
type SyncStatus string

const (
	SyncStatusNotLinked  SyncStatus = "NOT_LINKED"
	SyncStatusPending    SyncStatus = "PENDING"
	SyncStatusProcessing SyncStatus = "PROCESSING"
	SyncStatusSynced     SyncStatus = "SYNCED"
	SyncStatusError      SyncStatus = "ERROR"
	SyncStatusConflict   SyncStatus = "CONFLICT"
)

var syncTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusNotLinked:  {SyncStatusPending, SyncStatusSynced},
	SyncStatusPending:    {SyncStatusPending, SyncStatusProcessing, SyncStatusError},
	SyncStatusProcessing: {SyncStatusSynced, SyncStatusError},
	SyncStatusSynced:     {SyncStatusPending, SyncStatusSynced},
	SyncStatusError:      {SyncStatusPending, SyncStatusSynced},
	SyncStatusConflict:   {SyncStatusPending, SyncStatusSynced},
}

// CanTransition reports whether from -> to is allowed. Any state may enter CONFLICT.
func CanTransition(from, to SyncStatus) bool {
	if to == SyncStatusConflict {
		return true
	}
	if from == "" {
		from = SyncStatusNotLinked
	}
	for _, s := range syncTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for a disallowed status change
type TransitionError struct {
	From SyncStatus
	To   SyncStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid sync transition %s -> %s", e.From, e.To)
}

// JSONB custom type for PostgreSQL JSONB
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source %T", value)
	}
	return json.Unmarshal(bytes, j)
}

// JobStatus is the lifecycle of a background sync job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether the job has finished
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// TriggerType represents what triggered the sync
type TriggerType string

const (
	TriggerUserSave    TriggerType = "USER_SAVE"
	TriggerManualRetry TriggerType = "MANUAL_RETRY"
	TriggerInherited   TriggerType = "DEFAULT_CHANGE"
)

// SyncJob is a push of one product's resolved data to one shop
type SyncJob struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID int64     `gorm:"not null;index:idx_sync_jobs_product_shop,priority:1" json:"productId"`
	ShopID    int64     `gorm:"not null;index:idx_sync_jobs_product_shop,priority:2" json:"shopId"`

	Status JobStatus `gorm:"type:varchar(20);not null;default:'QUEUED';index:idx_sync_jobs_status" json:"status"`

	// Fields changed since the last successful push
	Fields JSONB `gorm:"type:jsonb" json:"fields,omitempty"`

	IdempotencyKey string      `gorm:"type:varchar(255);index:idx_sync_jobs_idempotency" json:"idempotencyKey,omitempty"`
	TriggeredBy    TriggerType `gorm:"type:varchar(50)" json:"triggeredBy,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ErrorMessage string `gorm:"type:text" json:"errorMessage,omitempty"`
	ExternalID   *int64 `json:"externalId,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	Logs []SyncLog `gorm:"foreignKey:SyncJobID" json:"logs,omitempty"`
}

// TableName specifies the table name for SyncJob
func (SyncJob) TableName() string {
	return "sync_jobs"
}

func (j *SyncJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobStatusQueued
	}
	return nil
}

// LogLevel represents the severity level of a sync log
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SyncLog represents a log entry for a sync job
type SyncLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SyncJobID uuid.UUID `gorm:"type:uuid;not null;index:idx_sync_logs_job" json:"syncJobId"`

	Level   LogLevel `gorm:"type:varchar(20);not null;default:'info'" json:"level"`
	Message string   `gorm:"type:text;not null" json:"message"`
	Data    JSONB    `gorm:"type:jsonb" json:"data,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for SyncLog
func (SyncLog) TableName() string {
	return "sync_logs"
}

func (l *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// JobResult is what a worker reports when a sync job finishes
type JobResult struct {
	JobID      uuid.UUID `json:"jobId"`
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	ExternalID *int64    `json:"externalId,omitempty"`
}
