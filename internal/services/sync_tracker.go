package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"catalog-override-service/internal/events"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
)

// SyncRequest describes a push of one product to one shop
type SyncRequest struct {
	ProductID   int64
	ShopID      int64
	TriggeredBy models.TriggerType
	Fields      []string
	Hash        string
}

// Dispatcher hands sync work to the background job system
type Dispatcher interface {
	EnqueueSyncJob(ctx context.Context, req SyncRequest) (uuid.UUID, error)
	PollJobStatus(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error)
}

// Puller runs a reconciliation pull after a successful push
type Puller interface {
	Pull(ctx context.Context, productID, shopID int64) (*PullResult, error)
}

// PendingChange is what MarkPending records for a shop context
type PendingChange struct {
	Fields  []string
	Hash    string
	Trigger models.TriggerType
}

// SyncStateTracker drives the per-shop sync status machine
type SyncStateTracker struct {
	shopData   *repository.ShopDataRepository
	dispatcher Dispatcher
	puller     Puller
	events     events.Emitter
	batchSize  int
	jobTimeout time.Duration
}

// SyncTrackerOptions tunes polling
type SyncTrackerOptions struct {
	BatchSize  int
	JobTimeout time.Duration
}

// NewSyncStateTracker creates a new sync state tracker
func NewSyncStateTracker(shopData *repository.ShopDataRepository, dispatcher Dispatcher, emitter events.Emitter, opts SyncTrackerOptions) *SyncStateTracker {
	if emitter == nil {
		emitter = events.Discard{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &SyncStateTracker{
		shopData:   shopData,
		dispatcher: dispatcher,
		events:     emitter,
		batchSize:  opts.BatchSize,
		jobTimeout: opts.JobTimeout,
	}
}

// SetPuller wires the reconciliation pull run after a successful job
func (t *SyncStateTracker) SetPuller(p Puller) {
	t.puller = p
}

// IsEditingBlocked is true only while the shop context is being pushed
func IsEditingBlocked(status models.SyncStatus) bool {
	return status == models.SyncStatusProcessing
}

func transition(data *models.ProductShopData, to models.SyncStatus) error {
	if !models.CanTransition(data.SyncStatus, to) {
		return &models.TransitionError{From: data.SyncStatus, To: to}
	}
	data.SyncStatus = to
	return nil
}

// Status returns the sync rows of a product
func (t *SyncStateTracker) Status(ctx context.Context, productID int64) ([]models.ProductShopData, error) {
	return t.shopData.ListByProduct(ctx, productID)
}

// MarkPending moves a shop context to PENDING and enqueues a sync job. A change whose hash
// equals the last synced payload of a SYNCED context is skipped and returns false.
// While the context is PROCESSING the change is queued behind the running push and
// dispatched when that push finishes; it also returns false.
func (t *SyncStateTracker) MarkPending(ctx context.Context, productID, shopID int64, change PendingChange) (bool, error) {
	data, err := t.shopData.GetOrCreate(ctx, productID, shopID)
	if err != nil {
		return false, err
	}
	if change.Hash != "" && data.SyncStatus == models.SyncStatusSynced && change.Hash == data.LastSyncHash {
		return false, nil
	}
	if change.Trigger == "" {
		change.Trigger = models.TriggerUserSave
	}
	if data.SyncStatus == models.SyncStatusProcessing {
		return false, t.queueBehindPush(ctx, data, change)
	}
	if err := transition(data, models.SyncStatusPending); err != nil {
		return false, err
	}

	data.PendingFields = mergeFields(data.PendingFields, change.Fields)
	data.SyncError = ""
	data.ConflictData = nil
	data.ConflictDetectedAt = nil

	return true, t.dispatch(ctx, data, change.Trigger, change.Hash)
}

func (t *SyncStateTracker) queueBehindPush(ctx context.Context, data *models.ProductShopData, change PendingChange) error {
	data.QueuedFields = mergeFields(data.QueuedFields, change.Fields)
	data.QueuedHash = change.Hash
	data.QueuedTrigger = change.Trigger
	if err := t.shopData.SaveSyncState(ctx, data); err != nil {
		return err
	}
	t.events.Emit(ctx, events.New(events.SyncQueued, data.ProductID, data.ShopID).
		With("fields", []string(data.QueuedFields)))
	return nil
}

// takeQueued moves a change queued behind the finished push into the pending fields.
// It reports whether a new push is needed.
func takeQueued(data *models.ProductShopData) (models.TriggerType, string, bool) {
	if len(data.QueuedFields) == 0 {
		return "", "", false
	}
	trigger, hash := data.QueuedTrigger, data.QueuedHash
	data.PendingFields = mergeFields(data.PendingFields, data.QueuedFields)
	data.QueuedFields = nil
	data.QueuedHash = ""
	data.QueuedTrigger = ""
	return trigger, hash, true
}

// Retry re-enqueues a failed or conflicting context. Retries are never automatic.
func (t *SyncStateTracker) Retry(ctx context.Context, productID, shopID int64) error {
	data, err := t.shopData.Get(ctx, productID, shopID)
	if err != nil {
		return err
	}
	if data.SyncStatus != models.SyncStatusError && data.SyncStatus != models.SyncStatusConflict {
		return &models.TransitionError{From: data.SyncStatus, To: models.SyncStatusPending}
	}
	if err := transition(data, models.SyncStatusPending); err != nil {
		return err
	}
	if len(data.PendingFields) == 0 {
		for _, f := range models.AllFields() {
			data.PendingFields = append(data.PendingFields, string(f))
		}
		data.PendingFields = append(data.PendingFields, CategoriesField)
	}
	data.SyncError = ""
	data.ConflictData = nil
	data.ConflictDetectedAt = nil
	return t.dispatch(ctx, data, models.TriggerManualRetry, "")
}

func (t *SyncStateTracker) dispatch(ctx context.Context, data *models.ProductShopData, trigger models.TriggerType, hash string) error {
	jobID, err := t.dispatcher.EnqueueSyncJob(ctx, SyncRequest{
		ProductID:   data.ProductID,
		ShopID:      data.ShopID,
		TriggeredBy: trigger,
		Fields:      data.PendingFields,
		Hash:        hash,
	})
	if err != nil {
		syncErr := &SyncError{Message: fmt.Sprintf("failed to enqueue sync job: %v", err)}
		data.SyncStatus = models.SyncStatusError
		data.SyncError = syncErr.Message
		data.SyncJobID = nil
		if saveErr := t.shopData.SaveSyncState(ctx, data); saveErr != nil {
			return errors.Join(syncErr, saveErr)
		}
		t.events.Emit(ctx, events.New(events.SyncFailed, data.ProductID, data.ShopID).With("error", syncErr.Message))
		return syncErr
	}

	data.SyncJobID = &jobID
	if err := t.shopData.SaveSyncState(ctx, data); err != nil {
		return err
	}
	t.events.Emit(ctx, events.New(events.SyncMarkedPending, data.ProductID, data.ShopID).
		With("job_id", jobID.String()).
		With("fields", []string(data.PendingFields)).
		With("triggered_by", string(trigger)))
	return nil
}

// MarkProcessing records that the job system started pushing the context
func (t *SyncStateTracker) MarkProcessing(ctx context.Context, productID, shopID int64) error {
	data, err := t.shopData.Get(ctx, productID, shopID)
	if err != nil {
		return err
	}
	if data.SyncStatus == models.SyncStatusProcessing {
		return nil
	}
	if err := transition(data, models.SyncStatusProcessing); err != nil {
		return err
	}
	if err := t.shopData.SaveSyncState(ctx, data); err != nil {
		return err
	}
	t.events.Emit(ctx, events.New(events.SyncProcessing, productID, shopID))
	return nil
}

// OnJobStarted moves the context to PROCESSING when jobID is its current job.
// Notifications for superseded jobs are ignored.
func (t *SyncStateTracker) OnJobStarted(ctx context.Context, productID, shopID int64, jobID uuid.UUID) error {
	data, err := t.shopData.Get(ctx, productID, shopID)
	if err != nil {
		return err
	}
	if data.SyncJobID == nil || *data.SyncJobID != jobID {
		return nil
	}
	return t.MarkProcessing(ctx, productID, shopID)
}

// OnJobResult applies a finished job. Success moves to SYNCED and triggers exactly one
// reconciliation pull; failure moves to ERROR and waits for a manual retry.
// Results for a job other than the context's current one are ignored.
func (t *SyncStateTracker) OnJobResult(ctx context.Context, productID, shopID int64, result models.JobResult) error {
	data, err := t.shopData.Get(ctx, productID, shopID)
	if err != nil {
		return err
	}
	if data.SyncJobID == nil || *data.SyncJobID != result.JobID {
		return nil
	}
	if data.SyncStatus == models.SyncStatusPending {
		if err := transition(data, models.SyncStatusProcessing); err != nil {
			return err
		}
	}

	if !result.Success {
		if err := transition(data, models.SyncStatusError); err != nil {
			return err
		}
		// A manual retry pushes the queued fields together with the failed ones
		takeQueued(data)
		data.SyncError = result.Message
		if err := t.shopData.SaveSyncState(ctx, data); err != nil {
			return err
		}
		t.events.Emit(ctx, events.New(events.SyncFailed, productID, shopID).
			With("job_id", result.JobID.String()).
			With("error", result.Message))
		return nil
	}

	if err := transition(data, models.SyncStatusSynced); err != nil {
		return err
	}
	now := time.Now()
	data.PendingFields = nil
	data.SyncError = ""
	data.SyncJobID = nil
	data.LastSyncAt = &now
	if result.ExternalID != nil {
		data.ExternalID = result.ExternalID
	}
	if job, err := t.dispatcher.PollJobStatus(ctx, result.JobID); err == nil {
		if hash, ok := job.Fields["hash"].(string); ok {
			data.LastSyncHash = hash
		}
	}
	if err := t.shopData.SaveSyncState(ctx, data); err != nil {
		return err
	}
	t.events.Emit(ctx, events.New(events.SyncSucceeded, productID, shopID).With("job_id", result.JobID.String()))

	if trigger, hash, ok := takeQueued(data); ok {
		if hash != "" && hash == data.LastSyncHash {
			data.PendingFields = nil
			return t.shopData.SaveSyncState(ctx, data)
		}
		if err := transition(data, models.SyncStatusPending); err != nil {
			return err
		}
		return t.dispatch(ctx, data, trigger, hash)
	}

	if t.puller != nil && data.ExternalID != nil {
		if _, err := t.puller.Pull(ctx, productID, shopID); err != nil && !IsRejection(err) {
			t.events.Emit(ctx, events.New(events.PullFailed, productID, shopID).With("error", err.Error()))
		}
	}
	return nil
}

// PollActive checks every context with an outstanding job and applies finished results.
// It returns how many contexts changed state.
func (t *SyncStateTracker) PollActive(ctx context.Context) (int, error) {
	rows, err := t.shopData.ListAwaitingJob(ctx, t.batchSize)
	if err != nil {
		return 0, err
	}

	changed := 0
	var errs []error
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		moved, err := t.pollOne(ctx, row)
		if err != nil {
			errs = append(errs, fmt.Errorf("product %d shop %d: %w", row.ProductID, row.ShopID, err))
			continue
		}
		if moved {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func (t *SyncStateTracker) pollOne(ctx context.Context, row models.ProductShopData) (bool, error) {
	job, err := t.dispatcher.PollJobStatus(ctx, *row.SyncJobID)
	if err != nil {
		return false, err
	}

	switch job.Status {
	case models.JobStatusRunning:
		if row.SyncStatus == models.SyncStatusPending {
			return true, t.MarkProcessing(ctx, row.ProductID, row.ShopID)
		}
	case models.JobStatusCompleted:
		return true, t.OnJobResult(ctx, row.ProductID, row.ShopID, models.JobResult{
			JobID: job.ID, Success: true, ExternalID: job.ExternalID,
		})
	case models.JobStatusFailed:
		return true, t.OnJobResult(ctx, row.ProductID, row.ShopID, models.JobResult{
			JobID: job.ID, Success: false, Message: job.ErrorMessage,
		})
	}

	if t.jobTimeout > 0 && time.Since(job.CreatedAt) > t.jobTimeout {
		return true, t.OnJobResult(ctx, row.ProductID, row.ShopID, models.JobResult{
			JobID: job.ID, Success: false, Message: fmt.Sprintf("sync job timed out after %s", t.jobTimeout),
		})
	}
	return false, nil
}

func mergeFields(existing []string, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	var out []string
	for _, f := range append(append([]string(nil), existing...), added...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SyncHash fingerprints the values a shop would publish
func SyncHash(effective models.FormState) string {
	var b strings.Builder
	for _, f := range models.AllFields() {
		v := effective.Get(f)
		if n, err := NormalizeValue(f, &v); err == nil {
			v = n
		}
		b.WriteString(string(f))
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteString("categories=")
	b.WriteString(NormalizeIDSet(effective.Categories.Selected))
	if p := effective.Categories.Primary; p != nil {
		fmt.Fprintf(&b, "\nprimary=%d", *p)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
