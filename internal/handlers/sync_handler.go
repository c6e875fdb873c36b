package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"catalog-override-service/internal/jobs"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
	"catalog-override-service/internal/services"
)

// SyncHandler handles per-shop sync state and the job worker callbacks
type SyncHandler struct {
	tracker        *services.SyncStateTracker
	reconciliation *services.ReconciliationService
	dispatcher     *jobs.Dispatcher
	syncRepo       *repository.SyncRepository
	logger         *logrus.Entry
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(
	tracker *services.SyncStateTracker,
	reconciliation *services.ReconciliationService,
	dispatcher *jobs.Dispatcher,
	syncRepo *repository.SyncRepository,
	logger *logrus.Logger,
) *SyncHandler {
	return &SyncHandler{
		tracker:        tracker,
		reconciliation: reconciliation,
		dispatcher:     dispatcher,
		syncRepo:       syncRepo,
		logger:         logger.WithField("component", "handlers.sync"),
	}
}

// LinkRequest attaches a shop context to an existing external product
type LinkRequest struct {
	ExternalID int64 `json:"externalId" binding:"required,gt=0"`
}

func productShopParams(c *gin.Context) (int64, int64, bool) {
	productID, ok := parseIDParam(c, "id")
	if !ok {
		return 0, 0, false
	}
	shopID, ok := parseIDParam(c, "shopId")
	if !ok {
		return 0, 0, false
	}
	return productID, shopID, true
}

// Status returns the sync state of a product in every shop plus its recent jobs
func (h *SyncHandler) Status(c *gin.Context) {
	productID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.tracker.Status(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}

	limit := 20
	if l, err := strconv.Atoi(c.Query("jobs")); err == nil && l >= 0 {
		limit = l
	}
	var recent []models.SyncJob
	if limit > 0 {
		recent, err = h.syncRepo.ListJobsForProduct(c.Request.Context(), productID, limit)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	shops := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		shops = append(shops, gin.H{
			"shopId":         row.ShopID,
			"status":         row.SyncStatus,
			"editingBlocked": services.IsEditingBlocked(row.SyncStatus),
			"pendingFields":  row.PendingFields,
			"error":          row.SyncError,
			"conflict":       row.ConflictData,
			"jobId":          row.SyncJobID,
			"externalId":     row.ExternalID,
			"lastSyncAt":     row.LastSyncAt,
			"lastPulledAt":   row.LastPulledAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": shops, "jobs": recent})
}

// Retry re-enqueues a context in ERROR or CONFLICT
func (h *SyncHandler) Retry(c *gin.Context) {
	productID, shopID, ok := productShopParams(c)
	if !ok {
		return
	}
	if err := h.tracker.Retry(c.Request.Context(), productID, shopID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "sync retry queued"})
}

// Pull reconciles a shop context with the external product
func (h *SyncHandler) Pull(c *gin.Context) {
	productID, shopID, ok := productShopParams(c)
	if !ok {
		return
	}
	result, err := h.reconciliation.Pull(c.Request.Context(), productID, shopID)
	if err != nil {
		if services.IsRejection(err) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "data": result})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// Link attaches a shop context to an external product and imports it
func (h *SyncHandler) Link(c *gin.Context) {
	productID, shopID, ok := productShopParams(c)
	if !ok {
		return
	}
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.reconciliation.Link(c.Request.Context(), productID, shopID, req.ExternalID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// ListNeedingAttention returns the contexts of a shop in ERROR or CONFLICT
func (h *SyncHandler) ListNeedingAttention(c *gin.Context) {
	shopID, ok := parseIDParam(c, "shopId")
	if !ok {
		return
	}
	rows, err := h.reconciliation.ListNeedingAttention(c.Request.Context(), shopID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "total": len(rows)})
}

func jobIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return uuid.Nil, false
	}
	return id, true
}

// GetJob returns a sync job with its logs
func (h *SyncHandler) GetJob(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	job, err := h.dispatcher.PollJobStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	logs, err := h.syncRepo.GetJobLogs(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	job.Logs = logs
	c.JSON(http.StatusOK, gin.H{"data": job})
}

// StartJob is called by a worker when it begins pushing a job
func (h *SyncHandler) StartJob(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	job, err := h.dispatcher.MarkRunning(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.tracker.OnJobStarted(c.Request.Context(), job.ProductID, job.ShopID, job.ID); err != nil {
		h.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to mark context processing")
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}

// ReportResult is called by a worker when a job finishes
func (h *SyncHandler) ReportResult(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	var result models.JobResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result.JobID = id

	job, err := h.dispatcher.ReportResult(c.Request.Context(), result)
	if err != nil {
		respondError(c, err)
		return
	}
	// a repeated callback replays the stored outcome, not the new payload
	applied := models.JobResult{
		JobID:      job.ID,
		Success:    job.Status == models.JobStatusCompleted,
		Message:    job.ErrorMessage,
		ExternalID: job.ExternalID,
	}
	if err := h.tracker.OnJobResult(c.Request.Context(), job.ProductID, job.ShopID, applied); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}
