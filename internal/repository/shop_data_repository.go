package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"catalog-override-service/internal/models"
)

// syncColumns are written by the sync tracker without touching the override version
var syncColumns = []string{
	"sync_status", "pending_fields", "sync_job_id", "queued_fields", "queued_hash", "queued_trigger", "sync_error",
	"conflict_data", "last_sync_hash", "external_id",
	"last_sync_at", "last_pulled_at", "conflict_detected_at", "updated_at",
}

// ShopDataRepository handles per-shop override rows
type ShopDataRepository struct {
	db *gorm.DB
}

// NewShopDataRepository creates a new shop data repository
func NewShopDataRepository(db *gorm.DB) *ShopDataRepository {
	return &ShopDataRepository{db: db}
}

// Get retrieves the row for (productID, shopID)
func (r *ShopDataRepository) Get(ctx context.Context, productID, shopID int64) (*models.ProductShopData, error) {
	var data models.ProductShopData
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND shop_id = ?", productID, shopID).
		First(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShopDataNotFound
	}
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// ListByProduct returns every shop row of a product ordered by shop
func (r *ShopDataRepository) ListByProduct(ctx context.Context, productID int64) ([]models.ProductShopData, error) {
	var rows []models.ProductShopData
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("shop_id ASC").
		Find(&rows).Error
	return rows, err
}

// ListAwaitingJob returns rows with an outstanding sync job
func (r *ShopDataRepository) ListAwaitingJob(ctx context.Context, limit int) ([]models.ProductShopData, error) {
	var rows []models.ProductShopData
	query := r.db.WithContext(ctx).
		Where("sync_job_id IS NOT NULL AND sync_status IN ?", []models.SyncStatus{
			models.SyncStatusPending,
			models.SyncStatusProcessing,
		}).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&rows).Error
	return rows, err
}

// ListNeedingAttention returns rows that are pending, failed or in conflict
func (r *ShopDataRepository) ListNeedingAttention(ctx context.Context, shopID int64) ([]models.ProductShopData, error) {
	var rows []models.ProductShopData
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND sync_status IN ?", shopID, []models.SyncStatus{
			models.SyncStatusPending,
			models.SyncStatusError,
			models.SyncStatusConflict,
		}).
		Order("product_id ASC").
		Find(&rows).Error
	return rows, err
}

// SaveOverrides persists the override layer. A new row is inserted when data.ID is zero;
// otherwise the update only applies if the stored version equals expectedVersion.
func (r *ShopDataRepository) SaveOverrides(ctx context.Context, data *models.ProductShopData, expectedVersion int) error {
	if data.ID == 0 {
		return r.db.WithContext(ctx).Create(data).Error
	}

	data.Version = expectedVersion + 1
	result := r.db.WithContext(ctx).
		Model(&models.ProductShopData{}).
		Where("id = ? AND version = ?", data.ID, expectedVersion).
		Select("*").
		Omit(append([]string{"id", "product_id", "shop_id", "created_at"}, syncColumns[:len(syncColumns)-1]...)...).
		Updates(data)
	if result.Error != nil {
		data.Version = expectedVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		data.Version = expectedVersion
		return ErrStaleVersion
	}
	return nil
}

// SaveSyncState writes only the sync tracking columns
func (r *ShopDataRepository) SaveSyncState(ctx context.Context, data *models.ProductShopData) error {
	data.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Model(&models.ProductShopData{}).
		Where("id = ?", data.ID).
		Select(syncColumns).
		Updates(data).Error
}

// GetOrCreate returns the row for (productID, shopID), inserting an unlinked one if missing
func (r *ShopDataRepository) GetOrCreate(ctx context.Context, productID, shopID int64) (*models.ProductShopData, error) {
	data := models.ProductShopData{ProductID: productID, ShopID: shopID}
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND shop_id = ?", productID, shopID).
		FirstOrCreate(&data).Error
	if err != nil {
		return nil, err
	}
	return &data, nil
}
