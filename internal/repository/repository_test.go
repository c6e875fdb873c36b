package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalog-override-service/internal/config"
	"catalog-override-service/internal/models"
)

var dbSeq int

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:repository_%d?mode=memory&cache=shared", dbSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, config.Migrate(db))
	return db
}

func TestProductRepository_UpdateWithVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	p := &models.Product{SKU: "SKU-1", Name: "Shirt"}
	require.NoError(t, repo.Create(ctx, p))
	assert.Equal(t, 1, p.Version)

	p.Name = "Blouse"
	require.NoError(t, repo.UpdateWithVersion(ctx, p, 1))
	assert.Equal(t, 2, p.Version)

	stale := &models.Product{ID: p.ID, SKU: "SKU-1", Name: "Tunic"}
	err := repo.UpdateWithVersion(ctx, stale, 1)
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.Equal(t, 1, stale.Version)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blouse", got.Name)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestShopDataRepository_OverridesAndSyncStateAreSeparate(t *testing.T) {
	db := newTestDB(t)
	repo := NewShopDataRepository(db)
	ctx := context.Background()

	data := &models.ProductShopData{ProductID: 1, ShopID: 2}
	name := "Hemd"
	require.NoError(t, data.SetOverride(models.FieldName, &name))
	require.NoError(t, repo.SaveOverrides(ctx, data, 0))
	require.NotZero(t, data.ID)
	version := data.Version

	jobID := uuid.New()
	data.SyncStatus = models.SyncStatusPending
	data.SyncJobID = &jobID
	require.NoError(t, repo.SaveSyncState(ctx, data))

	got, err := repo.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, version, got.Version, "sync state does not bump the override version")
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, "Hemd", *got.Name)

	tax := "8.50"
	require.NoError(t, got.SetOverride(models.FieldTaxRate, &tax))
	require.NoError(t, repo.SaveOverrides(ctx, got, version))
	assert.Equal(t, version+1, got.Version)

	again, err := repo.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, again.SyncStatus, "override saves keep sync columns")
	assert.True(t, again.TaxRate.Decimal.Equal(decimal.RequireFromString("8.5")))

	assert.ErrorIs(t, repo.SaveOverrides(ctx, again, version), ErrStaleVersion)
}

func TestShopDataRepository_Listings(t *testing.T) {
	db := newTestDB(t)
	repo := NewShopDataRepository(db)
	ctx := context.Background()

	jobID := uuid.New()
	rows := []models.ProductShopData{
		{ProductID: 1, ShopID: 1, SyncStatus: models.SyncStatusPending, SyncJobID: &jobID},
		{ProductID: 2, ShopID: 1, SyncStatus: models.SyncStatusError},
		{ProductID: 3, ShopID: 1, SyncStatus: models.SyncStatusSynced},
		{ProductID: 1, ShopID: 2, SyncStatus: models.SyncStatusConflict},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	awaiting, err := repo.ListAwaitingJob(ctx, 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, int64(1), awaiting[0].ProductID)

	attention, err := repo.ListNeedingAttention(ctx, 1)
	require.NoError(t, err)
	require.Len(t, attention, 2)
	for _, row := range attention {
		assert.True(t, row.NeedsSync())
	}

	byProduct, err := repo.ListByProduct(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byProduct, 2)
	assert.Equal(t, int64(1), byProduct[0].ShopID)

	created, err := repo.GetOrCreate(ctx, 9, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNotLinked, created.SyncStatus)
	same, err := repo.GetOrCreate(ctx, 9, 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, same.ID)

	_, err = repo.Get(ctx, 42, 42)
	assert.ErrorIs(t, err, ErrShopDataNotFound)
}

func TestCategoryRepository_Mappings(t *testing.T) {
	db := newTestDB(t)
	repo := NewCategoryRepository(db, nil)
	ctx := context.Background()

	id, created, err := repo.CreateWithMapping(ctx, &models.Category{Name: "Shoes"}, 1, 10)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.CreateWithMapping(ctx, &models.Category{Name: "Shoes"}, 1, 10)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "the losing insert is rolled back")

	ext, err := repo.FindExternalID(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), ext)

	_, err = repo.FindExternalID(ctx, 2, id)
	assert.ErrorIs(t, err, ErrMappingNotFound)

	require.NoError(t, repo.DeleteMapping(ctx, 1, id))
	require.NoError(t, repo.DeleteMapping(ctx, 1, id))
	count, err := repo.CountMappings(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, repo.Delete(ctx, id))
	assert.ErrorIs(t, repo.Delete(ctx, id), ErrCategoryNotFound)
}

func TestSyncRepository_IdempotencyKeyOnlyMatchesOpenJobs(t *testing.T) {
	db := newTestDB(t)
	repo := NewSyncRepository(db)
	ctx := context.Background()

	job := &models.SyncJob{ProductID: 1, ShopID: 1, IdempotencyKey: "1:1:abc"}
	require.NoError(t, repo.CreateJob(ctx, job))

	found, err := repo.GetJobByIdempotencyKey(ctx, "1:1:abc")
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)

	require.NoError(t, repo.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, "", nil))
	_, err = repo.GetJobByIdempotencyKey(ctx, "1:1:abc")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.ErrorIs(t, repo.UpdateJobStatus(ctx, uuid.New(), models.JobStatusFailed, "x", nil), ErrJobNotFound)
}
