package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/events"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
)

type reconciliationFixture struct {
	svc     *ReconciliationService
	db      *gorm.DB
	ext     *fakeShop
	rec     *eventRecorder
	shop    *models.Shop
	roots   []models.Category
	product *models.Product
}

func newReconciliationFixture(t *testing.T, significant ...string) *reconciliationFixture {
	t.Helper()
	db := newTestDB(t)
	ext := newFakeShop()
	rec := &eventRecorder{}
	shops := repository.NewShopRepository(db)
	products := repository.NewProductRepository(db)
	mapper := NewCategoryMapper(repository.NewCategoryRepository(db, nil), shops, ext, rec)

	svc := NewReconciliationService(
		products,
		repository.NewShopDataRepository(db),
		shops,
		mapper,
		NewConflictResolver(significant),
		ext,
		rec,
	)

	shop, roots := seedShop(t, db)
	product := &models.Product{SKU: "SKU-1", Name: "Shirt", TaxRate: decimal.RequireFromString("23")}
	require.NoError(t, products.Create(context.Background(), product))

	return &reconciliationFixture{svc: svc, db: db, ext: ext, rec: rec, shop: shop, roots: roots, product: product}
}

func (f *reconciliationFixture) publish(id int64, name string, categoryIDs ...int64) {
	p := &clients.ExternalProduct{
		ID:          id,
		Fields:      map[models.Field]string{models.FieldName: name, models.FieldTaxRate: "23"},
		CategoryIDs: categoryIDs,
		UpdatedAt:   time.Now(),
	}
	if len(categoryIDs) > 0 {
		p.DefaultCategoryID = &categoryIDs[0]
	}
	f.ext.products[id] = p
}

func TestLink_ImportsExternalProduct(t *testing.T) {
	f := newReconciliationFixture(t)
	f.ext.addCategory(10, 2, "Shoes")
	f.publish(900, "Chemise", 10)
	ctx := context.Background()

	result, err := f.svc.Link(ctx, f.product.ID, f.shop.ID, 900)
	require.NoError(t, err)

	assert.True(t, result.Apply)
	assert.Equal(t, []int64{10}, result.MissingCategories)
	assert.Contains(t, result.Applied, "name")
	assert.NotContains(t, result.Applied, "tax_rate")
	assert.True(t, result.RootsRepaired)

	var data models.ProductShopData
	require.NoError(t, f.db.Where("product_id = ? AND shop_id = ?", f.product.ID, f.shop.ID).First(&data).Error)
	assert.Equal(t, models.SyncStatusSynced, data.SyncStatus)
	require.NotNil(t, data.Name)
	assert.Equal(t, "Chemise", *data.Name)
	assert.False(t, data.TaxRate.Valid, "value equal to default keeps inheriting")
	assert.NotNil(t, data.LastPulledAt)

	shoes, ok, err := f.svc.mapper.FromExternal(ctx, 10, f.shop.ID)
	require.NoError(t, err)
	require.True(t, ok)

	sel := data.Categories.Data()
	assert.ElementsMatch(t, []int64{shoes, f.roots[0].ID, f.roots[1].ID}, sel.Selected)
	require.NotNil(t, sel.Primary)
	assert.Equal(t, shoes, *sel.Primary)

	assert.Contains(t, f.rec.Types(), events.PullApplied)
	assert.Contains(t, f.rec.Types(), events.RootsRepaired)
}

func TestPull_RequiresLink(t *testing.T) {
	f := newReconciliationFixture(t)
	require.NoError(t, f.db.Create(&models.ProductShopData{ProductID: f.product.ID, ShopID: f.shop.ID}).Error)

	_, err := f.svc.Pull(context.Background(), f.product.ID, f.shop.ID)
	assert.ErrorIs(t, err, ErrShopNotLinked)
}

func TestPull_RejectedWhilePending(t *testing.T) {
	f := newReconciliationFixture(t)
	f.publish(900, "Chemise")
	require.NoError(t, f.db.Create(&models.ProductShopData{
		ProductID:  f.product.ID,
		ShopID:     f.shop.ID,
		Name:       ptr("Local edit"),
		SyncStatus: models.SyncStatusPending,
		ExternalID: ptr(int64(900)),
	}).Error)

	result, err := f.svc.Pull(context.Background(), f.product.ID, f.shop.ID)
	require.Error(t, err)
	assert.True(t, IsRejection(err))
	assert.True(t, result.Rejected)

	var data models.ProductShopData
	require.NoError(t, f.db.Where("product_id = ?", f.product.ID).First(&data).Error)
	assert.Equal(t, "Local edit", *data.Name)
	assert.Equal(t, models.SyncStatusPending, data.SyncStatus)
	assert.Equal(t, []string{events.PullRejected}, f.rec.Types())
}

func TestPull_RejectedWhileProcessingKeepsJobOutcome(t *testing.T) {
	f := newReconciliationFixture(t)
	f.publish(900, "Chemise")
	jobID := uuid.New()
	require.NoError(t, f.db.Create(&models.ProductShopData{
		ProductID:  f.product.ID,
		ShopID:     f.shop.ID,
		Name:       ptr("Local edit"),
		SyncStatus: models.SyncStatusProcessing,
		SyncJobID:  &jobID,
		ExternalID: ptr(int64(900)),
	}).Error)
	ctx := context.Background()

	result, err := f.svc.Pull(ctx, f.product.ID, f.shop.ID)
	require.Error(t, err)
	assert.True(t, IsRejection(err))
	assert.Equal(t, models.SyncStatusProcessing, result.Status)

	tracker := NewSyncStateTracker(repository.NewShopDataRepository(f.db), new(MockDispatcher), f.rec, SyncTrackerOptions{})
	require.NoError(t, tracker.OnJobResult(ctx, f.product.ID, f.shop.ID, models.JobResult{
		JobID: jobID, Success: false, Message: "shop rejected payload",
	}))

	data := loadShopData(t, f.db, f.product.ID, f.shop.ID)
	assert.Equal(t, models.SyncStatusError, data.SyncStatus)
	assert.Equal(t, "shop rejected payload", data.SyncError)
	assert.Equal(t, "Local edit", *data.Name)
}

func TestPull_ManualStrategyRecordsConflict(t *testing.T) {
	f := newReconciliationFixture(t)
	require.NoError(t, f.db.Model(f.shop).Update("conflict_strategy", models.StrategyManual).Error)
	f.publish(900, "Chemise")
	require.NoError(t, f.db.Create(&models.ProductShopData{
		ProductID:  f.product.ID,
		ShopID:     f.shop.ID,
		Name:       ptr("Hemd"),
		SyncStatus: models.SyncStatusSynced,
		ExternalID: ptr(int64(900)),
	}).Error)

	result, err := f.svc.Pull(context.Background(), f.product.ID, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusConflict, result.Status)

	var data models.ProductShopData
	require.NoError(t, f.db.Where("product_id = ?", f.product.ID).First(&data).Error)
	assert.Equal(t, models.SyncStatusConflict, data.SyncStatus)
	assert.Equal(t, "Hemd", *data.Name)
	assert.Contains(t, data.ConflictData, "name")
	assert.NotNil(t, data.ConflictDetectedAt)
	assert.Contains(t, f.rec.Types(), events.ConflictDetected)
}

func TestPull_FetchFailure(t *testing.T) {
	f := newReconciliationFixture(t)
	require.NoError(t, f.db.Create(&models.ProductShopData{
		ProductID:  f.product.ID,
		ShopID:     f.shop.ID,
		SyncStatus: models.SyncStatusSynced,
		ExternalID: ptr(int64(404)),
	}).Error)

	_, err := f.svc.Pull(context.Background(), f.product.ID, f.shop.ID)
	require.Error(t, err)
	assert.True(t, clients.IsNotFound(err))
	assert.False(t, errors.Is(err, ErrShopNotLinked))
}

func TestListNeedingAttention(t *testing.T) {
	f := newReconciliationFixture(t)
	for i, status := range []models.SyncStatus{models.SyncStatusSynced, models.SyncStatusError, models.SyncStatusConflict} {
		require.NoError(t, f.db.Create(&models.ProductShopData{
			ProductID: int64(100 + i), ShopID: f.shop.ID, SyncStatus: status,
		}).Error)
	}

	rows, err := f.svc.ListNeedingAttention(context.Background(), f.shop.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.SyncStatusError, rows[0].SyncStatus)
	assert.Equal(t, models.SyncStatusConflict, rows[1].SyncStatus)

	_, err = f.svc.ListNeedingAttention(context.Background(), 9999)
	assert.ErrorIs(t, err, repository.ErrShopNotFound)
}
