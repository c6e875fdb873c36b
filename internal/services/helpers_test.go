package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/config"
	"catalog-override-service/internal/events"
	"catalog-override-service/internal/models"
)

var dbSeq int

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", dbSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, config.Migrate(db))
	return db
}

// fakeShop is an in-memory shop platform
type fakeShop struct {
	mu         sync.Mutex
	categories map[int64]*clients.ExternalCategory
	products   map[int64]*clients.ExternalProduct
	nextID     int64
	fetches    int
	deleted    []int64
	failCreate error
	failGet    error
	failDelete map[int64]error
}

func newFakeShop() *fakeShop {
	return &fakeShop{
		categories: map[int64]*clients.ExternalCategory{
			1: {ID: 1, Name: "Root", IsRoot: true},
			2: {ID: 2, ParentID: 1, Name: "Home", IsRoot: true},
		},
		products:   make(map[int64]*clients.ExternalProduct),
		nextID:     100,
		failDelete: make(map[int64]error),
	}
}

func (f *fakeShop) ClientFor(context.Context, *models.Shop) (clients.ShopClient, error) {
	return f, nil
}

func (f *fakeShop) TestConnection(context.Context) error { return nil }

func (f *fakeShop) addCategory(id, parentID int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[id] = &clients.ExternalCategory{ID: id, ParentID: parentID, Name: name}
}

func (f *fakeShop) GetCategory(_ context.Context, externalID int64) (*clients.ExternalCategory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.failGet != nil {
		return nil, f.failGet
	}
	c, ok := f.categories[externalID]
	if !ok {
		return nil, &clients.APIError{StatusCode: 404, Body: "not found"}
	}
	copied := *c
	return &copied, nil
}

func (f *fakeShop) CreateCategory(_ context.Context, name string, parentExternalID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return 0, f.failCreate
	}
	f.nextID++
	f.categories[f.nextID] = &clients.ExternalCategory{ID: f.nextID, ParentID: parentExternalID, Name: name}
	return f.nextID, nil
}

func (f *fakeShop) DeleteCategory(_ context.Context, externalID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failDelete[externalID]; err != nil {
		return err
	}
	delete(f.categories, externalID)
	f.deleted = append(f.deleted, externalID)
	return nil
}

func (f *fakeShop) GetProduct(_ context.Context, externalID int64) (*clients.ExternalProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[externalID]
	if !ok {
		return nil, &clients.APIError{StatusCode: 404, Body: "not found"}
	}
	copied := *p
	copied.Fields = make(map[models.Field]string, len(p.Fields))
	for k, v := range p.Fields {
		copied.Fields[k] = v
	}
	return &copied, nil
}

var errShopDown = errors.New("shop unavailable")

// seedShop creates a shop whose roots 1 and 2 pair with canonical Root and Home
func seedShop(t *testing.T, db *gorm.DB) (*models.Shop, []models.Category) {
	t.Helper()
	var roots []models.Category
	require.NoError(t, db.Where("is_root = ?", true).Order("id ASC").Find(&roots).Error)
	if len(roots) == 0 {
		root := models.Category{Name: "Root", IsRoot: true}
		require.NoError(t, db.Create(&root).Error)
		home := models.Category{Name: "Home", IsRoot: true, ParentID: &root.ID, Level: 1}
		require.NoError(t, db.Create(&home).Error)
		roots = []models.Category{root, home}
	}

	shop := &models.Shop{
		Name:            fmt.Sprintf("shop-%d", time.Now().UnixNano()),
		APIURL:          "http://shop.test",
		IsActive:        true,
		APIKey:          "key",
		RootExternalIDs: datatypes.JSONSlice[int64]{1, 2},
	}
	require.NoError(t, db.Create(shop).Error)
	return shop, roots
}

func seedCategory(t *testing.T, db *gorm.DB, name string, parentID *int64) models.Category {
	t.Helper()
	c := models.Category{Name: name, ParentID: parentID}
	require.NoError(t, db.Create(&c).Error)
	return c
}

func seedMapping(t *testing.T, db *gorm.DB, categoryID, shopID, externalID int64) {
	t.Helper()
	require.NoError(t, db.Create(&models.CategoryMapping{CategoryID: categoryID, ShopID: shopID, ExternalID: externalID}).Error)
}

func ptr[T any](v T) *T {
	return &v
}

// eventRecorder keeps emitted events in memory
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Emit(_ context.Context, event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Types lists the recorded event types in order
func (r *eventRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
