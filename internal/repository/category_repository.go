package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog-override-service/internal/models"
)

// Cache TTL constants
const (
	CategoryTreeCacheTTL = 15 * time.Minute
	MappingCacheTTL      = 30 * time.Minute
)

const categoryTreeCacheKey = "catalog:categories:tree"

var (
	ErrCategoryNotFound = errors.New("category not found")
	ErrMappingNotFound  = errors.New("category mapping not found")
)

// CategoryRepository handles canonical categories and their shop mappings
type CategoryRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewCategoryRepository creates a new category repository. redis may be nil.
func NewCategoryRepository(db *gorm.DB, redis *redis.Client) *CategoryRepository {
	return &CategoryRepository{
		db:    db,
		redis: redis,
	}
}

func mappingByExternalKey(shopID, externalID int64) string {
	return fmt.Sprintf("catalog:mapping:%d:ext:%d", shopID, externalID)
}

func mappingByCategoryKey(shopID, categoryID int64) string {
	return fmt.Sprintf("catalog:mapping:%d:cat:%d", shopID, categoryID)
}

func (r *CategoryRepository) invalidateTree(ctx context.Context) {
	if r.redis == nil {
		return
	}
	r.redis.Del(ctx, categoryTreeCacheKey)
}

func (r *CategoryRepository) invalidateMapping(ctx context.Context, m *models.CategoryMapping) {
	if r.redis == nil {
		return
	}
	r.redis.Del(ctx,
		mappingByExternalKey(m.ShopID, m.ExternalID),
		mappingByCategoryKey(m.ShopID, m.CategoryID),
	)
}

// GetByID retrieves a category by ID
func (r *CategoryRepository) GetByID(ctx context.Context, id int64) (*models.Category, error) {
	var category models.Category
	err := r.db.WithContext(ctx).First(&category, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// ListAll returns every category, served from cache when available
func (r *CategoryRepository) ListAll(ctx context.Context) ([]models.Category, error) {
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, categoryTreeCacheKey).Result(); err == nil {
			var cached []models.Category
			if json.Unmarshal([]byte(val), &cached) == nil {
				return cached, nil
			}
		}
	}

	var categories []models.Category
	if err := r.db.WithContext(ctx).Order("level ASC, position ASC, id ASC").Find(&categories).Error; err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(categories); err == nil {
			r.redis.Set(ctx, categoryTreeCacheKey, data, CategoryTreeCacheTTL)
		}
	}
	return categories, nil
}

// ListRoots returns the structural root categories
func (r *CategoryRepository) ListRoots(ctx context.Context) ([]models.Category, error) {
	var roots []models.Category
	err := r.db.WithContext(ctx).Where("is_root = ?", true).Order("id ASC").Find(&roots).Error
	return roots, err
}

// Create inserts a canonical category
func (r *CategoryRepository) Create(ctx context.Context, category *models.Category) error {
	if err := r.db.WithContext(ctx).Create(category).Error; err != nil {
		return err
	}
	r.invalidateTree(ctx)
	return nil
}

// Delete removes a canonical category together with all of its shop mappings
func (r *CategoryRepository) Delete(ctx context.Context, id int64) error {
	var mappings []models.CategoryMapping
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category_id = ?", id).Find(&mappings).Error; err != nil {
			return err
		}
		if err := tx.Where("category_id = ?", id).Delete(&models.CategoryMapping{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Category{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCategoryNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range mappings {
		r.invalidateMapping(ctx, &mappings[i])
	}
	r.invalidateTree(ctx)
	return nil
}

// FindExternalID returns the shop-side id of a canonical category
func (r *CategoryRepository) FindExternalID(ctx context.Context, shopID, categoryID int64) (int64, error) {
	return r.cachedLookup(ctx, mappingByCategoryKey(shopID, categoryID), func() (int64, error) {
		var m models.CategoryMapping
		err := r.db.WithContext(ctx).
			Where("shop_id = ? AND category_id = ?", shopID, categoryID).
			First(&m).Error
		return m.ExternalID, err
	})
}

// FindCategoryID returns the canonical id of a shop-side category
func (r *CategoryRepository) FindCategoryID(ctx context.Context, shopID, externalID int64) (int64, error) {
	return r.cachedLookup(ctx, mappingByExternalKey(shopID, externalID), func() (int64, error) {
		var m models.CategoryMapping
		err := r.db.WithContext(ctx).
			Where("shop_id = ? AND external_id = ?", shopID, externalID).
			First(&m).Error
		return m.CategoryID, err
	})
}

func (r *CategoryRepository) cachedLookup(ctx context.Context, key string, load func() (int64, error)) (int64, error) {
	if r.redis != nil {
		if id, err := r.redis.Get(ctx, key).Int64(); err == nil {
			return id, nil
		}
	}

	id, err := load()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrMappingNotFound
	}
	if err != nil {
		return 0, err
	}

	if r.redis != nil {
		r.redis.Set(ctx, key, id, MappingCacheTTL)
	}
	return id, nil
}

// CreateWithMapping inserts a canonical category and its mapping in one transaction.
// When another writer already mapped (shopID, externalID) nothing is inserted and the
// existing canonical id is returned with created=false.
func (r *CategoryRepository) CreateWithMapping(ctx context.Context, category *models.Category, shopID, externalID int64) (int64, bool, error) {
	errMapped := errors.New("already mapped")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(category).Error; err != nil {
			return err
		}
		mapping := models.CategoryMapping{CategoryID: category.ID, ShopID: shopID, ExternalID: externalID}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&mapping)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errMapped
		}
		return nil
	})

	if errors.Is(err, errMapped) {
		existing, lookupErr := r.FindCategoryID(ctx, shopID, externalID)
		if lookupErr != nil {
			return 0, false, lookupErr
		}
		return existing, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	r.invalidateTree(ctx)
	return category.ID, true, nil
}

// DeleteMapping removes the mapping of a category in one shop
func (r *CategoryRepository) DeleteMapping(ctx context.Context, shopID, categoryID int64) error {
	var m models.CategoryMapping
	err := r.db.WithContext(ctx).Where("shop_id = ? AND category_id = ?", shopID, categoryID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Delete(&m).Error; err != nil {
		return err
	}
	r.invalidateMapping(ctx, &m)
	return nil
}

// CountMappings returns how many shops map a canonical category
func (r *CategoryRepository) CountMappings(ctx context.Context, categoryID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CategoryMapping{}).Where("category_id = ?", categoryID).Count(&count).Error
	return count, err
}

// ListMappings returns every mapping of a shop
func (r *CategoryRepository) ListMappings(ctx context.Context, shopID int64) ([]models.CategoryMapping, error) {
	var mappings []models.CategoryMapping
	err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).Order("category_id ASC").Find(&mappings).Error
	return mappings, err
}
