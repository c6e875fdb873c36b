package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"catalog-override-service/internal/models"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrShopDataNotFound = errors.New("shop data not found")
	ErrStaleVersion     = errors.New("record was modified by another writer")
)

// ProductRepository handles database operations for canonical products
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts a new product
func (r *ProductRepository) Create(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// GetByID retrieves a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateWithVersion writes the product if its stored version still equals expectedVersion.
// On success product.Version is advanced.
func (r *ProductRepository) UpdateWithVersion(ctx context.Context, product *models.Product, expectedVersion int) error {
	product.Version = expectedVersion + 1
	result := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND version = ?", product.ID, expectedVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(product)
	if result.Error != nil {
		product.Version = expectedVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		product.Version = expectedVersion
		return ErrStaleVersion
	}
	return nil
}
