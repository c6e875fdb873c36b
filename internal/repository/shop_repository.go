package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"catalog-override-service/internal/models"
)

var ErrShopNotFound = errors.New("shop not found")

// ShopRepository handles database operations for shops
type ShopRepository struct {
	db *gorm.DB
}

// NewShopRepository creates a new shop repository
func NewShopRepository(db *gorm.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

// Create inserts a shop
func (r *ShopRepository) Create(ctx context.Context, shop *models.Shop) error {
	return r.db.WithContext(ctx).Create(shop).Error
}

// GetByID retrieves a shop by ID
func (r *ShopRepository) GetByID(ctx context.Context, id int64) (*models.Shop, error) {
	var shop models.Shop
	err := r.db.WithContext(ctx).First(&shop, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// List returns all shops, optionally only active ones
func (r *ShopRepository) List(ctx context.Context, activeOnly bool) ([]models.Shop, error) {
	var shops []models.Shop
	query := r.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Find(&shops).Error
	return shops, err
}

// Update saves a shop
func (r *ShopRepository) Update(ctx context.Context, shop *models.Shop) error {
	return r.db.WithContext(ctx).Save(shop).Error
}
