package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalog-override-service/internal/models"
)

// ShopClient defines the operations the engine needs from an external shop platform
type ShopClient interface {
	// TestConnection verifies the credentials are accepted
	TestConnection(ctx context.Context) error

	// Categories
	GetCategory(ctx context.Context, externalID int64) (*ExternalCategory, error)
	CreateCategory(ctx context.Context, name string, parentExternalID int64) (int64, error)
	DeleteCategory(ctx context.Context, externalID int64) error

	// Products
	GetProduct(ctx context.Context, externalID int64) (*ExternalProduct, error)
}

// ClientFactory returns a client bound to a shop's credentials
type ClientFactory interface {
	ClientFor(ctx context.Context, shop *models.Shop) (ShopClient, error)
}

// ExternalCategory is a category as the shop platform reports it
type ExternalCategory struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parentId"`
	Name     string `json:"name"`
	IsRoot   bool   `json:"isRoot"`
}

// ExternalProduct is a product as the shop platform reports it.
// Fields holds values already converted to canonical string form;
// "" means the platform has no value.
type ExternalProduct struct {
	ID                int64                   `json:"id"`
	Fields            map[models.Field]string `json:"fields"`
	CategoryIDs       []int64                 `json:"categoryIds"`
	DefaultCategoryID *int64                  `json:"defaultCategoryId,omitempty"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

// APIError is a non-2xx response from a shop platform
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shop API error (status %d): %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the shop platform
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ErrCircuitOpen is returned while the circuit breaker rejects calls
var ErrCircuitOpen = errors.New("shop API circuit open")
