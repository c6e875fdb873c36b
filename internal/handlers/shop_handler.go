package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
)

// KeyStore persists shop API keys outside the database
type KeyStore interface {
	BuildSecretName(shopName string) string
	StoreAPIKey(ctx context.Context, secretName, apiKey string) error
}

// ShopHandler manages shop connection settings
type ShopHandler struct {
	shops   *repository.ShopRepository
	keys    KeyStore
	clients clients.ClientFactory
}

// NewShopHandler creates a new shop handler. keys may be nil, in which case API keys are
// stored inline on the shop row.
func NewShopHandler(shops *repository.ShopRepository, keys KeyStore, clientFactory clients.ClientFactory) *ShopHandler {
	return &ShopHandler{shops: shops, keys: keys, clients: clientFactory}
}

// UpdateCredentialsRequest replaces a shop's API key
type UpdateCredentialsRequest struct {
	APIKey string `json:"apiKey" binding:"required"`
}

// UpdateSettingsRequest changes how a shop reconciles inbound data
type UpdateSettingsRequest struct {
	ConflictStrategy *models.ConflictStrategy `json:"conflictStrategy"`
	IsActive         *bool                    `json:"isActive"`
}

// List returns the configured shops
func (h *ShopHandler) List(c *gin.Context) {
	shops, err := h.shops.List(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": shops, "total": len(shops)})
}

// UpdateSettings changes the conflict strategy or active flag of a shop
func (h *ShopHandler) UpdateSettings(c *gin.Context) {
	shopID, ok := parseIDParam(c, "shopId")
	if !ok {
		return
	}
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ConflictStrategy != nil && !req.ConflictStrategy.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown conflict strategy"})
		return
	}

	shop, err := h.shops.GetByID(c.Request.Context(), shopID)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.ConflictStrategy != nil {
		shop.ConflictStrategy = *req.ConflictStrategy
	}
	if req.IsActive != nil {
		shop.IsActive = *req.IsActive
	}
	if err := h.shops.Update(c.Request.Context(), shop); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": shop})
}

// UpdateCredentials stores a new API key for the shop
func (h *ShopHandler) UpdateCredentials(c *gin.Context) {
	shopID, ok := parseIDParam(c, "shopId")
	if !ok {
		return
	}
	var req UpdateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	shop, err := h.shops.GetByID(ctx, shopID)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.keys != nil {
		name := h.keys.BuildSecretName(shop.Name)
		if err := h.keys.StoreAPIKey(ctx, name, req.APIKey); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credentials"})
			return
		}
		shop.SecretReference = name
		shop.APIKey = ""
	} else {
		shop.APIKey = req.APIKey
	}
	if err := h.shops.Update(ctx, shop); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "credentials updated"})
}

// TestConnection checks that the shop accepts the stored credentials
func (h *ShopHandler) TestConnection(c *gin.Context) {
	shopID, ok := parseIDParam(c, "shopId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	shop, err := h.shops.GetByID(ctx, shopID)
	if err != nil {
		respondError(c, err)
		return
	}
	client, err := h.clients.ClientFor(ctx, shop)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := client.TestConnection(ctx); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
