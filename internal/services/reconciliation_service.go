package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/events"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
)

// PullResult reports what a reconciliation pull did
type PullResult struct {
	Resolution
	ProductID         int64    `json:"productId"`
	ShopID            int64    `json:"shopId"`
	Applied           []string `json:"applied,omitempty"`
	RootsRepaired     bool     `json:"rootsRepaired"`
	MissingCategories []int64  `json:"missingCategories,omitempty"`
}

// ReconciliationService pulls external product data back into shop contexts
type ReconciliationService struct {
	products      *repository.ProductRepository
	shopData      *repository.ShopDataRepository
	shops         *repository.ShopRepository
	mapper        *CategoryMapper
	resolver      *ConflictResolver
	clientFactory clients.ClientFactory
	events        events.Emitter
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	products *repository.ProductRepository,
	shopData *repository.ShopDataRepository,
	shops *repository.ShopRepository,
	mapper *CategoryMapper,
	resolver *ConflictResolver,
	clientFactory clients.ClientFactory,
	emitter events.Emitter,
) *ReconciliationService {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &ReconciliationService{
		products:      products,
		shopData:      shopData,
		shops:         shops,
		mapper:        mapper,
		resolver:      resolver,
		clientFactory: clientFactory,
		events:        emitter,
	}
}

// Link attaches a shop context to an existing external product and pulls it
func (s *ReconciliationService) Link(ctx context.Context, productID, shopID, externalID int64) (*PullResult, error) {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	if _, err := s.shops.GetByID(ctx, shopID); err != nil {
		return nil, err
	}
	data, err := s.shopData.GetOrCreate(ctx, productID, shopID)
	if err != nil {
		return nil, err
	}
	data.ExternalID = &externalID
	if err := s.shopData.SaveSyncState(ctx, data); err != nil {
		return nil, err
	}
	return s.Pull(ctx, productID, shopID)
}

// Pull fetches the external product and lets the conflict resolver decide whether its
// values replace the shop overrides. A PENDING or PROCESSING context returns a
// *ConflictRejection.
func (s *ReconciliationService) Pull(ctx context.Context, productID, shopID int64) (*PullResult, error) {
	data, err := s.shopData.Get(ctx, productID, shopID)
	if err != nil {
		return nil, err
	}
	if data.ExternalID == nil {
		return nil, ErrShopNotLinked
	}

	result := &PullResult{ProductID: productID, ShopID: shopID}
	if data.SyncStatus == models.SyncStatusPending || data.SyncStatus == models.SyncStatusProcessing {
		result.Resolution = s.resolver.Resolve("", data, models.FormState{}, InboundProduct{})
		s.events.Emit(ctx, events.New(events.PullRejected, productID, shopID).With("reason", result.Reason))
		return result, &ConflictRejection{ProductID: productID, ShopID: shopID}
	}

	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	shop, err := s.shops.GetByID(ctx, shopID)
	if err != nil {
		return nil, err
	}
	client, err := s.clientFactory.ClientFor(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("failed to create shop client: %w", err)
	}
	external, err := client.GetProduct(ctx, *data.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch external product %d: %w", *data.ExternalID, err)
	}

	inbound, missing, err := s.mapInbound(ctx, shopID, external)
	if err != nil {
		return nil, err
	}
	result.MissingCategories = missing

	defaults := product.FormState()
	local := Effective(models.ShopContext(shopID), data.FormState(), defaults)
	result.Resolution = s.resolver.Resolve(shop.Strategy(), data, local, inbound)

	now := time.Now()
	data.LastPulledAt = &now

	switch {
	case result.Status == models.SyncStatusConflict:
		if err := transition(data, models.SyncStatusConflict); err != nil {
			return nil, err
		}
		data.ConflictData = conflictData(result.Conflicts)
		data.ConflictDetectedAt = &now
		if err := s.shopData.SaveSyncState(ctx, data); err != nil {
			return nil, err
		}
		s.events.Emit(ctx, events.New(events.ConflictDetected, productID, shopID).
			With("fields", len(result.Conflicts)).
			With("reason", result.Reason))
		return result, nil

	case result.Apply:
		applied, err := ApplyInbound(data, defaults, inbound)
		if err != nil {
			return nil, err
		}
		repaired, changed, err := s.mapper.EnsureRoots(ctx, data.Categories.Data())
		if err != nil {
			return nil, err
		}
		if changed {
			data.Categories = datatypes.NewJSONType(repaired)
			result.RootsRepaired = true
		}
		if len(applied) > 0 || changed {
			if err := s.shopData.SaveOverrides(ctx, data, data.Version); err != nil {
				return nil, err
			}
		}
		result.Applied = applied
	}

	if err := transition(data, models.SyncStatusSynced); err != nil {
		return nil, err
	}
	data.ConflictData = nil
	data.ConflictDetectedAt = nil
	if err := s.shopData.SaveSyncState(ctx, data); err != nil {
		return nil, err
	}

	s.events.Emit(ctx, events.New(events.PullApplied, productID, shopID).
		With("applied", result.Applied).
		With("reason", result.Reason))
	if result.RootsRepaired {
		s.events.Emit(ctx, events.New(events.RootsRepaired, productID, shopID))
	}
	return result, nil
}

// mapInbound converts external category ids to canonical ones, creating missing categories
func (s *ReconciliationService) mapInbound(ctx context.Context, shopID int64, external *clients.ExternalProduct) (InboundProduct, []int64, error) {
	inbound := InboundProduct{Fields: external.Fields, UpdatedAt: external.UpdatedAt}

	missing, err := s.mapper.MissingCategories(ctx, shopID, external.CategoryIDs)
	if err != nil {
		return inbound, nil, err
	}

	for _, extID := range external.CategoryIDs {
		id, err := s.mapper.MapOrCreateFromExternal(ctx, extID, shopID)
		if err != nil {
			return inbound, missing, err
		}
		if !inbound.Categories.Contains(id) {
			inbound.Categories.Toggle(id)
		}
	}
	if external.DefaultCategoryID != nil {
		id, err := s.mapper.MapOrCreateFromExternal(ctx, *external.DefaultCategoryID, shopID)
		if err != nil {
			return inbound, missing, err
		}
		inbound.Categories.SetPrimary(id)
	}
	inbound.Categories = inbound.Categories.Normalize()
	return inbound, missing, nil
}

// ListNeedingAttention returns contexts of a shop that are pending, failed or in conflict
func (s *ReconciliationService) ListNeedingAttention(ctx context.Context, shopID int64) ([]models.ProductShopData, error) {
	if _, err := s.shops.GetByID(ctx, shopID); err != nil {
		return nil, err
	}
	return s.shopData.ListNeedingAttention(ctx, shopID)
}

// IsRejection reports whether err is a soft pull rejection
func IsRejection(err error) bool {
	var rejection *ConflictRejection
	return errors.As(err, &rejection)
}

func conflictData(conflicts map[string]FieldConflict) models.JSONB {
	out := make(models.JSONB, len(conflicts))
	for field, c := range conflicts {
		out[field] = map[string]interface{}{"local": c.Local, "external": c.External}
	}
	return out
}
