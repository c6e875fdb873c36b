package services

import (
	"context"
	"errors"
	"fmt"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/events"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
)

// maxCategoryDepth bounds parent resolution so a cyclic external tree cannot recurse forever
const maxCategoryDepth = 32

// CategoryMapper translates category ids between the canonical taxonomy and each shop
type CategoryMapper struct {
	categories *repository.CategoryRepository
	shops      *repository.ShopRepository
	clients    clients.ClientFactory
	events     events.Emitter
}

// NewCategoryMapper creates a new category mapper
func NewCategoryMapper(
	categories *repository.CategoryRepository,
	shops *repository.ShopRepository,
	clientFactory clients.ClientFactory,
	emitter events.Emitter,
) *CategoryMapper {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &CategoryMapper{
		categories: categories,
		shops:      shops,
		clients:    clientFactory,
		events:     emitter,
	}
}

// rootPair returns the canonical root matching a shop root by position.
// Shop.RootExternalIDs[i] is implicitly mapped to the i-th canonical root.
func (m *CategoryMapper) rootPair(ctx context.Context, shop *models.Shop, canonicalID, externalID int64) (int64, int64, bool, error) {
	roots, err := m.categories.ListRoots(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	for i, root := range roots {
		if i >= len(shop.RootExternalIDs) {
			break
		}
		ext := shop.RootExternalIDs[i]
		if (canonicalID != 0 && root.ID == canonicalID) || (externalID != 0 && ext == externalID) {
			return root.ID, ext, true, nil
		}
	}
	return 0, 0, false, nil
}

// ToExternal returns the shop-side id of a canonical category
func (m *CategoryMapper) ToExternal(ctx context.Context, canonicalID, shopID int64) (int64, bool, error) {
	externalID, err := m.categories.FindExternalID(ctx, shopID, canonicalID)
	if err == nil {
		return externalID, true, nil
	}
	if !errors.Is(err, repository.ErrMappingNotFound) {
		return 0, false, err
	}

	shop, err := m.shops.GetByID(ctx, shopID)
	if err != nil {
		return 0, false, err
	}
	_, ext, ok, err := m.rootPair(ctx, shop, canonicalID, 0)
	return ext, ok, err
}

// FromExternal returns the canonical id of a shop-side category
func (m *CategoryMapper) FromExternal(ctx context.Context, externalID, shopID int64) (int64, bool, error) {
	canonicalID, err := m.categories.FindCategoryID(ctx, shopID, externalID)
	if err == nil {
		return canonicalID, true, nil
	}
	if !errors.Is(err, repository.ErrMappingNotFound) {
		return 0, false, err
	}

	shop, err := m.shops.GetByID(ctx, shopID)
	if err != nil {
		return 0, false, err
	}
	id, _, ok, err := m.rootPair(ctx, shop, 0, externalID)
	return id, ok, err
}

// MapOrCreateFromExternal returns the canonical id of externalID, creating the canonical
// category (and any unmapped ancestors) when no mapping exists yet.
func (m *CategoryMapper) MapOrCreateFromExternal(ctx context.Context, externalID, shopID int64) (int64, error) {
	shop, err := m.shops.GetByID(ctx, shopID)
	if err != nil {
		return 0, err
	}
	client, err := m.clients.ClientFor(ctx, shop)
	if err != nil {
		return 0, &MappingError{Op: "connect", ShopID: shopID, ID: externalID, Err: err}
	}
	return m.mapOrCreate(ctx, shop, client, externalID, 0)
}

func (m *CategoryMapper) mapOrCreate(ctx context.Context, shop *models.Shop, client clients.ShopClient, externalID int64, depth int) (int64, error) {
	if id, ok, err := m.FromExternal(ctx, externalID, shop.ID); err != nil || ok {
		return id, err
	}
	if depth > maxCategoryDepth {
		return 0, &MappingError{Op: "resolve", ShopID: shop.ID, ID: externalID, Err: errors.New("category hierarchy too deep")}
	}

	ext, err := client.GetCategory(ctx, externalID)
	if err != nil {
		return 0, &MappingError{Op: "fetch", ShopID: shop.ID, ID: externalID, Err: err}
	}

	category := &models.Category{Name: ext.Name}
	if ext.IsRoot || shop.IsRootExternal(externalID) {
		category.IsRoot = true
	} else if ext.ParentID != 0 && ext.ParentID != externalID {
		parentID, err := m.mapOrCreate(ctx, shop, client, ext.ParentID, depth+1)
		if err != nil {
			return 0, err
		}
		parent, err := m.categories.GetByID(ctx, parentID)
		if err != nil {
			return 0, err
		}
		category.ParentID = &parent.ID
		category.Level = parent.Level + 1
	}

	id, created, err := m.categories.CreateWithMapping(ctx, category, shop.ID, externalID)
	if err != nil {
		return 0, fmt.Errorf("failed to map external category %d: %w", externalID, err)
	}
	if created {
		m.events.Emit(ctx, events.New(events.CategoryMapped, 0, shop.ID).
			With("category_id", id).
			With("external_id", externalID))
	}
	return id, nil
}

// MissingCategories returns the external ids that have no canonical mapping yet
func (m *CategoryMapper) MissingCategories(ctx context.Context, shopID int64, externalIDs []int64) ([]int64, error) {
	var missing []int64
	for _, id := range externalIDs {
		_, ok, err := m.FromExternal(ctx, id, shopID)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// CreateInExternal creates a category in the shop under the mapped parent and maps it
// to a new canonical category. A nil parent places it under the shop's last root.
func (m *CategoryMapper) CreateInExternal(ctx context.Context, shopID int64, name string, parentID *int64) (int64, error) {
	shop, err := m.shops.GetByID(ctx, shopID)
	if err != nil {
		return 0, err
	}
	client, err := m.clients.ClientFor(ctx, shop)
	if err != nil {
		return 0, &MappingError{Op: "connect", ShopID: shopID, Err: err}
	}

	var parentExternal int64
	category := &models.Category{Name: name}
	if parentID != nil {
		ext, ok, err := m.ToExternal(ctx, *parentID, shopID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, &MappingError{Op: "create", ShopID: shopID, ID: *parentID, Err: errors.New("parent category is not mapped in this shop")}
		}
		parent, err := m.categories.GetByID(ctx, *parentID)
		if err != nil {
			return 0, err
		}
		parentExternal = ext
		category.ParentID = &parent.ID
		category.Level = parent.Level + 1
	} else if n := len(shop.RootExternalIDs); n > 0 {
		parentExternal = shop.RootExternalIDs[n-1]
		if id, ok, err := m.FromExternal(ctx, parentExternal, shopID); err == nil && ok {
			category.ParentID = &id
			category.Level = 1
		}
	}

	externalID, err := client.CreateCategory(ctx, name, parentExternal)
	if err != nil {
		return 0, &MappingError{Op: "create", ShopID: shopID, Err: err}
	}

	id, _, err := m.categories.CreateWithMapping(ctx, category, shopID, externalID)
	if err != nil {
		// The external category now exists without a canonical counterpart.
		m.events.Emit(ctx, events.New(events.MutationFailed, 0, shopID).
			With("external_id", externalID).
			With("error", err.Error()))
		return 0, fmt.Errorf("external category %d created but not mapped: %w", externalID, err)
	}

	m.events.Emit(ctx, events.New(events.CategoryCreated, 0, shopID).
		With("category_id", id).
		With("external_id", externalID))
	return id, nil
}

// DeleteFromExternal deletes the shop-side category and its mapping. The canonical
// category is removed once no shop maps it anymore.
func (m *CategoryMapper) DeleteFromExternal(ctx context.Context, shopID, canonicalID int64) error {
	category, err := m.categories.GetByID(ctx, canonicalID)
	if err != nil {
		return err
	}
	if category.IsRoot {
		return ErrRootCategory
	}

	externalID, mapped, err := m.ToExternal(ctx, canonicalID, shopID)
	if err != nil {
		return err
	}
	if mapped {
		shop, err := m.shops.GetByID(ctx, shopID)
		if err != nil {
			return err
		}
		client, err := m.clients.ClientFor(ctx, shop)
		if err != nil {
			return &MappingError{Op: "connect", ShopID: shopID, ID: canonicalID, Err: err}
		}
		if err := client.DeleteCategory(ctx, externalID); err != nil {
			return &MappingError{Op: "delete", ShopID: shopID, ID: canonicalID, Err: err}
		}
		if err := m.categories.DeleteMapping(ctx, shopID, canonicalID); err != nil {
			return err
		}
	}

	remaining, err := m.categories.CountMappings(ctx, canonicalID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := m.categories.Delete(ctx, canonicalID); err != nil && !errors.Is(err, repository.ErrCategoryNotFound) {
			return err
		}
	}

	m.events.Emit(ctx, events.New(events.CategoryDeleted, 0, shopID).
		With("category_id", canonicalID).
		With("external_id", externalID))
	return nil
}

// EnsureRoots re-injects the canonical root categories into a non-empty shop selection.
// It reports whether the selection had to be repaired.
func (m *CategoryMapper) EnsureRoots(ctx context.Context, selection models.CategorySelection) (models.CategorySelection, bool, error) {
	if selection.IsEmpty() {
		return selection, false, nil
	}
	roots, err := m.categories.ListRoots(ctx)
	if err != nil {
		return selection, false, err
	}

	out := selection.Clone()
	repaired := false
	for _, root := range roots {
		if !out.Contains(root.ID) {
			out.Selected = append(out.Selected, root.ID)
			repaired = true
		}
	}
	return out, repaired, nil
}

// CreateCategory implements MutationExecutor. The default context only creates the
// canonical category; a shop context creates it externally first.
func (m *CategoryMapper) CreateCategory(ctx context.Context, target models.Context, name string, parentID *int64) (int64, error) {
	if shopID, ok := target.ShopID(); ok {
		return m.CreateInExternal(ctx, shopID, name, parentID)
	}

	category := &models.Category{Name: name, ParentID: parentID}
	if parentID != nil {
		parent, err := m.categories.GetByID(ctx, *parentID)
		if err != nil {
			return 0, err
		}
		category.Level = parent.Level + 1
	}
	if err := m.categories.Create(ctx, category); err != nil {
		return 0, err
	}
	m.events.Emit(ctx, events.New(events.CategoryCreated, 0, 0).With("category_id", category.ID))
	return category.ID, nil
}

// DeleteCategory implements MutationExecutor. The default context removes the canonical
// category with every mapping and leaves shop-side categories in place.
func (m *CategoryMapper) DeleteCategory(ctx context.Context, target models.Context, categoryID int64) error {
	if shopID, ok := target.ShopID(); ok {
		return m.DeleteFromExternal(ctx, shopID, categoryID)
	}

	category, err := m.categories.GetByID(ctx, categoryID)
	if err != nil {
		return err
	}
	if category.IsRoot {
		return ErrRootCategory
	}
	if err := m.categories.Delete(ctx, categoryID); err != nil {
		return err
	}
	m.events.Emit(ctx, events.New(events.CategoryDeleted, 0, 0).With("category_id", categoryID))
	return nil
}

// WorkingTree loads the canonical taxonomy as an editable tree
func (m *CategoryMapper) WorkingTree(ctx context.Context) (*CategoryTree, error) {
	categories, err := m.categories.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return NewCategoryTree(categories), nil
}
