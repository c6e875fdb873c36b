package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"catalog-override-service/internal/repository"
)

func TestMappingService_ListAndExport(t *testing.T) {
	db := newTestDB(t)
	shop, roots := seedShop(t, db)
	shoes := seedCategory(t, db, "Shoes", &roots[1].ID)
	boots := seedCategory(t, db, "Boots", &shoes.ID)
	seedMapping(t, db, shoes.ID, shop.ID, 10)

	svc := NewMappingService(repository.NewCategoryRepository(db, nil), repository.NewShopRepository(db))
	ctx := context.Background()

	rows, err := svc.List(ctx, shop.ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	byID := make(map[int64]MappingRow)
	for _, r := range rows {
		byID[r.CategoryID] = r
	}
	assert.Equal(t, "Root > Home > Shoes > Boots", byID[boots.ID].Path)
	assert.Nil(t, byID[boots.ID].ExternalID)
	require.NotNil(t, byID[shoes.ID].ExternalID)
	assert.Equal(t, int64(10), *byID[shoes.ID].ExternalID)
	assert.True(t, byID[roots[0].ID].IsRoot)

	buf, err := svc.ExportXLSX(ctx, shop.ID)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()
	sheetRows, err := f.GetRows("Mappings")
	require.NoError(t, err)
	require.Len(t, sheetRows, 5)
	assert.Equal(t, []string{"Category ID", "Path", "Root", "External ID"}, sheetRows[0])
}

func TestMappingService_UnknownShop(t *testing.T) {
	db := newTestDB(t)
	svc := NewMappingService(repository.NewCategoryRepository(db, nil), repository.NewShopRepository(db))

	_, err := svc.List(context.Background(), 42)
	assert.ErrorIs(t, err, repository.ErrShopNotFound)
}
