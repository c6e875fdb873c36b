package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
)

// MappingRow is one canonical category and its counterpart in a shop
type MappingRow struct {
	CategoryID int64  `json:"categoryId"`
	Path       string `json:"path"`
	IsRoot     bool   `json:"isRoot"`
	ExternalID *int64 `json:"externalId,omitempty"`
}

// MappingService lists and exports category mappings for review
type MappingService struct {
	categories *repository.CategoryRepository
	shops      *repository.ShopRepository
}

// NewMappingService creates a new mapping service
func NewMappingService(categories *repository.CategoryRepository, shops *repository.ShopRepository) *MappingService {
	return &MappingService{categories: categories, shops: shops}
}

// List returns every canonical category with the shop's external id, unmapped ones included
func (s *MappingService) List(ctx context.Context, shopID int64) ([]MappingRow, error) {
	if _, err := s.shops.GetByID(ctx, shopID); err != nil {
		return nil, err
	}
	all, err := s.categories.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	mappings, err := s.categories.ListMappings(ctx, shopID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]models.Category, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}
	external := make(map[int64]int64, len(mappings))
	for _, m := range mappings {
		external[m.CategoryID] = m.ExternalID
	}

	rows := make([]MappingRow, 0, len(all))
	for _, c := range all {
		row := MappingRow{CategoryID: c.ID, Path: categoryPath(byID, c), IsRoot: c.IsRoot}
		if ext, ok := external[c.ID]; ok {
			row.ExternalID = &ext
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func categoryPath(byID map[int64]models.Category, c models.Category) string {
	parts := []string{c.Name}
	seen := map[int64]bool{c.ID: true}
	for c.ParentID != nil {
		parent, ok := byID[*c.ParentID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		parts = append([]string{parent.Name}, parts...)
		c = parent
	}
	return strings.Join(parts, " > ")
}

// ExportXLSX renders the shop's mappings as a spreadsheet
func (s *MappingService) ExportXLSX(ctx context.Context, shopID int64) (*bytes.Buffer, error) {
	rows, err := s.List(ctx, shopID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Mappings"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	missingStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FCE4D6"}, Pattern: 1},
	})

	headers := []string{"Category ID", "Path", "Root", "External ID"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}
	f.SetColWidth(sheet, "A", "A", 14)
	f.SetColWidth(sheet, "B", "B", 60)
	f.SetColWidth(sheet, "C", "D", 14)

	for i, row := range rows {
		r := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", r), row.CategoryID)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", r), row.Path)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", r), row.IsRoot)
		if row.ExternalID != nil {
			f.SetCellValue(sheet, fmt.Sprintf("D%d", r), *row.ExternalID)
		} else {
			f.SetCellStyle(sheet, fmt.Sprintf("A%d", r), fmt.Sprintf("D%d", r), missingStyle)
		}
	}
	f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	return f.WriteToBuffer()
}
