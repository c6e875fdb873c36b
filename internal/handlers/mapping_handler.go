package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"catalog-override-service/internal/services"
)

// MappingHandler exposes the category mappings of a shop
type MappingHandler struct {
	service *services.MappingService
}

// NewMappingHandler creates a new mapping handler
func NewMappingHandler(service *services.MappingService) *MappingHandler {
	return &MappingHandler{service: service}
}

// List returns every canonical category with its external id in the shop
func (h *MappingHandler) List(c *gin.Context) {
	shopID, ok := parseIDParam(c, "shopId")
	if !ok {
		return
	}
	rows, err := h.service.List(c.Request.Context(), shopID)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("unmapped") == "true" {
		filtered := rows[:0]
		for _, r := range rows {
			if r.ExternalID == nil {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "total": len(rows)})
}

// Export downloads the mappings as an XLSX workbook
func (h *MappingHandler) Export(c *gin.Context) {
	shopID, ok := parseIDParam(c, "shopId")
	if !ok {
		return
	}
	buf, err := h.service.ExportXLSX(c.Request.Context(), shopID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=shop_%d_category_mappings.xlsx", shopID))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
