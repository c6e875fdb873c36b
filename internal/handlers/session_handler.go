package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"catalog-override-service/internal/models"
	"catalog-override-service/internal/services"
)

// SessionHandler exposes product editing sessions
type SessionHandler struct {
	sessions *services.SessionManager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// SetFieldRequest sets a field in the active context. An empty value clears a shop override.
type SetFieldRequest struct {
	Value *string `json:"value" binding:"required"`
}

// SwitchContextRequest selects the context to edit: "default" or a shop id
type SwitchContextRequest struct {
	Context string `json:"context" binding:"required"`
}

// CreateCategoryRequest queues an inline category creation
type CreateCategoryRequest struct {
	Name     string `json:"name" binding:"required"`
	ParentID *int64 `json:"parentId"`
}

func (h *SessionHandler) session(c *gin.Context) (*services.EditorSession, bool) {
	id, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return nil, false
	}
	s, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// Open starts an editing session for a product
// @Summary Open editing session
// @Tags sessions
// @Param id path int true "Product ID"
// @Success 201 {object} services.SessionView
// @Router /products/{id}/sessions [post]
func (h *SessionHandler) Open(c *gin.Context) {
	productID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	s, err := h.sessions.Open(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": s.View(c.Request.Context())})
}

// Get renders the session's active context
func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.View(c.Request.Context())})
}

// Close ends a session, discarding unsaved edits
func (h *SessionHandler) Close(c *gin.Context) {
	id, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if err := h.sessions.Close(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session closed"})
}

// GetField returns the effective value of a field and its inheritance status
func (h *SessionHandler) GetField(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	spec, err := models.LookupField(c.Param("field"))
	if err != nil {
		respondError(c, err)
		return
	}
	status, err := s.FieldStatus(spec.Field)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"field":     spec.Field,
		"context":   s.Context().Key(),
		"effective": s.EffectiveValue(spec.Field),
		"status":    status,
	}})
}

// SetField edits a field in the active context
func (h *SessionHandler) SetField(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req SetFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.SetField(c.Request.Context(), models.Field(c.Param("field")), *req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.View(c.Request.Context())})
}

// SwitchContext changes the edited context, keeping buffered edits of the old one
func (h *SessionHandler) SwitchContext(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req SwitchContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.SwitchContext(c.Request.Context(), req.Context); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.View(c.Request.Context())})
}

// ToggleCategory selects or deselects a category
func (h *SessionHandler) ToggleCategory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	categoryID, ok := parseCategoryParam(c)
	if !ok {
		return
	}
	selected, err := s.ToggleCategory(c.Request.Context(), categoryID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"categoryId": categoryID, "selected": selected}})
}

// SetPrimaryCategory makes a category primary
func (h *SessionHandler) SetPrimaryCategory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	categoryID, ok := parseCategoryParam(c)
	if !ok {
		return
	}
	if err := s.SetPrimaryCategory(c.Request.Context(), categoryID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.View(c.Request.Context())})
}

// MarkCategoryForDeletion toggles the deletion mark of a category subtree
func (h *SessionHandler) MarkCategoryForDeletion(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	categoryID, ok := parseCategoryParam(c)
	if !ok {
		return
	}
	marked, err := s.MarkCategoryForDeletion(c.Request.Context(), categoryID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"categoryId": categoryID, "marked": marked}})
}

// parseCategoryParam accepts negative ids, which name categories queued for creation
func parseCategoryParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("cid"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return 0, false
	}
	return id, true
}

// CreateCategory queues an inline category creation, committed on save
func (h *SessionHandler) CreateCategory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tempID, err := s.CreateCategory(c.Request.Context(), req.Name, req.ParentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"tempId": tempID}})
}

// Save persists every buffered context
// @Summary Save all buffered contexts
// @Tags sessions
// @Param sid path string true "Session ID"
// @Success 200 {object} services.SaveReport
// @Success 207 {object} services.SaveReport
// @Router /sessions/{sid}/save [post]
func (h *SessionHandler) Save(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	report := s.Save(c.Request.Context())
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"data": report, "session": s.View(c.Request.Context())})
}

// Cancel discards every buffered edit and queued mutation
func (h *SessionHandler) Cancel(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Cancel(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.View(c.Request.Context())})
}
