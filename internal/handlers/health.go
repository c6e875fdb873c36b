package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const serviceName = "catalog-override-service"

// ReadinessCheck reports whether an optional dependency is reachable
type ReadinessCheck func() bool

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db     *gorm.DB
	checks map[string]ReadinessCheck
}

// NewHealthHandler creates a new health handler. checks are reported on /ready but
// never fail it; only the database does.
func NewHealthHandler(db *gorm.DB, checks map[string]ReadinessCheck) *HealthHandler {
	return &HealthHandler{db: db, checks: checks}
}

// Health handles the health check endpoint
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// Ready handles the readiness check endpoint
func (h *HealthHandler) Ready(c *gin.Context) {
	deps := gin.H{}
	for name, check := range h.checks {
		deps[name] = check()
	}

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			deps["database"] = false
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "not ready",
				"service":      serviceName,
				"dependencies": deps,
			})
			return
		}
		deps["database"] = true
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"service":      serviceName,
		"dependencies": deps,
	})
}
