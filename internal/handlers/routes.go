package handlers

import "github.com/gin-gonic/gin"

// Set bundles the API handlers. Nil handlers leave their routes unregistered.
type Set struct {
	Sessions *SessionHandler
	Sync     *SyncHandler
	Mappings *MappingHandler
	Shops    *ShopHandler
}

// Register mounts the API under v1
func (s Set) Register(v1 *gin.RouterGroup) {
	if s.Sessions != nil {
		v1.POST("/products/:id/sessions", s.Sessions.Open)

		sessions := v1.Group("/sessions/:sid")
		{
			sessions.GET("", s.Sessions.Get)
			sessions.DELETE("", s.Sessions.Close)
			sessions.GET("/fields/:field", s.Sessions.GetField)
			sessions.PUT("/fields/:field", s.Sessions.SetField)
			sessions.POST("/context", s.Sessions.SwitchContext)
			sessions.POST("/categories", s.Sessions.CreateCategory)
			sessions.POST("/categories/:cid/toggle", s.Sessions.ToggleCategory)
			sessions.POST("/categories/:cid/primary", s.Sessions.SetPrimaryCategory)
			sessions.POST("/categories/:cid/delete", s.Sessions.MarkCategoryForDeletion)
			sessions.POST("/save", s.Sessions.Save)
			sessions.POST("/cancel", s.Sessions.Cancel)
		}
	}

	if s.Sync != nil {
		products := v1.Group("/products/:id")
		{
			products.GET("/sync", s.Sync.Status)
			products.POST("/shops/:shopId/retry", s.Sync.Retry)
			products.POST("/shops/:shopId/pull", s.Sync.Pull)
			products.POST("/shops/:shopId/link", s.Sync.Link)
		}

		jobs := v1.Group("/sync/jobs/:jobId")
		{
			jobs.GET("", s.Sync.GetJob)
			jobs.POST("/start", s.Sync.StartJob)
			jobs.POST("/result", s.Sync.ReportResult)
		}

		v1.GET("/shops/:shopId/attention", s.Sync.ListNeedingAttention)
	}

	if s.Mappings != nil {
		v1.GET("/shops/:shopId/mappings", s.Mappings.List)
		v1.GET("/shops/:shopId/mappings/export", s.Mappings.Export)
	}

	if s.Shops != nil {
		v1.GET("/shops", s.Shops.List)
		v1.PATCH("/shops/:shopId", s.Shops.UpdateSettings)
		v1.PUT("/shops/:shopId/credentials", s.Shops.UpdateCredentials)
		v1.POST("/shops/:shopId/test", s.Shops.TestConnection)
	}
}
