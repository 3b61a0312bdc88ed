package main

import (
	"github.com/gin-gonic/gin"

	"voicecall-platform/internal/httpapi"
	"voicecall-platform/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Health)
	r.GET("/api/info", h.APIInfo)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		voice := v1.Group("/voice")
		voice.POST("/call", rbac.RequireAnyRole(rbac.RoleDispatcher), h.SubmitCall)
		voice.POST("/bulk", rbac.RequireAnyRole(rbac.RoleDispatcher), h.SubmitBulk)
		voice.GET("/status/:call_id", rbac.RequireAnyRole(rbac.RoleDispatcher, rbac.RoleViewer), h.CallStatus)

		// admin only; RequireAnyRole lets admin through with an empty allow list.
		v1.GET("/metrics", rbac.RequireAnyRole(), h.CallMetrics)
	}
}
