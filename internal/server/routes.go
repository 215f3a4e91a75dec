package server

import (
	"github.com/sd8capricon/graph-rag/internal/server/middleware"
	"github.com/sd8capricon/graph-rag/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Knowledge base routes
	apiRoutes.PUT("/knowledge-bases/:id", routes.PutKnowledgeBaseHandler, middleware.RequirePermission(middleware.PermissionWrite))
	apiRoutes.GET("/knowledge-bases/:id", routes.GetKnowledgeBaseHandler, middleware.RequirePermission(middleware.PermissionQuery))

	// Ingestion routes
	apiRoutes.POST("/knowledge-bases/:id/files", routes.UploadFileHandler, middleware.RequirePermission(middleware.PermissionIngest))
	apiRoutes.POST("/knowledge-bases/:id/ingest", routes.IngestHandler, middleware.RequirePermission(middleware.PermissionIngest))
	apiRoutes.GET("/jobs/:id", routes.GetJobHandler, middleware.RequirePermission(middleware.PermissionIngest))

	// Query routes
	apiRoutes.POST("/knowledge-bases/:id/search", routes.SearchHandler, middleware.RequirePermission(middleware.PermissionQuery))
	apiRoutes.POST("/knowledge-bases/:id/chat", routes.ChatHandler, middleware.RequirePermission(middleware.PermissionQuery))
}
