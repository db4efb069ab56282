// Package router provides medqa service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/medkb-io/medqa/internal/qa/handler"
)

// Register registers the medqa service routes.
func Register(engine *gin.Engine, qaHandler *handler.QAHandler) {
	logger.Info("Registering medqa routes...")

	v1 := engine.Group("/v1")
	{
		qa := v1.Group("/qa")
		{
			// Ingestion endpoint
			qa.POST("/documents", qaHandler.Ingest)

			// Query endpoint
			qa.POST("/query", qaHandler.Query)

			// Session endpoint
			qa.DELETE("/sessions/:id", qaHandler.DeleteSession)

			// Stats endpoint
			qa.GET("/stats", qaHandler.Stats)
		}
	}

	engine.GET("/metrics", qaHandler.Metrics)
	engine.GET("/healthz", qaHandler.Healthz)

	logger.Info("HTTP routes registered")
}
