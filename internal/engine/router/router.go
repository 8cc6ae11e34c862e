// Package router provides RAG engine service routing.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/ragcore/internal/engine/handler"
	"github.com/kart-io/ragcore/internal/engine/metrics"
	"github.com/kart-io/ragcore/pkg/component/storage"
)

// Register registers the RAG engine routes.
// storageMgr may be nil when no backing-store health reporting is wanted.
func Register(router *gin.Engine, engineHandler *handler.EngineHandler, storageMgr *storage.Manager) {
	logger.Info("Registering engine routes...")

	router.GET("/healthz", healthzHandler(storageMgr))

	router.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, metrics.GetEngineMetrics().Export("ragcore", "engine"))
	})

	v1 := router.Group("/v1")
	{
		docs := v1.Group("/documents")
		{
			docs.POST("", engineHandler.Ingest)
			docs.POST("/batch", engineHandler.IngestBatch)
			docs.POST("/directory", engineHandler.IngestDirectory)
			docs.GET("/:id", engineHandler.Get)
			docs.PUT("/:id", engineHandler.Update)
			docs.DELETE("/:id", engineHandler.Delete)
			docs.GET("/:id/versions", engineHandler.ListVersions)
			docs.GET("/:id/versions/:label", engineHandler.GetVersion)
		}

		v1.POST("/query", engineHandler.Query)
		v1.GET("/stats", engineHandler.Stats)
	}

	logger.Info("HTTP routes registered")
}

// healthzHandler reports overall service health plus per-component status
// from the storage manager. A failing component degrades the response to 503.
func healthzHandler(storageMgr *storage.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if storageMgr == nil || storageMgr.Count() == 0 {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		statuses := storageMgr.HealthCheckAll(c.Request.Context())

		components := make(map[string]gin.H, len(statuses))
		healthy := true
		for name, status := range statuses {
			entry := gin.H{
				"healthy": status.Healthy,
				"latency": status.Latency.String(),
			}
			if status.Error != nil {
				entry["error"] = status.Error.Error()
			}
			components[name] = entry
			if !status.Healthy {
				healthy = false
			}
		}

		code := http.StatusOK
		overall := "ok"
		if !healthy {
			code = http.StatusServiceUnavailable
			overall = "degraded"
		}
		c.JSON(code, gin.H{"status": overall, "components": components})
	}
}
