// Package v1 provides the HTTP ops surface: health probes, branch pool
// status and cache controls. The counting workflow itself is driven
// through the domain services, not this router.
package v1

import (
	"github.com/gin-gonic/gin"

	"conteo/internal/branch"
	"conteo/internal/domain/stock"
	"conteo/internal/infrastructure/cache"
	"conteo/internal/infrastructure/http/v1/handlers"
	"conteo/internal/infrastructure/http/v1/middleware"
	"conteo/internal/infrastructure/storage/postgres"
	"conteo/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Pool     *postgres.Pool
	Registry *branch.Registry
	Cache    *cache.Cache
	Stock    *stock.Service
	Logger   *logger.Logger
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	opsHandler := handlers.NewOpsHandler(cfg.Registry, cfg.Cache, cfg.Stock)
	ops := router.Group("/v1")
	{
		ops.GET("/branches/status", opsHandler.BranchesStatus)
		ops.POST("/branches/check", opsHandler.CheckBranches)
		ops.GET("/cache/stats", opsHandler.CacheStats)
		ops.POST("/cache/invalidate", opsHandler.InvalidateCache)
	}

	return router
}
