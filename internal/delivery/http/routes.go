package http

import (
	"github.com/gin-gonic/gin"
	"github.com/macrolens/mealreport/config"
	"github.com/macrolens/mealreport/internal/metrics"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler, logger *zap.Logger, m *metrics.Metrics) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware(m))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check and metrics endpoints
	router.GET("/health", handler.HealthCheck)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		reports := v1.Group("/reports")
		{
			reports.POST("", handler.SaveReport)
			reports.GET("", handler.ListReports)
			reports.DELETE("", handler.DeleteAllReports)
			reports.GET("/:id", handler.GetReport)
			reports.DELETE("/:id", handler.DeleteReport)
		}

		v1.GET("/storage/usage", handler.StorageUsage)

		ingredients := v1.Group("/ingredients")
		{
			ingredients.GET("/cache/stats", handler.IngredientCacheStats)
			ingredients.DELETE("/cache", handler.ClearIngredientCache)
			ingredients.GET("/:name/health", handler.IngredientHealth)
		}

		v1.GET("/popups/ws", handler.PopupSocket(cfg.Server.AllowedOrigins))
	}

	return router
}
