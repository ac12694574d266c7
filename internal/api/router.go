package api

import (
	"github.com/gin-gonic/gin"

	"github.com/pixelpress/pixelpress/internal/api/handler"
	"github.com/pixelpress/pixelpress/internal/api/middleware"
	"github.com/pixelpress/pixelpress/internal/config"
	"github.com/pixelpress/pixelpress/internal/logger"
	"github.com/pixelpress/pixelpress/internal/metrics"
	"github.com/pixelpress/pixelpress/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	jobService *service.JobService,
	cfg *config.ServerConfig,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	uploadHandler := handler.NewUploadHandler(jobService)
	jobHandler := handler.NewJobHandler(jobService)

	// Health check
	r.GET("/health", healthHandler.Health)

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", uploadHandler.Upload)
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.POST("/jobs/:id/cancel", jobHandler.CancelJob)
		v1.DELETE("/jobs/:id", jobHandler.DeleteJob)

		// Stats
		v1.GET("/stats", jobHandler.GetStats)
	}

	return r
}
