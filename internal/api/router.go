package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/artfeed/internal/api/handler"
	"github.com/timmy/artfeed/internal/api/middleware"
	"github.com/timmy/artfeed/internal/config"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/repository"
	"github.com/timmy/artfeed/internal/service"
)

// Services bundles what the router dispatches to.
type Services struct {
	Store      *repository.Store
	Subscriber *service.SubscriberService
	Downloader *service.DownloadService
	Notifier   *service.ArtworkNotifier
	Sources    *service.SourceManager
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg *config.Config, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
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
	r.Use(middleware.CORS(cfg.Server.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(svc.Store)
	publishHandler := handler.NewPublishHandler(svc.Subscriber)
	sourceHandler := handler.NewSourceHandler(svc.Sources)
	artworkHandler := handler.NewArtworkHandler(svc.Store.Artworks, svc.Store.Downloads, svc.Notifier)
	adminHandler := handler.NewAdminHandler(svc.Subscriber, svc.Downloader, svc.Notifier, svc.Store.Artworks, svc.Store.Downloads)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Inbound source state
		v1.POST("/publish", publishHandler.Publish)

		// Sources
		v1.GET("/source", sourceHandler.GetCurrent)
		v1.PUT("/source", sourceHandler.Select)
		v1.POST("/source/next", sourceHandler.Next)
		v1.GET("/sources", sourceHandler.List)

		// Artworks
		v1.GET("/artworks", artworkHandler.List)
		v1.GET("/artworks/current", artworkHandler.Current)
		v1.GET("/artworks/events", artworkHandler.Events)
		v1.GET("/artworks/:id", artworkHandler.Get)

		// Admin
		admin := v1.Group("/admin")
		admin.GET("/stats", adminHandler.GetStats)
		admin.POST("/downloads/resume", adminHandler.ResumeDownloads)
	}

	return r
}
