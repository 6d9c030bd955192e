package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/bilirag-backend/internal/handlers"
	"github.com/yungbote/bilirag-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler       *handlers.AuthHandler
	FavoritesHandler  *handlers.FavoritesHandler
	KnowledgeHandler  *handlers.KnowledgeHandler
	ChatHandler       *handlers.ChatHandler
	SessionMiddleware *middleware.SessionMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("bilirag"))

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Session-Id"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Login flow is public until a session exists.
		api.GET("/auth/qrcode", cfg.AuthHandler.GenerateQRCode)
		api.GET("/auth/qrcode/poll", cfg.AuthHandler.PollQRCode)
	}

	protected := api.Group("/")
	protected.Use(cfg.SessionMiddleware.RequireSession())
	// Session
	protected.GET("/auth/me", cfg.AuthHandler.GetMe)
	protected.POST("/auth/logout", cfg.AuthHandler.Logout)
	// Favorites
	protected.GET("/folders", cfg.FavoritesHandler.ListFolders)
	protected.GET("/folders/:media_id/videos", cfg.FavoritesHandler.ListFolderVideos)
	// Knowledge base
	protected.POST("/build", cfg.KnowledgeHandler.StartBuild)
	protected.POST("/folders/sync", cfg.KnowledgeHandler.SyncAll)
	protected.GET("/stats", cfg.KnowledgeHandler.Stats)
	protected.DELETE("/index", cfg.KnowledgeHandler.ClearIndex)
	protected.POST("/folders/:media_id/build", cfg.KnowledgeHandler.StartFolderBuild)
	protected.GET("/folders/:media_id/status", cfg.KnowledgeHandler.FolderStatus)
	protected.DELETE("/folders/:media_id", cfg.KnowledgeHandler.ClearFolder)
	protected.DELETE("/folders/:media_id/videos/:bvid", cfg.KnowledgeHandler.DeleteVideo)
	protected.GET("/build/tasks/:task_id", cfg.KnowledgeHandler.GetTask)
	// Chat
	protected.POST("/folders/:media_id/chat", cfg.ChatHandler.Ask)

	return router
}
