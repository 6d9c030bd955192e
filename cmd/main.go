package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/bilirag-backend/internal/clients/bilibili"
	"github.com/yungbote/bilirag-backend/internal/db"
	"github.com/yungbote/bilirag-backend/internal/handlers"
	"github.com/yungbote/bilirag-backend/internal/middleware"
	"github.com/yungbote/bilirag-backend/internal/observability"
	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/platform/qdrant"
	"github.com/yungbote/bilirag-backend/internal/repos"
	"github.com/yungbote/bilirag-backend/internal/server"
	"github.com/yungbote/bilirag-backend/internal/services"
	"github.com/yungbote/bilirag-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "bilirag",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})
	if otelShutdown != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(ctx)
		}()
	}

	// Database
	log.Info("Setting up database from main...")
	databaseService, err := db.NewDatabaseService(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err = databaseService.AutoMigrateAll(); err != nil {
		log.Error("Database auto migration failed", "error", err)
		os.Exit(1)
	}
	theDB := databaseService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userSessionRepo := repos.NewUserSessionRepo(theDB, log)
	favoriteFolderRepo := repos.NewFavoriteFolderRepo(theDB, log)
	favoriteVideoRepo := repos.NewFavoriteVideoRepo(theDB, log)
	videoCacheRepo := repos.NewVideoCacheRepo(theDB, log)

	// Platform clients
	log.Info("Setting up clients from main...")
	biliClient, err := bilibili.NewClient(log)
	if err != nil {
		log.Error("Could not init bilibili client", "error", err)
		os.Exit(1)
	}
	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Could not resolve qdrant config", "error", err)
		os.Exit(1)
	}
	vectorStore, err := qdrant.NewVectorStore(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init vector store", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	aiClient, err := services.NewAIClient(log)
	if err != nil {
		log.Error("Could not init AI client", "error", err)
		os.Exit(1)
	}
	asrService, err := services.NewASRService(log)
	if err != nil {
		log.Error("Could not init ASRService", "error", err)
		os.Exit(1)
	}
	mediaTools, err := services.NewMediaToolsService(log)
	if err != nil {
		log.Error("Could not init MediaToolsService", "error", err)
		os.Exit(1)
	}
	if err := mediaTools.AssertReady(); err != nil {
		log.Warn("ffmpeg unavailable, audio download fallback disabled", "error", err)
	}
	fetcherService, err := services.NewContentFetcherService(log, biliClient, asrService, mediaTools)
	if err != nil {
		log.Error("Could not init ContentFetcherService", "error", err)
		os.Exit(1)
	}
	indexerService, err := services.NewIndexerService(log, aiClient, vectorStore)
	if err != nil {
		log.Error("Could not init IndexerService", "error", err)
		os.Exit(1)
	}
	taskStore := services.NewTaskStore(log)
	buildService, err := services.NewKnowledgeBuildService(
		log,
		biliClient,
		fetcherService,
		indexerService,
		taskStore,
		favoriteFolderRepo,
		favoriteVideoRepo,
		videoCacheRepo,
	)
	if err != nil {
		log.Error("Could not init KnowledgeBuildService", "error", err)
		os.Exit(1)
	}
	chatService, err := services.NewChatService(log, aiClient, vectorStore)
	if err != nil {
		log.Error("Could not init ChatService", "error", err)
		os.Exit(1)
	}
	sessionService, err := services.NewSessionService(log, biliClient, userSessionRepo)
	if err != nil {
		log.Error("Could not init SessionService", "error", err)
		os.Exit(1)
	}

	// Handlers
	log.Info("Setting up Handlers from main...")
	authHandler := handlers.NewAuthHandler(sessionService)
	favoritesHandler := handlers.NewFavoritesHandler(buildService)
	knowledgeHandler := handlers.NewKnowledgeHandler(buildService)
	chatHandler := handlers.NewChatHandler(chatService)
	sessionMiddleware := middleware.NewSessionMiddleware(log, sessionService)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:       authHandler,
		FavoritesHandler:  favoritesHandler,
		KnowledgeHandler:  knowledgeHandler,
		ChatHandler:       chatHandler,
		SessionMiddleware: sessionMiddleware,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
