package api

import (
	"log/slog"

	clamd "github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"poster/internal/api/middleware"
	"poster/internal/auth"
	"poster/internal/leonardo"
	"poster/internal/storage"
	"poster/internal/xai"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	xaiClient *xai.Client,
	leonardoClient *leonardo.Client,
	clamdAddr string,
	wsOrigins []string,
	generationsPerDay int,
) {
	var scanner virusScanner
	if clamdAddr != "" {
		scanner = clamd.NewClamd(clamdAddr)
	}

	authHandler := NewAuthHandler(db, authService, redisClient, logger)
	wsHandler := NewWsHandler(redisClient, authService, logger, wsOrigins)
	projectHandler := NewProjectHandler(db, storageClient, asynqClient)
	summaryHandler := NewSummaryHandler(db, xaiClient)
	imageHandler := NewImageHandler(db, xaiClient, redisClient, generationsPerDay)
	characterHandler := NewCharacterHandler(
		db, leonardoClient, xaiClient, storageClient,
		redisClient, asynqClient, scanner, logger, generationsPerDay,
	)
	catalogHandler := NewCatalogHandler(db)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		// 模型目录公开可读，其余目录接口需要登录。
		v1.GET("/leonardo-models", catalogHandler.ListLeonardoModels)
		v1.GET("/tools", authMiddleware, catalogHandler.ListTools)
		v1.GET("/leonardo-style-controls", authMiddleware, catalogHandler.ListLeonardoStyleControls)

		projectGroup := v1.Group("/projects")
		projectGroup.Use(authMiddleware)
		{
			projectGroup.GET("", projectHandler.ListProjects)
			projectGroup.POST("", projectHandler.CreateProject)
			projectGroup.GET("/:id", projectHandler.GetProject)
			projectGroup.PATCH("/:id", projectHandler.UpdateProject)
			projectGroup.DELETE("/:id", projectHandler.DeleteProject)
		}

		summaryGroup := v1.Group("/text-summaries")
		summaryGroup.Use(authMiddleware)
		{
			summaryGroup.GET("", summaryHandler.ListSummaries)
			summaryGroup.POST("", summaryHandler.CreateSummary)
			summaryGroup.PUT("/:id", summaryHandler.UpdateSummary)
			summaryGroup.DELETE("/:id", summaryHandler.DeleteSummary)
		}

		imageGroup := v1.Group("/image-generations")
		imageGroup.Use(authMiddleware)
		{
			imageGroup.GET("", imageHandler.ListImageRequests)
			imageGroup.POST("", imageHandler.CreateImageRequest)
			imageGroup.PUT("/:id", imageHandler.UpdateImageRequest)
			imageGroup.DELETE("/:id", imageHandler.DeleteImageRequest)
		}

		characterGroup := v1.Group("/character-consistent-generations")
		characterGroup.Use(authMiddleware)
		{
			characterGroup.GET("", characterHandler.ListCharacterRequests)
			characterGroup.POST("", characterHandler.CreateCharacterRequest)
			characterGroup.PUT("/:id", characterHandler.UpdateCharacterRequest)
			characterGroup.DELETE("/:id", characterHandler.DeleteCharacterRequest)
		}
	}
}
