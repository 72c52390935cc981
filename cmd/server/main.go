package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stream-queue-system/internal/auth"
	"github.com/stream-queue-system/internal/config"
	"github.com/stream-queue-system/internal/playback"
	"github.com/stream-queue-system/internal/stream"
	"github.com/stream-queue-system/internal/ws"
	"github.com/stream-queue-system/internal/youtube"
	"github.com/stream-queue-system/pkg/cache"
	"github.com/stream-queue-system/pkg/database"
	"github.com/stream-queue-system/pkg/events"
	"github.com/stream-queue-system/pkg/lock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	kafkaClient := events.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer kafkaClient.Close()

	viewCache := cache.New(redisClient, cfg.CacheTTL, logger)
	roomLocker := lock.NewRedisLocker(redisClient)
	youtubeClient := youtube.NewClient(cfg.YouTubeAPIKey)

	playbackService := playback.NewService(db, viewCache, kafkaClient, roomLocker, logger)
	streamService := stream.NewService(db, viewCache, kafkaClient, youtubeClient, playbackService, roomLocker, logger)

	authHandler := auth.NewHandler(
		cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL,
		cfg.JWTSecret, cfg.FrontendURL, db, logger,
	)
	streamHandler := stream.NewHandler(streamService, playbackService)
	playbackHandler := playback.NewHandler(playbackService)
	gateway := ws.NewGateway(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go gateway.Run(ctx, kafkaClient)

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	authHandler.RegisterRoutes(v1)

	protected := v1.Group("/")
	protected.Use(auth.Middleware(cfg.JWTSecret))
	{
		streamHandler.RegisterRoutes(protected)
		playbackHandler.RegisterRoutes(protected)
		protected.GET("/ws/:roomId", gateway.HandleWebSocket)
	}

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
