package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tale-server/internal/ai"
	"tale-server/internal/config"
	"tale-server/internal/database"
	"tale-server/internal/engine"
	"tale-server/internal/handler"
	"tale-server/internal/imagegen"
	"tale-server/internal/logger"
	"tale-server/internal/repository"
	"tale-server/pkg/taskmanager"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	log.Info("Configuration loaded",
		zap.String("provider", cfg.AIProvider),
		zap.String("model", cfg.AIModel),
		zap.Bool("images_enabled", cfg.ImagesEnabled()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.GetDSN(), cfg.DBMaxConns, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()

	if err := database.RunMigrations(pool, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	var limitCache repository.ContextLimitCache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, context limit cache disabled", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			limitCache = repository.NewRedisLimitCache(redisClient, log)
			log.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sessionRepo := repository.NewPgSessionRepository(pool, log)
	summaryRepo := repository.NewPgSummaryRepository(pool, log)
	stepRepo := repository.NewPgStepRepository(pool, log)
	configRepo := repository.NewPgConfigRepository(pool, log)

	if err := persistRunningConfig(ctx, configRepo, cfg); err != nil {
		log.Fatal("Failed to persist engine configuration", zap.Error(err))
	}

	aiClient, err := ai.NewClient(cfg, log)
	if err != nil {
		log.Fatal("Failed to create text generator client", zap.Error(err))
	}

	var imageClient imagegen.Client
	if cfg.ImagesEnabled() {
		imageClient, err = imagegen.NewClient(cfg, log)
		if err != nil {
			log.Fatal("Failed to create image generator client", zap.Error(err))
		}
	}

	tasks := taskmanager.New(log)
	wsManager := handler.NewConnectionManager(log)

	eng := engine.New(cfg, aiClient, imageClient,
		sessionRepo, summaryRepo, stepRepo, limitCache,
		tasks, wsManager, log)

	gameHandler := handler.NewGameHandler(eng, sessionRepo, stepRepo, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(handler.RequestLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg)))

	gameHandler.RegisterRoutes(router, wsManager)

	prom := ginprometheus.NewPrometheus("gin")
	prom.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AITimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shut down", zap.Error(err))
	}
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		log.Error("Background tasks did not finish in time", zap.Error(err))
	}
	log.Info("Server stopped")
}

// persistRunningConfig stores the effective generator settings so the
// running configuration is inspectable next to the session data.
func persistRunningConfig(ctx context.Context, configs repository.ConfigRepository, cfg *config.Config) error {
	snapshot, err := json.Marshal(map[string]any{
		"provider":     cfg.AIProvider,
		"model":        cfg.AIModel,
		"temperature":  cfg.AITemperature,
		"maxRetries":   cfg.AIMaxRetries,
		"contextLimit": cfg.AIContextLimit,
		"imageEnabled": cfg.ImagesEnabled(),
	})
	if err != nil {
		return err
	}
	return configs.Upsert(ctx, "current", snapshot)
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	origins := strings.Split(cfg.CORSOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	corsCfg.MaxAge = 12 * time.Hour
	return corsCfg
}
