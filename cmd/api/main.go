package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/vodworks/pipeline/internal/api"
	"github.com/vodworks/pipeline/internal/auth"
	"github.com/vodworks/pipeline/internal/cache"
	"github.com/vodworks/pipeline/internal/config"
	"github.com/vodworks/pipeline/internal/health"
	"github.com/vodworks/pipeline/internal/logger"
	"github.com/vodworks/pipeline/internal/observability"
	"github.com/vodworks/pipeline/internal/queue"
	"github.com/vodworks/pipeline/internal/storage"
	"github.com/vodworks/pipeline/internal/transcoder"
	"github.com/vodworks/pipeline/internal/vod"
)

const (
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	StartupTimeout        = 10 * time.Second
)

func main() {
	log := logger.New("vod-api")
	slog.SetDefault(log)

	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), "vod-api", cfg)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), StartupTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	s3Client := s3.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	objectStore := storage.NewObjectStore(s3Client, cfg.AWS.VideoBucket)
	jobQueue := queue.New(sqsClient, cfg.AWS.SQSQueueURL)

	pool, err := storage.NewPostgresPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := storage.EnsureSchema(ctx, pool); err != nil {
		log.Error("Failed to ensure database schema", "error", err)
		os.Exit(1)
	}
	videoRepo := storage.NewVideoRepository(pool)
	log.Info("Postgres video repository initialized")

	// The listing cache is only consulted in production; elsewhere every
	// list goes to Postgres and Redis is not even dialed.
	var listCache *cache.Client
	if cfg.IsProduction() {
		listCache, err = cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer listCache.Close()
		log.Info("List cache initialized", "addr", cfg.Redis.Addr, "ttl", cfg.Cache.ListTTL)
	}

	videoService := vod.New(&vod.Config{
		Store:          objectStore,
		Transcoder:     transcoder.New(transcoder.DefaultProfile, log),
		Repo:           videoRepo,
		Queue:          jobQueue,
		Cache:          listCache,
		Logger:         log,
		ScratchDir:     cfg.Upload.ScratchDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		ListTTL:        cfg.Cache.ListTTL,
		CacheEnabled:   cfg.IsProduction(),
	})

	jwtSecret, err := cfg.GetJWTSecret()
	if err != nil {
		log.Error("Failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	jwtService, err := auth.NewJWTService(jwtSecret)
	if err != nil {
		log.Error("Failed to create JWT service", "error", err)
		os.Exit(1)
	}

	rateLimiterCfg := auth.DefaultRateLimiterConfig()
	rateLimiterCfg.MaxFailures = cfg.API.AuthMaxFailures
	rateLimiterCfg.Window = cfg.API.AuthLockWindow
	rateLimiter := auth.NewRateLimiter(rateLimiterCfg)

	healthConfig := health.DefaultConfig("vod-api", log)
	healthConfig.S3Client = s3Client
	healthConfig.SQSClient = sqsClient
	healthConfig.DB = pool
	if listCache != nil {
		healthConfig.Cache = listCache
	}
	healthConfig.S3Bucket = cfg.AWS.VideoBucket
	healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL
	healthChecker := health.NewChecker(healthConfig)

	handlers := api.NewHandlers(&api.HandlersConfig{
		Config:     cfg,
		Logger:     log,
		Videos:     videoService,
		JWTService: jwtService,
	})

	server, err := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Handlers:      handlers,
		JWTService:    jwtService,
		RateLimiter:   rateLimiter,
		HealthChecker: healthChecker,
	})
	if err != nil {
		log.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}
